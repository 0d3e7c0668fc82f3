package models

import (
	"time"
)

// AlarmStatus 报警状态
type AlarmStatus string

const (
	AlarmStatusActive       AlarmStatus = "active"        // 活跃
	AlarmStatusAcknowledged AlarmStatus = "acknowledged"  // 已确认
	AlarmStatusResolved     AlarmStatus = "resolved"      // 已解决
	AlarmStatusAutoResolved AlarmStatus = "auto_resolved" // 自动解决
)

// Alarm 报警记录（对应 alarms 表）
// 引擎只负责创建，后续状态流转由运维侧接口完成
type Alarm struct {
	ID       string     `json:"id" db:"id"`
	RuleID   string     `json:"rule_id" db:"rule_id"`
	Type     RuleType   `json:"type" db:"type"`
	Level    AlarmLevel `json:"level" db:"level"`
	Tag      string     `json:"tag" db:"tag"` // 展示用标签，如 "温度越限"
	MAC      string     `json:"mac" db:"mac"`
	PID      int        `json:"pid" db:"pid"`
	Protocol string     `json:"protocol" db:"protocol"`

	ParamName    *string `json:"param_name,omitempty" db:"param_name"`
	CurrentValue string  `json:"current_value" db:"current_value"`
	Message      string  `json:"message" db:"message"`

	Status    AlarmStatus `json:"status" db:"status"`
	Timestamp int64       `json:"timestamp" db:"timestamp"` // 触发读数的时间戳（毫秒）

	TriggeredAt    time.Time  `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy     *string    `json:"resolved_by,omitempty" db:"resolved_by"`
}
