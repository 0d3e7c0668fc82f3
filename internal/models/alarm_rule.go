package models

import (
	"time"
)

// RuleType 报警规则类型
type RuleType string

const (
	RuleTypeThreshold RuleType = "threshold" // 阈值规则（min/max 范围）
	RuleTypeConstant  RuleType = "constant"  // 常量规则（正常值白名单）
	RuleTypeOffline   RuleType = "offline"   // 离线规则（由独立存活检测处理）
	RuleTypeTimeout   RuleType = "timeout"   // 超时规则（由独立存活检测处理）
	RuleTypeCustom    RuleType = "custom"    // 自定义脚本规则（未实现）
)

// AlarmLevel 报警级别
type AlarmLevel string

const (
	AlarmLevelCritical AlarmLevel = "critical"
	AlarmLevelError    AlarmLevel = "error"
	AlarmLevelWarning  AlarmLevel = "warning"
	AlarmLevelInfo     AlarmLevel = "info"
)

// ThresholdConfig 阈值规则配置（存储为 JSONB）
type ThresholdConfig struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ConstantConfig 常量规则配置（存储为 JSONB）
// AllowedValues 是"正常值"白名单，不在其中即触发报警
type ConstantConfig struct {
	AllowedValues []string `json:"allowed_values"`
}

// AlarmRule 报警规则（对应 alarm_rules 表）
// Protocol/PID 为空时匹配任意设备，设置后收窄匹配范围
type AlarmRule struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Type      RuleType   `json:"type" db:"type"`
	Level     AlarmLevel `json:"level" db:"level"`
	Protocol  *string    `json:"protocol,omitempty" db:"protocol"`
	PID       *int       `json:"pid,omitempty" db:"pid"`
	ParamName *string    `json:"param_name,omitempty" db:"param_name"`

	Threshold *ThresholdConfig `json:"threshold,omitempty" db:"threshold"`
	Constant  *ConstantConfig  `json:"constant,omitempty" db:"constant"`

	Enabled                    bool `json:"enabled" db:"enabled"`
	DeduplicationWindowSeconds int  `json:"deduplication_window_seconds" db:"dedup_window_seconds"`

	TriggerCount    int64      `json:"trigger_count" db:"trigger_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Matches 判断规则是否适用于指定协议和子设备
func (r *AlarmRule) Matches(protocol string, pid int) bool {
	if r.Protocol != nil && *r.Protocol != protocol {
		return false
	}
	if r.PID != nil && *r.PID != pid {
		return false
	}
	return true
}

// DedupWindow 去重窗口时长
func (r *AlarmRule) DedupWindow() time.Duration {
	return time.Duration(r.DeduplicationWindowSeconds) * time.Second
}
