package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dtu-telemetry/internal/engine"
	"dtu-telemetry/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AlarmRuleRepository 报警规则仓库
type AlarmRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmRuleRepository 创建报警规则仓库
func NewAlarmRuleRepository(db *sql.DB, logger *zap.Logger) *AlarmRuleRepository {
	return &AlarmRuleRepository{
		db:     db,
		logger: logger,
	}
}

const alarmRuleColumns = `
	id,
	name,
	type,
	level,
	protocol,
	pid,
	param_name,
	threshold,
	constant,
	enabled,
	dedup_window_seconds,
	trigger_count,
	last_triggered_at,
	created_at,
	updated_at
`

// CreateAlarmRule 创建规则
func (r *AlarmRuleRepository) CreateAlarmRule(ctx context.Context, rule *models.AlarmRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}

	threshold, constant, err := marshalRuleConfigs(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alarm_rules (` + alarmRuleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Type,
		rule.Level,
		rule.Protocol,
		rule.PID,
		rule.ParamName,
		threshold,
		constant,
		rule.Enabled,
		rule.DeduplicationWindowSeconds,
		rule.TriggerCount,
		rule.LastTriggeredAt,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alarm rule: %w", err)
	}
	return nil
}

// UpdateAlarmRule 更新规则（触发统计字段不在此路径更新）
func (r *AlarmRuleRepository) UpdateAlarmRule(ctx context.Context, rule *models.AlarmRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}

	threshold, constant, err := marshalRuleConfigs(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE alarm_rules
		SET name = $1,
		    type = $2,
		    level = $3,
		    protocol = $4,
		    pid = $5,
		    param_name = $6,
		    threshold = $7,
		    constant = $8,
		    enabled = $9,
		    dedup_window_seconds = $10,
		    updated_at = $11
		WHERE id = $12
	`

	result, err := r.db.ExecContext(ctx, query,
		rule.Name,
		rule.Type,
		rule.Level,
		rule.Protocol,
		rule.PID,
		rule.ParamName,
		threshold,
		constant,
		rule.Enabled,
		rule.DeduplicationWindowSeconds,
		rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alarm rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alarm rule not found: id=%s", rule.ID)
	}
	return nil
}

// DeleteAlarmRule 删除规则
func (r *AlarmRuleRepository) DeleteAlarmRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return fmt.Errorf("rule id is required")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM alarm_rules WHERE id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete alarm rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alarm rule not found: id=%s", ruleID)
	}
	return nil
}

// GetAlarmRule 按 ID 获取规则
func (r *AlarmRuleRepository) GetAlarmRule(ctx context.Context, ruleID string) (*models.AlarmRule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	query := `SELECT ` + alarmRuleColumns + ` FROM alarm_rules WHERE id = $1`

	rule, err := scanAlarmRule(r.db.QueryRowContext(ctx, query, ruleID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alarm rule not found: id=%s", ruleID)
		}
		return nil, fmt.Errorf("failed to get alarm rule: %w", err)
	}
	return rule, nil
}

// ListAlarmRules 按过滤条件查询规则
func (r *AlarmRuleRepository) ListAlarmRules(ctx context.Context, filters engine.RuleFilters) ([]models.AlarmRule, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	argN := 1

	if filters.Type != nil {
		where = append(where, fmt.Sprintf("type = $%d", argN))
		args = append(args, *filters.Type)
		argN++
	}
	if filters.Level != nil {
		where = append(where, fmt.Sprintf("level = $%d", argN))
		args = append(args, *filters.Level)
		argN++
	}
	if filters.Enabled != nil {
		where = append(where, fmt.Sprintf("enabled = $%d", argN))
		args = append(args, *filters.Enabled)
		argN++
	}
	if filters.Protocol != nil {
		where = append(where, fmt.Sprintf("protocol = $%d", argN))
		args = append(args, *filters.Protocol)
		argN++
	}

	query := `SELECT ` + alarmRuleColumns + `
		FROM alarm_rules
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarm rules: %w", err)
	}
	defer rows.Close()

	var rules []models.AlarmRule
	for rows.Next() {
		rule, err := scanAlarmRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alarm rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarm rules: %w", err)
	}
	return rules, nil
}

// ListEnabledAlarmRules 查询全部启用规则（规则缓存刷新路径）
func (r *AlarmRuleRepository) ListEnabledAlarmRules(ctx context.Context) ([]models.AlarmRule, error) {
	enabled := true
	return r.ListAlarmRules(ctx, engine.RuleFilters{Enabled: &enabled})
}

// SetRulesEnabled 批量启用/禁用
func (r *AlarmRuleRepository) SetRulesEnabled(ctx context.Context, ruleIDs []string, enabled bool) error {
	if len(ruleIDs) == 0 {
		return fmt.Errorf("rule ids are required")
	}

	query := `
		UPDATE alarm_rules
		SET enabled = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ANY($2)
	`

	_, err := r.db.ExecContext(ctx, query, enabled, pq.Array(ruleIDs))
	if err != nil {
		return fmt.Errorf("failed to set rules enabled: %w", err)
	}
	return nil
}

// IncrementTriggerStats 触发后累加统计
func (r *AlarmRuleRepository) IncrementTriggerStats(ctx context.Context, ruleID string, triggeredAt time.Time) error {
	if ruleID == "" {
		return fmt.Errorf("rule id is required")
	}

	query := `
		UPDATE alarm_rules
		SET trigger_count = trigger_count + 1,
		    last_triggered_at = $1
		WHERE id = $2
	`

	_, err := r.db.ExecContext(ctx, query, triggeredAt, ruleID)
	if err != nil {
		return fmt.Errorf("failed to increment trigger stats: %w", err)
	}
	return nil
}

// rowScanner QueryRow/Rows 的公共扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAlarmRule 扫描一行规则，处理可空字段与 JSONB 配置
func scanAlarmRule(row rowScanner) (*models.AlarmRule, error) {
	var rule models.AlarmRule
	var protocol, paramName sql.NullString
	var pid sql.NullInt64
	var threshold, constant []byte
	var lastTriggeredAt sql.NullTime

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Type,
		&rule.Level,
		&protocol,
		&pid,
		&paramName,
		&threshold,
		&constant,
		&rule.Enabled,
		&rule.DeduplicationWindowSeconds,
		&rule.TriggerCount,
		&lastTriggeredAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if protocol.Valid {
		rule.Protocol = &protocol.String
	}
	if pid.Valid {
		p := int(pid.Int64)
		rule.PID = &p
	}
	if paramName.Valid {
		rule.ParamName = &paramName.String
	}
	if lastTriggeredAt.Valid {
		rule.LastTriggeredAt = &lastTriggeredAt.Time
	}

	if len(threshold) > 0 {
		var cfg models.ThresholdConfig
		if err := json.Unmarshal(threshold, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal threshold config: %w", err)
		}
		rule.Threshold = &cfg
	}
	if len(constant) > 0 {
		var cfg models.ConstantConfig
		if err := json.Unmarshal(constant, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal constant config: %w", err)
		}
		rule.Constant = &cfg
	}

	return &rule, nil
}

// marshalRuleConfigs 序列化规则的 JSONB 配置字段
func marshalRuleConfigs(rule *models.AlarmRule) ([]byte, []byte, error) {
	var threshold, constant []byte
	var err error

	if rule.Threshold != nil {
		threshold, err = json.Marshal(rule.Threshold)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal threshold config: %w", err)
		}
	}
	if rule.Constant != nil {
		constant, err = json.Marshal(rule.Constant)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal constant config: %w", err)
		}
	}
	return threshold, constant, nil
}
