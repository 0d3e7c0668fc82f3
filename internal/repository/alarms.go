package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dtu-telemetry/internal/models"

	"go.uber.org/zap"
)

// AlarmRepository 报警记录仓库
// 引擎只调用 CreateAlarm，状态流转与查询供运维侧接口使用
type AlarmRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmRepository 创建报警记录仓库
func NewAlarmRepository(db *sql.DB, logger *zap.Logger) *AlarmRepository {
	return &AlarmRepository{
		db:     db,
		logger: logger,
	}
}

// AlarmFilters 报警查询过滤条件
type AlarmFilters struct {
	MAC       *string
	PID       *int
	RuleID    *string
	Status    *models.AlarmStatus
	Level     *models.AlarmLevel
	StartTime *time.Time // triggered_at >= StartTime
	EndTime   *time.Time // triggered_at <= EndTime

	Limit  int
	Offset int
}

const alarmColumns = `
	id,
	rule_id,
	type,
	level,
	tag,
	mac,
	pid,
	protocol,
	param_name,
	current_value,
	message,
	status,
	ts,
	triggered_at,
	acknowledged_at,
	acknowledged_by,
	resolved_at,
	resolved_by
`

// CreateAlarm 创建报警记录
func (r *AlarmRepository) CreateAlarm(ctx context.Context, alarm *models.Alarm) error {
	if alarm == nil {
		return fmt.Errorf("alarm is required")
	}
	if alarm.ID == "" {
		return fmt.Errorf("alarm id is required")
	}
	if alarm.RuleID == "" {
		return fmt.Errorf("alarm rule_id is required")
	}

	query := `
		INSERT INTO alarms (` + alarmColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.ExecContext(ctx, query,
		alarm.ID,
		alarm.RuleID,
		alarm.Type,
		alarm.Level,
		alarm.Tag,
		alarm.MAC,
		alarm.PID,
		alarm.Protocol,
		alarm.ParamName,
		alarm.CurrentValue,
		alarm.Message,
		alarm.Status,
		alarm.Timestamp,
		alarm.TriggeredAt,
		alarm.AcknowledgedAt,
		alarm.AcknowledgedBy,
		alarm.ResolvedAt,
		alarm.ResolvedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create alarm: %w", err)
	}
	return nil
}

// GetAlarm 按 ID 获取报警
func (r *AlarmRepository) GetAlarm(ctx context.Context, alarmID string) (*models.Alarm, error) {
	if alarmID == "" {
		return nil, fmt.Errorf("alarm id is required")
	}

	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE id = $1`

	alarm, err := scanAlarm(r.db.QueryRowContext(ctx, query, alarmID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alarm not found: id=%s", alarmID)
		}
		return nil, fmt.Errorf("failed to get alarm: %w", err)
	}
	return alarm, nil
}

// AcknowledgeAlarm 确认报警（active → acknowledged）
func (r *AlarmRepository) AcknowledgeAlarm(ctx context.Context, alarmID, acknowledgedBy string) error {
	if alarmID == "" {
		return fmt.Errorf("alarm id is required")
	}
	if acknowledgedBy == "" {
		return fmt.Errorf("acknowledged_by is required")
	}

	query := `
		UPDATE alarms
		SET status = $1,
		    acknowledged_at = CURRENT_TIMESTAMP,
		    acknowledged_by = $2
		WHERE id = $3
		  AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		models.AlarmStatusAcknowledged, acknowledgedBy, alarmID, models.AlarmStatusActive)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alarm: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alarm not found or not active: id=%s", alarmID)
	}
	return nil
}

// ResolveAlarm 解决报警（active/acknowledged → resolved）
func (r *AlarmRepository) ResolveAlarm(ctx context.Context, alarmID, resolvedBy string) error {
	if alarmID == "" {
		return fmt.Errorf("alarm id is required")
	}
	if resolvedBy == "" {
		return fmt.Errorf("resolved_by is required")
	}

	query := `
		UPDATE alarms
		SET status = $1,
		    resolved_at = CURRENT_TIMESTAMP,
		    resolved_by = $2
		WHERE id = $3
		  AND status IN ($4, $5)
	`

	result, err := r.db.ExecContext(ctx, query,
		models.AlarmStatusResolved, resolvedBy, alarmID,
		models.AlarmStatusActive, models.AlarmStatusAcknowledged)
	if err != nil {
		return fmt.Errorf("failed to resolve alarm: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alarm not found or already resolved: id=%s", alarmID)
	}
	return nil
}

// ListAlarms 按过滤条件查询报警
func (r *AlarmRepository) ListAlarms(ctx context.Context, filters AlarmFilters) ([]models.Alarm, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	argN := 1

	if filters.MAC != nil {
		where = append(where, fmt.Sprintf("mac = $%d", argN))
		args = append(args, *filters.MAC)
		argN++
	}
	if filters.PID != nil {
		where = append(where, fmt.Sprintf("pid = $%d", argN))
		args = append(args, *filters.PID)
		argN++
	}
	if filters.RuleID != nil {
		where = append(where, fmt.Sprintf("rule_id = $%d", argN))
		args = append(args, *filters.RuleID)
		argN++
	}
	if filters.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, *filters.Status)
		argN++
	}
	if filters.Level != nil {
		where = append(where, fmt.Sprintf("level = $%d", argN))
		args = append(args, *filters.Level)
		argN++
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("triggered_at >= $%d", argN))
		args = append(args, *filters.StartTime)
		argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("triggered_at <= $%d", argN))
		args = append(args, *filters.EndTime)
		argN++
	}

	query := `SELECT ` + alarmColumns + `
		FROM alarms
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY triggered_at DESC`

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, filters.Limit)
		argN++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, filters.Offset)
		argN++
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarms: %w", err)
	}
	defer rows.Close()

	var alarms []models.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alarm: %w", err)
		}
		alarms = append(alarms, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarms: %w", err)
	}
	return alarms, nil
}

// CountActiveAlarms 活跃报警数量
func (r *AlarmRepository) CountActiveAlarms(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alarms WHERE status = $1`,
		models.AlarmStatusActive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active alarms: %w", err)
	}
	return count, nil
}

// scanAlarm 扫描一行报警，处理可空字段
func scanAlarm(row rowScanner) (*models.Alarm, error) {
	var alarm models.Alarm
	var paramName, acknowledgedBy, resolvedBy sql.NullString
	var acknowledgedAt, resolvedAt sql.NullTime

	err := row.Scan(
		&alarm.ID,
		&alarm.RuleID,
		&alarm.Type,
		&alarm.Level,
		&alarm.Tag,
		&alarm.MAC,
		&alarm.PID,
		&alarm.Protocol,
		&paramName,
		&alarm.CurrentValue,
		&alarm.Message,
		&alarm.Status,
		&alarm.Timestamp,
		&alarm.TriggeredAt,
		&acknowledgedAt,
		&acknowledgedBy,
		&resolvedAt,
		&resolvedBy,
	)
	if err != nil {
		return nil, err
	}

	if paramName.Valid {
		alarm.ParamName = &paramName.String
	}
	if acknowledgedAt.Valid {
		alarm.AcknowledgedAt = &acknowledgedAt.Time
	}
	if acknowledgedBy.Valid {
		alarm.AcknowledgedBy = &acknowledgedBy.String
	}
	if resolvedAt.Valid {
		alarm.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		alarm.ResolvedBy = &resolvedBy.String
	}

	return &alarm, nil
}
