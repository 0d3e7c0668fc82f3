package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"dtu-telemetry/internal/metrics"
	"dtu-telemetry/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlarmStore 报警持久化接口
type AlarmStore interface {
	CreateAlarm(ctx context.Context, alarm *models.Alarm) error
}

// RuleStatStore 规则触发统计持久化接口
type RuleStatStore interface {
	IncrementTriggerStats(ctx context.Context, ruleID string, triggeredAt time.Time) error
}

// AlarmPublisher 新报警的下游投递接口（通知分发由外部消费者完成）
type AlarmPublisher interface {
	PublishAlarm(ctx context.Context, alarm *models.Alarm) error
}

// Engine 报警规则引擎
// 对每条读数在启用规则缓存上做零 I/O 评估，
// 触发去重后持久化报警并更新规则统计
type Engine struct {
	ruleCache *RuleCache
	alarms    AlarmStore
	ruleStats RuleStatStore
	publisher AlarmPublisher // 可为 nil
	logger    *zap.Logger

	// 报警去重：(mac:pid:rule_id) -> 上次触发时间
	dedupMu   sync.Mutex
	lastFired map[string]time.Time

	// custom 规则只告警一次，避免日志风暴
	warnedMu     sync.Mutex
	warnedCustom map[string]struct{}

	now func() time.Time // 可在测试中替换
}

// NewEngine 创建规则引擎
func NewEngine(
	ruleCache *RuleCache,
	alarms AlarmStore,
	ruleStats RuleStatStore,
	publisher AlarmPublisher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		ruleCache:    ruleCache,
		alarms:       alarms,
		ruleStats:    ruleStats,
		publisher:    publisher,
		logger:       logger,
		lastFired:    make(map[string]time.Time),
		warnedCustom: make(map[string]struct{}),
		now:          time.Now,
	}
}

// Evaluate 评估一条读数，返回本轮产生的全部未被抑制的报警
func (e *Engine) Evaluate(ctx context.Context, reading *models.ParsedReading) ([]models.Alarm, error) {
	if reading == nil {
		return nil, fmt.Errorf("reading is required")
	}

	start := e.now()
	defer func() {
		metrics.EvaluationLatency.Observe(time.Since(start).Seconds())
	}()

	var alarms []models.Alarm
	for _, rule := range e.ruleCache.Snapshot() {
		if !rule.Matches(reading.Protocol, reading.PID) {
			continue
		}

		candidate := e.evaluateRule(&rule, reading)
		if candidate == nil {
			continue
		}

		if e.suppressed(&rule, reading) {
			metrics.AlarmsDeduplicated.Inc()
			e.logger.Debug("Alarm deduplicated",
				zap.String("rule_id", rule.ID),
				zap.String("mac", reading.MAC),
				zap.Int("pid", reading.PID),
			)
			continue
		}

		if err := e.emit(ctx, &rule, candidate); err != nil {
			// 持久化失败只记录，继续处理其他规则
			e.logger.Error("Failed to persist alarm",
				zap.String("rule_id", rule.ID),
				zap.String("mac", reading.MAC),
				zap.Error(err),
			)
			continue
		}

		alarms = append(alarms, *candidate)
	}

	return alarms, nil
}

// evaluateRule 按规则类型评估，未触发返回 nil
func (e *Engine) evaluateRule(rule *models.AlarmRule, reading *models.ParsedReading) *models.Alarm {
	switch rule.Type {
	case models.RuleTypeThreshold:
		return e.evaluateThreshold(rule, reading)
	case models.RuleTypeConstant:
		return e.evaluateConstant(rule, reading)
	case models.RuleTypeOffline, models.RuleTypeTimeout:
		// 由独立的存活检测机制处理，此处不评估
		return nil
	case models.RuleTypeCustom:
		e.warnCustomOnce(rule.ID)
		return nil
	default:
		e.logger.Warn("Unknown rule type",
			zap.String("rule_id", rule.ID),
			zap.String("type", string(rule.Type)),
		)
		return nil
	}
}

// evaluateThreshold 阈值评估：值超出 [min, max] 即触发，无迟滞
func (e *Engine) evaluateThreshold(rule *models.AlarmRule, reading *models.ParsedReading) *models.Alarm {
	if rule.ParamName == nil || rule.Threshold == nil {
		return nil
	}

	point := reading.FindDataPoint(*rule.ParamName)
	if point == nil || !point.IsValid {
		return nil
	}

	value, ok := numericValue(point.Value)
	if !ok {
		e.logger.Debug("Threshold rule param is not numeric",
			zap.String("rule_id", rule.ID),
			zap.String("param", *rule.ParamName),
		)
		return nil
	}

	if value >= rule.Threshold.Min && value <= rule.Threshold.Max {
		return nil
	}

	message := fmt.Sprintf("%s=%s out of range [%s, %s]",
		*rule.ParamName,
		formatFloat(value),
		formatFloat(rule.Threshold.Min),
		formatFloat(rule.Threshold.Max),
	)
	return e.buildAlarm(rule, reading, formatFloat(value), message)
}

// evaluateConstant 常量评估：值不在正常值白名单内即触发
func (e *Engine) evaluateConstant(rule *models.AlarmRule, reading *models.ParsedReading) *models.Alarm {
	if rule.ParamName == nil || rule.Constant == nil {
		return nil
	}

	point := reading.FindDataPoint(*rule.ParamName)
	if point == nil || !point.IsValid {
		return nil
	}

	display := displayValue(point.Value)
	for _, allowed := range rule.Constant.AllowedValues {
		if display == allowed {
			return nil
		}
	}

	message := fmt.Sprintf("%s=%s is not an allowed value", *rule.ParamName, display)
	return e.buildAlarm(rule, reading, display, message)
}

// suppressed 判断并记录报警去重窗口
// 窗口内已触发过则抑制，否则记录本次触发时间
func (e *Engine) suppressed(rule *models.AlarmRule, reading *models.ParsedReading) bool {
	key := fmt.Sprintf("%s:%s", reading.DeviceKey(), rule.ID)
	now := e.now()

	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()

	if last, ok := e.lastFired[key]; ok && now.Sub(last) <= rule.DedupWindow() {
		return true
	}
	e.lastFired[key] = now
	return false
}

// emit 持久化报警并更新规则统计
func (e *Engine) emit(ctx context.Context, rule *models.AlarmRule, alarm *models.Alarm) error {
	if err := e.alarms.CreateAlarm(ctx, alarm); err != nil {
		return fmt.Errorf("failed to create alarm: %w", err)
	}

	if err := e.ruleStats.IncrementTriggerStats(ctx, rule.ID, alarm.TriggeredAt); err != nil {
		// 统计失败不影响已持久化的报警
		e.logger.Error("Failed to update rule trigger stats",
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
	}
	e.ruleCache.RecordTrigger(rule.ID, alarm.TriggeredAt)

	metrics.AlarmsTriggered.WithLabelValues(string(alarm.Type), string(alarm.Level)).Inc()

	if e.publisher != nil {
		if err := e.publisher.PublishAlarm(ctx, alarm); err != nil {
			// 投递是尽力而为的交接点，失败不回滚
			e.logger.Error("Failed to publish alarm",
				zap.String("alarm_id", alarm.ID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("Alarm triggered",
		zap.String("alarm_id", alarm.ID),
		zap.String("rule_id", rule.ID),
		zap.String("type", string(alarm.Type)),
		zap.String("level", string(alarm.Level)),
		zap.String("mac", alarm.MAC),
		zap.Int("pid", alarm.PID),
		zap.String("current_value", alarm.CurrentValue),
	)

	return nil
}

// buildAlarm 构建 active 状态的报警记录
func (e *Engine) buildAlarm(rule *models.AlarmRule, reading *models.ParsedReading, currentValue, message string) *models.Alarm {
	return &models.Alarm{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		Type:         rule.Type,
		Level:        rule.Level,
		Tag:          rule.Name,
		MAC:          reading.MAC,
		PID:          reading.PID,
		Protocol:     reading.Protocol,
		ParamName:    rule.ParamName,
		CurrentValue: currentValue,
		Message:      message,
		Status:       models.AlarmStatusActive,
		Timestamp:    reading.Timestamp,
		TriggeredAt:  e.now(),
	}
}

// warnCustomOnce custom 规则未实现，按规则只告警一次
func (e *Engine) warnCustomOnce(ruleID string) {
	e.warnedMu.Lock()
	defer e.warnedMu.Unlock()

	if _, warned := e.warnedCustom[ruleID]; warned {
		return
	}
	e.warnedCustom[ruleID] = struct{}{}
	e.logger.Warn("Custom rule type is not implemented, rule produces no result",
		zap.String("rule_id", ruleID),
	)
}

// numericValue 将数据点值转换为 float64
func numericValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// displayValue 数据点值的展示形式
func displayValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatFloat 去掉多余小数位的数值格式化
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
