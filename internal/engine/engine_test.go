package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"dtu-telemetry/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAlarmStore 仅用于单元测试的内存报警存储
type fakeAlarmStore struct {
	mu      sync.Mutex
	alarms  []models.Alarm
	failAll bool
}

func (f *fakeAlarmStore) CreateAlarm(ctx context.Context, alarm *models.Alarm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("store unavailable")
	}
	f.alarms = append(f.alarms, *alarm)
	return nil
}

func (f *fakeAlarmStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alarms)
}

// fakeRuleStatStore 记录触发统计调用
type fakeRuleStatStore struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeRuleStatStore) IncrementTriggerStats(ctx context.Context, ruleID string, triggeredAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[ruleID]++
	return nil
}

func newTestEngine(t *testing.T, rules ...models.AlarmRule) (*Engine, *fakeAlarmStore, *fakeRuleStatStore, *time.Time) {
	t.Helper()

	cache := NewRuleCache()
	cache.ReplaceAll(rules)

	alarms := &fakeAlarmStore{}
	stats := &fakeRuleStatStore{}
	e := NewEngine(cache, alarms, stats, nil, zap.NewNop())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, alarms, stats, &now
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func thresholdRule(id string, min, max float64) models.AlarmRule {
	return models.AlarmRule{
		ID:                         id,
		Name:                       "温度越限",
		Type:                       models.RuleTypeThreshold,
		Level:                      models.AlarmLevelWarning,
		ParamName:                  strPtr("temp"),
		Threshold:                  &models.ThresholdConfig{Min: min, Max: max},
		Enabled:                    true,
		DeduplicationWindowSeconds: 300,
	}
}

func reading(points ...models.DataPoint) *models.ParsedReading {
	return &models.ParsedReading{
		MAC:        "00:1a:2b:3c:4d:5e",
		PID:        1,
		Protocol:   "modbus-rtu",
		DataPoints: points,
		Timestamp:  1772366400000,
	}
}

func TestEngine_Threshold_OutOfRange(t *testing.T) {
	e, store, stats, _ := newTestEngine(t, thresholdRule("rule-1", 0, 80))

	alarms, err := e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "temp", Value: 85.0, IsValid: true}))

	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "rule-1", alarms[0].RuleID)
	assert.Equal(t, "85", alarms[0].CurrentValue)
	assert.Equal(t, models.AlarmStatusActive, alarms[0].Status)
	assert.Equal(t, "00:1a:2b:3c:4d:5e", alarms[0].MAC)
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 1, stats.calls["rule-1"])
}

func TestEngine_Threshold_InRange(t *testing.T) {
	e, store, _, _ := newTestEngine(t, thresholdRule("rule-1", 0, 80))

	alarms, err := e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "temp", Value: 50.0, IsValid: true}))

	require.NoError(t, err)
	assert.Empty(t, alarms)
	assert.Equal(t, 0, store.count())
}

func TestEngine_Threshold_BelowMin(t *testing.T) {
	e, _, _, _ := newTestEngine(t, thresholdRule("rule-1", 0, 80))

	alarms, err := e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "temp", Value: -3.5, IsValid: true}))

	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "-3.5", alarms[0].CurrentValue)
}

func TestEngine_Threshold_MissingOrInvalidPoint(t *testing.T) {
	e, _, _, _ := newTestEngine(t, thresholdRule("rule-1", 0, 80))

	// 参数缺失
	alarms, err := e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "humidity", Value: 99.0, IsValid: true}))
	require.NoError(t, err)
	assert.Empty(t, alarms)

	// 参数标记为无效
	alarms, err = e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "temp", Value: 99.0, IsValid: false}))
	require.NoError(t, err)
	assert.Empty(t, alarms)

	// 参数非数值
	alarms, err = e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "temp", Value: []int{1}, IsValid: true}))
	require.NoError(t, err)
	assert.Empty(t, alarms)
}

func TestEngine_Constant_AllowList(t *testing.T) {
	rule := models.AlarmRule{
		ID:        "rule-c",
		Name:      "状态异常",
		Type:      models.RuleTypeConstant,
		Level:     models.AlarmLevelError,
		ParamName: strPtr("status"),
		Constant:  &models.ConstantConfig{AllowedValues: []string{"OK", "IDLE"}},
		Enabled:   true,
	}
	e, store, _, _ := newTestEngine(t, rule)

	// 白名单之外触发
	alarms, err := e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "status", Value: "FAULT", IsValid: true}))
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "FAULT", alarms[0].CurrentValue)

	// 白名单之内不触发
	alarms, err = e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "status", Value: "OK", IsValid: true}))
	require.NoError(t, err)
	assert.Empty(t, alarms)
	assert.Equal(t, 1, store.count())
}

func TestEngine_DeduplicationWindow(t *testing.T) {
	e, store, _, now := newTestEngine(t, thresholdRule("rule-1", 0, 80))
	point := models.DataPoint{Name: "temp", Value: 90.0, IsValid: true}

	alarms, err := e.Evaluate(context.Background(), reading(point))
	require.NoError(t, err)
	require.Len(t, alarms, 1)

	// 10 秒后再次越限：窗口内被抑制
	*now = now.Add(10 * time.Second)
	alarms, err = e.Evaluate(context.Background(), reading(point))
	require.NoError(t, err)
	assert.Empty(t, alarms)
	assert.Equal(t, 1, store.count())

	// 301 秒后（相对上次触发）：窗口外再次触发
	*now = now.Add(301 * time.Second)
	alarms, err = e.Evaluate(context.Background(), reading(point))
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, 2, store.count())
}

func TestEngine_Dedup_IndependentPerDevice(t *testing.T) {
	e, store, _, _ := newTestEngine(t, thresholdRule("rule-1", 0, 80))
	point := models.DataPoint{Name: "temp", Value: 90.0, IsValid: true}

	r1 := reading(point)
	r2 := reading(point)
	r2.PID = 2

	_, err := e.Evaluate(context.Background(), r1)
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), r2)
	require.NoError(t, err)

	// 不同 (mac, pid) 互不抑制
	assert.Equal(t, 2, store.count())
}

func TestEngine_ProtocolAndPIDFiltering(t *testing.T) {
	matching := thresholdRule("rule-any", 0, 80)

	narrowed := thresholdRule("rule-narrow", 0, 80)
	narrowed.Protocol = strPtr("dlt645")

	pidNarrowed := thresholdRule("rule-pid", 0, 80)
	pidNarrowed.PID = intPtr(7)

	e, store, _, _ := newTestEngine(t, matching, narrowed, pidNarrowed)

	alarms, err := e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "temp", Value: 90.0, IsValid: true}))

	require.NoError(t, err)
	// 只有不限定协议/PID 的规则命中
	require.Len(t, alarms, 1)
	assert.Equal(t, "rule-any", alarms[0].RuleID)
	assert.Equal(t, 1, store.count())
}

func TestEngine_InertRuleTypes(t *testing.T) {
	offline := models.AlarmRule{
		ID: "rule-off", Name: "离线", Type: models.RuleTypeOffline,
		Level: models.AlarmLevelWarning, Enabled: true,
	}
	custom := models.AlarmRule{
		ID: "rule-cu", Name: "自定义", Type: models.RuleTypeCustom,
		Level: models.AlarmLevelWarning, Enabled: true,
	}
	e, store, _, _ := newTestEngine(t, offline, custom)

	alarms, err := e.Evaluate(context.Background(),
		reading(models.DataPoint{Name: "temp", Value: 90.0, IsValid: true}))

	require.NoError(t, err)
	assert.Empty(t, alarms)
	assert.Equal(t, 0, store.count())

	// custom 的未实现告警只记录一次
	e.warnCustomOnce("rule-cu")
	e.warnCustomOnce("rule-cu")
	assert.Len(t, e.warnedCustom, 1)
}

func TestEngine_PersistFailure_ContinuesOtherRules(t *testing.T) {
	humidity := thresholdRule("rule-2", 0, 60)
	humidity.ParamName = strPtr("humidity")

	e, store, _, _ := newTestEngine(t, thresholdRule("rule-1", 0, 80), humidity)
	store.failAll = true

	alarms, err := e.Evaluate(context.Background(), reading(
		models.DataPoint{Name: "temp", Value: 90.0, IsValid: true},
		models.DataPoint{Name: "humidity", Value: 95.0, IsValid: true},
	))

	// 持久化失败不向上传播，返回空结果
	require.NoError(t, err)
	assert.Empty(t, alarms)
}
