package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsSubmitted 接入结果计数（按状态分类）
	ReadingsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_readings_submitted_total",
			Help: "Total number of telemetry submissions by result status",
		},
		[]string{"status"},
	)

	// InflightKeys 当前隔离门中的在途设备键数量
	InflightKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_inflight_keys",
			Help: "Number of device keys currently held by the dedup gate",
		},
	)

	// ProcessingFailures 后台处理失败计数
	ProcessingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_processing_failures_total",
			Help: "Total number of detached processing task failures",
		},
	)

	// CacheEntries 状态缓存条目数（按类别分类）
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "state_cache_entries",
			Help: "Number of entries in the state cache by category",
		},
		[]string{"category"},
	)

	// CacheHitRate 状态缓存命中率
	CacheHitRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "state_cache_hit_rate",
			Help: "State cache hit rate (percentage)",
		},
	)

	// CacheEvictions 状态缓存驱逐计数
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "state_cache_evictions_total",
			Help: "Total number of state cache evictions",
		},
	)

	// AlarmsTriggered 触发的报警计数（按规则类型和级别分类）
	AlarmsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarms_triggered_total",
			Help: "Total number of alarms triggered by rule type and level",
		},
		[]string{"type", "level"},
	)

	// AlarmsDeduplicated 去重窗口内被抑制的报警计数
	AlarmsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alarms_deduplicated_total",
			Help: "Total number of alarms suppressed by the deduplication window",
		},
	)

	// EvaluationLatency 规则评估耗时
	EvaluationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rule_evaluation_latency_seconds",
			Help:    "Rule evaluation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)
