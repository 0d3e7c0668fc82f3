package ingest

import (
	"context"
	"fmt"

	"dtu-telemetry/internal/cache"
	"dtu-telemetry/internal/gate"
	"dtu-telemetry/internal/metrics"
	"dtu-telemetry/internal/models"

	"go.uber.org/zap"
)

// Status 提交结果状态
type Status string

const (
	StatusOK    Status = "ok"    // 已受理，处理异步进行
	StatusSkip  Status = "skip"  // 同键处理中，重复提交被丢弃
	StatusError Status = "error" // 输入校验失败
)

// Result 提交结果
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Evaluator 报警评估器接口
type Evaluator interface {
	Evaluate(ctx context.Context, reading *models.ParsedReading) ([]models.Alarm, error)
}

// Ingestor 遥测接入前门
// Submit 在同步路径上只做校验和去重判定，毫秒级返回；
// 缓存刷新与规则评估在分离的任务中完成，失败只记日志
type Ingestor struct {
	gate      *gate.Gate
	cache     *cache.StateCache
	evaluator Evaluator
	logger    *zap.Logger

	// 需要周期性重验证的协议族归入 online-variant-protocol 类别
	variantProtocols map[string]struct{}
}

// NewIngestor 创建接入前门
func NewIngestor(
	g *gate.Gate,
	stateCache *cache.StateCache,
	evaluator Evaluator,
	variantProtocols []string,
	logger *zap.Logger,
) *Ingestor {
	variants := make(map[string]struct{}, len(variantProtocols))
	for _, p := range variantProtocols {
		variants[p] = struct{}{}
	}

	return &Ingestor{
		gate:             g,
		cache:            stateCache,
		evaluator:        evaluator,
		logger:           logger,
		variantProtocols: variants,
	}
}

// Submit 受理一次遥测提交
// 返回后处理仍在进行；处理结果不回传调用方
func (i *Ingestor) Submit(reading *models.ParsedReading) Result {
	if err := validateReading(reading); err != nil {
		metrics.ReadingsSubmitted.WithLabelValues(string(StatusError)).Inc()
		return Result{Status: StatusError, Message: err.Error()}
	}

	key := reading.DeviceKey()
	if !i.gate.TryAcquire(key) {
		metrics.ReadingsSubmitted.WithLabelValues(string(StatusSkip)).Inc()
		i.logger.Debug("Duplicate submission dropped",
			zap.String("key", key),
		)
		return Result{Status: StatusSkip, Message: "processing in progress"}
	}

	i.detach("process-reading", key, func(ctx context.Context) error {
		return i.process(ctx, reading)
	})

	metrics.ReadingsSubmitted.WithLabelValues(string(StatusOK)).Inc()
	return Result{Status: StatusOK}
}

// InflightCount 当前在途设备键数量（供健康检查轮询）
func (i *Ingestor) InflightCount() int {
	return i.gate.Size()
}

// detach 分离执行任务并吞掉其结果，只保留日志
// 无论成功、失败还是 panic，完成后都会安排隔离期释放去重键
func (i *Ingestor) detach(name, key string, fn func(ctx context.Context) error) {
	go func() {
		defer i.gate.ScheduleRelease(key)
		defer func() {
			if r := recover(); r != nil {
				metrics.ProcessingFailures.Inc()
				i.logger.Error("Detached task panicked",
					zap.String("task", name),
					zap.String("key", key),
					zap.Any("panic", r),
				)
			}
		}()

		if err := fn(context.Background()); err != nil {
			metrics.ProcessingFailures.Inc()
			i.logger.Error("Detached task failed",
				zap.String("task", name),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()
}

// process 后台处理：刷新状态缓存并评估报警
func (i *Ingestor) process(ctx context.Context, reading *models.ParsedReading) error {
	i.cache.Upsert(reading.DeviceKey(), reading, i.categorize(reading))

	alarms, err := i.evaluator.Evaluate(ctx, reading)
	if err != nil {
		return fmt.Errorf("failed to evaluate reading: %w", err)
	}

	if len(alarms) > 0 {
		i.logger.Info("Reading processed with alarms",
			zap.String("key", reading.DeviceKey()),
			zap.Int("alarm_count", len(alarms)),
		)
	}
	return nil
}

// categorize 上报中的设备必然在线，按协议族归类
func (i *Ingestor) categorize(reading *models.ParsedReading) cache.Category {
	if _, ok := i.variantProtocols[reading.Protocol]; ok {
		return cache.CategoryOnlineVariant
	}
	return cache.CategoryOnlineStandard
}

// validateReading 同步的输入形状校验
func validateReading(reading *models.ParsedReading) error {
	if reading == nil {
		return fmt.Errorf("reading is required")
	}
	if reading.MAC == "" {
		return fmt.Errorf("mac is required")
	}
	if reading.PID <= 0 {
		return fmt.Errorf("pid must be positive")
	}
	if reading.Protocol == "" {
		return fmt.Errorf("protocol is required")
	}
	if reading.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	for _, point := range reading.DataPoints {
		if point.Name == "" {
			return fmt.Errorf("data point name is required")
		}
	}
	return nil
}
