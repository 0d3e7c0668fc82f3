package gate

import (
	"sync"
	"time"

	"dtu-telemetry/internal/metrics"

	"go.uber.org/zap"
)

// Gate 按设备键的去重隔离门
// 一个键在处理期间及其后的隔离窗口内只允许一次在途处理，
// 重复提交被丢弃而非排队
type Gate struct {
	mu         sync.Mutex
	inflight   map[string]*time.Timer // 值为 nil 表示处理中，未进入隔离期
	quarantine time.Duration
	logger     *zap.Logger
}

// DefaultQuarantine 默认隔离窗口
const DefaultQuarantine = 10 * time.Second

// NewGate 创建隔离门
func NewGate(quarantine time.Duration, logger *zap.Logger) *Gate {
	if quarantine <= 0 {
		quarantine = DefaultQuarantine
	}
	return &Gate{
		inflight:   make(map[string]*time.Timer),
		quarantine: quarantine,
		logger:     logger,
	}
}

// TryAcquire 注册键，键已存在时返回 false
func (g *Gate) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.inflight[key]; exists {
		return false
	}
	g.inflight[key] = nil
	metrics.InflightKeys.Set(float64(len(g.inflight)))
	return true
}

// ScheduleRelease 在隔离窗口后移除键
// 处理完成后调用（无论成功或失败），定时器只触发一次；
// 键已进入隔离期时旧定时器被替换
func (g *Gate) ScheduleRelease(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.inflight[key]; !exists {
		return
	}
	if old := g.inflight[key]; old != nil {
		old.Stop()
	}
	g.inflight[key] = time.AfterFunc(g.quarantine, func() {
		g.Remove(key)
	})
}

// Remove 立即移除键并取消其定时器
func (g *Gate) Remove(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timer, exists := g.inflight[key]
	if !exists {
		return
	}
	if timer != nil {
		timer.Stop()
	}
	delete(g.inflight, key)
	metrics.InflightKeys.Set(float64(len(g.inflight)))

	g.logger.Debug("Dedup key released",
		zap.String("key", key),
	)
}

// Size 当前在途键数量
func (g *Gate) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
