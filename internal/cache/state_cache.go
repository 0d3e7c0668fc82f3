package cache

import (
	"sync"
	"time"

	"dtu-telemetry/internal/metrics"

	"go.uber.org/zap"
)

// Category 缓存条目类别，决定条目的过期策略
type Category string

const (
	// CategoryOnlineStandard 标准协议在线设备，设备在线期间不过期
	CategoryOnlineStandard Category = "online-standard"
	// CategoryOnlineVariant 变体协议在线设备，需周期性重验证，短 TTL
	CategoryOnlineVariant Category = "online-variant-protocol"
	// CategoryOfflineHot 近期离线设备，中等 TTL
	CategoryOfflineHot Category = "offline-hot"
	// CategoryOfflineCold 长期离线设备，短 TTL
	CategoryOfflineCold Category = "offline-cold"
)

// Entry 缓存条目
type Entry struct {
	Key            string      `json:"key"`
	Payload        interface{} `json:"payload"`
	Category       Category    `json:"category"`
	CreatedAt      time.Time   `json:"created_at"`
	LastAccessedAt time.Time   `json:"last_accessed_at"`
	AccessCount    int64       `json:"access_count"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"` // online-standard 为 nil
}

// Stats 缓存统计快照
// Hits/Misses/Evictions 为进程生命周期内的累计值，Clear 不会重置
type Stats struct {
	Total          int              `json:"total"`
	MaxSize        int              `json:"max_size"`
	Breakdown      map[Category]int `json:"breakdown"`
	Hits           uint64           `json:"hits"`
	Misses         uint64           `json:"misses"`
	Evictions      uint64           `json:"evictions"`
	HitRate        float64          `json:"hit_rate"` // 百分比
	AvgAccessCount float64          `json:"avg_access_count"`
	OldestEntry    *time.Time       `json:"oldest_entry,omitempty"`
	NewestEntry    *time.Time       `json:"newest_entry,omitempty"`
}

// Options 缓存配置
type Options struct {
	MaxSize          int
	OnlineVariantTTL time.Duration
	OfflineHotTTL    time.Duration
	OfflineColdTTL   time.Duration
}

const (
	defaultMaxSize          = 1000
	defaultOnlineVariantTTL = 10 * time.Minute
	defaultOfflineHotTTL    = 30 * time.Minute
	defaultOfflineColdTTL   = 5 * time.Minute
)

// StateCache 终端/设备状态的分层缓存
// 所有访问都在互斥锁内完成，可被多个接入任务并发使用
type StateCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	maxSize int
	ttls    map[Category]time.Duration

	hits      uint64
	misses    uint64
	evictions uint64

	logger *zap.Logger
	now    func() time.Time // 可在测试中替换
}

// NewStateCache 创建状态缓存
func NewStateCache(opts Options, logger *zap.Logger) *StateCache {
	if opts.MaxSize <= 0 {
		opts.MaxSize = defaultMaxSize
	}
	if opts.OnlineVariantTTL <= 0 {
		opts.OnlineVariantTTL = defaultOnlineVariantTTL
	}
	if opts.OfflineHotTTL <= 0 {
		opts.OfflineHotTTL = defaultOfflineHotTTL
	}
	if opts.OfflineColdTTL <= 0 {
		opts.OfflineColdTTL = defaultOfflineColdTTL
	}

	return &StateCache{
		entries: make(map[string]*Entry),
		maxSize: opts.MaxSize,
		ttls: map[Category]time.Duration{
			CategoryOnlineStandard: 0, // 不过期
			CategoryOnlineVariant:  opts.OnlineVariantTTL,
			CategoryOfflineHot:     opts.OfflineHotTTL,
			CategoryOfflineCold:    opts.OfflineColdTTL,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Get 读取条目
// 已过期的条目按未命中处理并被移除；命中会刷新访问时间和访问计数
func (c *StateCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		c.updateMetricsLocked()
		return Entry{}, false
	}

	if entry.ExpiresAt != nil && !now.Before(*entry.ExpiresAt) {
		delete(c.entries, key)
		c.misses++
		c.evictions++
		metrics.CacheEvictions.Inc()
		c.logger.Debug("Cache entry expired on access",
			zap.String("key", key),
			zap.String("category", string(entry.Category)),
		)
		c.updateMetricsLocked()
		return Entry{}, false
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	c.hits++
	c.updateMetricsLocked()

	return *entry, true
}

// Upsert 创建或刷新条目
// 类别变更会按新类别的策略重新归档并重置条目时钟；
// 超出容量时先驱逐再插入，驱逐永远成功
func (c *StateCache) Upsert(key string, payload interface{}, category Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	existing, ok := c.entries[key]
	if !ok && len(c.entries) >= c.maxSize {
		c.reapExpiredLocked(now)
		for len(c.entries) >= c.maxSize {
			c.evictOneLocked(now)
		}
	}

	entry := &Entry{
		Key:            key,
		Payload:        payload,
		Category:       category,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      c.expiryFor(category, now),
	}
	if ok {
		// 刷新保留访问计数，时钟重置
		entry.AccessCount = existing.AccessCount
	}
	c.entries[key] = entry
	c.updateMetricsLocked()
}

// Invalidate 无条件移除一个条目
func (c *StateCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.updateMetricsLocked()
	return true
}

// Clear 清空缓存，累计性能计数器保持不变
func (c *StateCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.updateMetricsLocked()
}

// Len 当前条目数
func (c *StateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats 返回统计快照
func (c *StateCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Total:     len(c.entries),
		MaxSize:   c.maxSize,
		Breakdown: make(map[Category]int),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}

	var totalAccess int64
	for _, entry := range c.entries {
		stats.Breakdown[entry.Category]++
		totalAccess += entry.AccessCount

		if stats.OldestEntry == nil || entry.CreatedAt.Before(*stats.OldestEntry) {
			t := entry.CreatedAt
			stats.OldestEntry = &t
		}
		if stats.NewestEntry == nil || entry.CreatedAt.After(*stats.NewestEntry) {
			t := entry.CreatedAt
			stats.NewestEntry = &t
		}
	}

	if lookups := c.hits + c.misses; lookups > 0 {
		stats.HitRate = float64(c.hits) / float64(lookups) * 100
	}
	if len(c.entries) > 0 {
		stats.AvgAccessCount = float64(totalAccess) / float64(len(c.entries))
	}

	return stats
}

// expiryFor 计算类别对应的过期时间
func (c *StateCache) expiryFor(category Category, now time.Time) *time.Time {
	ttl, ok := c.ttls[category]
	if !ok || ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

// reapExpiredLocked 移除所有已过期条目
func (c *StateCache) reapExpiredLocked(now time.Time) {
	for key, entry := range c.entries {
		if entry.ExpiresAt != nil && !now.Before(*entry.ExpiresAt) {
			delete(c.entries, key)
			c.evictions++
			metrics.CacheEvictions.Inc()
		}
	}
}

// evictOneLocked 驱逐一个条目
// 只要存在非 online-standard 条目就不会驱逐 online-standard；
// 可驱逐者中优先最早过期，过期时间相同时取最久未访问；
// 全部为 online-standard 时退化为 LRU
func (c *StateCache) evictOneLocked(now time.Time) {
	var victim *Entry
	for _, entry := range c.entries {
		if victim == nil {
			victim = entry
			continue
		}
		if better(entry, victim) {
			victim = entry
		}
	}
	if victim == nil {
		return
	}

	delete(c.entries, victim.Key)
	c.evictions++
	metrics.CacheEvictions.Inc()
	c.logger.Debug("Cache entry evicted",
		zap.String("key", victim.Key),
		zap.String("category", string(victim.Category)),
	)
}

// better 判断 a 是否比 b 更适合被驱逐
func better(a, b *Entry) bool {
	aStd := a.Category == CategoryOnlineStandard
	bStd := b.Category == CategoryOnlineStandard
	if aStd != bStd {
		return !aStd
	}
	if aStd && bStd {
		// 同为 online-standard，LRU
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
	// 同为可驱逐类别：最早过期优先，平手取最久未访问
	if a.ExpiresAt == nil || b.ExpiresAt == nil {
		if (a.ExpiresAt == nil) != (b.ExpiresAt == nil) {
			return b.ExpiresAt == nil
		}
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
	if !a.ExpiresAt.Equal(*b.ExpiresAt) {
		return a.ExpiresAt.Before(*b.ExpiresAt)
	}
	return a.LastAccessedAt.Before(b.LastAccessedAt)
}

// updateMetricsLocked 同步 Prometheus 指标
func (c *StateCache) updateMetricsLocked() {
	counts := map[Category]int{
		CategoryOnlineStandard: 0,
		CategoryOnlineVariant:  0,
		CategoryOfflineHot:     0,
		CategoryOfflineCold:    0,
	}
	for _, entry := range c.entries {
		counts[entry.Category]++
	}
	for category, count := range counts {
		metrics.CacheEntries.WithLabelValues(string(category)).Set(float64(count))
	}

	if lookups := c.hits + c.misses; lookups > 0 {
		metrics.CacheHitRate.Set(float64(c.hits) / float64(lookups) * 100)
	}
}
