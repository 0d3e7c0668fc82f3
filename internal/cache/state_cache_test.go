package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestCache 创建一个时钟可控的缓存
func newTestCache(t *testing.T, maxSize int) (*StateCache, *time.Time) {
	t.Helper()

	c := NewStateCache(Options{MaxSize: maxSize}, zap.NewNop())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestStateCache_GetUpsert(t *testing.T) {
	c, _ := newTestCache(t, 10)

	_, ok := c.Get("aa:bb:cc:1")
	assert.False(t, ok)

	c.Upsert("aa:bb:cc:1", map[string]int{"temp": 20}, CategoryOnlineStandard)

	entry, ok := c.Get("aa:bb:cc:1")
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:1", entry.Key)
	assert.Equal(t, CategoryOnlineStandard, entry.Category)
	assert.Equal(t, int64(1), entry.AccessCount)
	assert.Nil(t, entry.ExpiresAt)

	entry, ok = c.Get("aa:bb:cc:1")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.AccessCount)
}

func TestStateCache_OnlineStandard_NeverExpires(t *testing.T) {
	c, now := newTestCache(t, 10)

	c.Upsert("dev:1", "payload", CategoryOnlineStandard)

	// 一年后仍可读取
	*now = now.Add(365 * 24 * time.Hour)
	_, ok := c.Get("dev:1")
	assert.True(t, ok)
}

func TestStateCache_OfflineCold_ExpiresAfterTTL(t *testing.T) {
	c, now := newTestCache(t, 10)

	c.Upsert("dev:1", "payload", CategoryOfflineCold)

	// TTL 内命中
	*now = now.Add(4 * time.Minute)
	_, ok := c.Get("dev:1")
	assert.True(t, ok)

	// 超过 5 分钟 TTL 后按未命中处理，条目被移除
	*now = now.Add(2 * time.Minute)
	_, ok = c.Get("dev:1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestStateCache_OnlineVariant_ExpiresWhileOnline(t *testing.T) {
	c, now := newTestCache(t, 10)

	c.Upsert("dev:1", "payload", CategoryOnlineVariant)

	*now = now.Add(11 * time.Minute)
	_, ok := c.Get("dev:1")
	assert.False(t, ok)
}

func TestStateCache_CategoryTransition_ResetsClock(t *testing.T) {
	c, now := newTestCache(t, 10)

	c.Upsert("dev:1", "payload", CategoryOfflineCold)

	// 4 分钟后重新归档为 offline-hot，时钟重置为 30 分钟
	*now = now.Add(4 * time.Minute)
	c.Upsert("dev:1", "payload", CategoryOfflineHot)

	*now = now.Add(20 * time.Minute)
	entry, ok := c.Get("dev:1")
	require.True(t, ok)
	assert.Equal(t, CategoryOfflineHot, entry.Category)
}

func TestStateCache_EvictionPrefersNonStandard(t *testing.T) {
	c, _ := newTestCache(t, 3)

	c.Upsert("std:1", "a", CategoryOnlineStandard)
	c.Upsert("std:2", "b", CategoryOnlineStandard)
	c.Upsert("cold:1", "c", CategoryOfflineCold)

	// 插入第 4 个条目，必须先驱逐 cold:1 而不是任何 online-standard
	c.Upsert("std:3", "d", CategoryOnlineStandard)

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("cold:1")
	assert.False(t, ok)
	for _, key := range []string{"std:1", "std:2", "std:3"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
}

func TestStateCache_EvictionPicksSoonestToExpire(t *testing.T) {
	c, _ := newTestCache(t, 2)

	c.Upsert("hot:1", "a", CategoryOfflineHot)   // 30 分钟后过期
	c.Upsert("cold:1", "b", CategoryOfflineCold) // 5 分钟后过期

	c.Upsert("hot:2", "c", CategoryOfflineHot)

	_, ok := c.Get("cold:1")
	assert.False(t, ok)
	_, ok = c.Get("hot:1")
	assert.True(t, ok)
}

func TestStateCache_EvictionFallsBackToLRU(t *testing.T) {
	c, now := newTestCache(t, 2)

	c.Upsert("std:1", "a", CategoryOnlineStandard)
	*now = now.Add(time.Minute)
	c.Upsert("std:2", "b", CategoryOnlineStandard)

	// std:2 被访问过，std:1 最久未访问
	*now = now.Add(time.Minute)
	_, ok := c.Get("std:2")
	require.True(t, ok)

	// 容量满且全部为 online-standard，驱逐 LRU 的 std:1
	*now = now.Add(time.Minute)
	c.Upsert("std:3", "c", CategoryOnlineStandard)

	_, ok = c.Get("std:1")
	assert.False(t, ok)
	_, ok = c.Get("std:2")
	assert.True(t, ok)
}

func TestStateCache_Stats_Idempotent(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Upsert("dev:1", "a", CategoryOnlineStandard)
	c.Upsert("dev:2", "b", CategoryOfflineHot)
	c.Get("dev:1")
	c.Get("missing")

	first := c.Stats()
	second := c.Stats()
	assert.Equal(t, first, second)

	assert.Equal(t, 2, first.Total)
	assert.Equal(t, 10, first.MaxSize)
	assert.Equal(t, 1, first.Breakdown[CategoryOnlineStandard])
	assert.Equal(t, 1, first.Breakdown[CategoryOfflineHot])
	assert.Equal(t, uint64(1), first.Hits)
	assert.Equal(t, uint64(1), first.Misses)
	assert.Equal(t, float64(50), first.HitRate)
	assert.Equal(t, 0.5, first.AvgAccessCount)
	assert.NotNil(t, first.OldestEntry)
	assert.NotNil(t, first.NewestEntry)
}

func TestStateCache_Clear_KeepsCumulativeCounters(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Upsert("dev:1", "a", CategoryOnlineStandard)
	c.Get("dev:1")
	c.Get("missing")

	c.Clear()

	stats := c.Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Empty(t, stats.Breakdown)
	assert.Nil(t, stats.OldestEntry)
	// 累计计数器不受 Clear 影响
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestStateCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Upsert("dev:1", "a", CategoryOnlineStandard)

	assert.True(t, c.Invalidate("dev:1"))
	assert.False(t, c.Invalidate("dev:1"))

	_, ok := c.Get("dev:1")
	assert.False(t, ok)
}

func TestStateCache_UpsertRefresh_KeepsAccessCount(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Upsert("dev:1", "a", CategoryOnlineStandard)
	c.Get("dev:1")
	c.Get("dev:1")

	c.Upsert("dev:1", "b", CategoryOnlineStandard)

	entry, ok := c.Get("dev:1")
	require.True(t, ok)
	assert.Equal(t, "b", entry.Payload)
	assert.Equal(t, int64(3), entry.AccessCount)
}
