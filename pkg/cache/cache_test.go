package cache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/duckprof/pkg/models"
)

func testRecord(id int64) *models.QueryRecord {
	return &models.QueryRecord{
		QueryID:                id,
		QueryText:              fmt.Sprintf("SELECT %d", id),
		ExplainText:            "plan",
		ExecTimeMs:             float64(id),
		Recommendation:         "No obvious issues detected — query looks OK.",
		RecommendationSnippets: []string{"CREATE INDEX IF NOT EXISTS idx_t_c ON t(c);"},
		Success:                true,
		Status:                 models.StatusCompleted,
		LoggedAt:               time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryCache_GetPut(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, 0)
	defer c.Close()

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	rec := testRecord(1)
	require.NoError(t, c.Put(ctx, rec))

	got, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	// Mutating the returned copy must not leak into the cache.
	got.RecommendationSnippets[0] = "changed"
	again, _, _ := c.Get(ctx, 1)
	assert.Equal(t, rec.RecommendationSnippets, again.RecommendationSnippets)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, 0)

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	require.NoError(t, c.Put(ctx, testRecord(1)))
	require.NoError(t, c.Put(ctx, testRecord(2)))
	_, ok, _ := c.Get(ctx, 1)
	require.True(t, ok)

	require.NoError(t, c.Put(ctx, testRecord(3)))

	_, ok, _ = c.Get(ctx, 2)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, 1)
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, 3)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, testRecord(1)))
	now = now.Add(2 * time.Minute)

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().Size)
}

func TestMemoryCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, 0)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, c.Put(ctx, testRecord(i)))
	}
	assert.Equal(t, int64(3), c.Stats().Size)

	require.NoError(t, c.Clear(ctx))
	for i := int64(1); i <= 3; i++ {
		_, ok, _ := c.Get(ctx, i)
		assert.False(t, ok)
	}
	assert.Equal(t, int64(0), c.Stats().Size)
}

func TestMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(8, 0)

	var wg sync.WaitGroup
	for i := int64(1); i <= 32; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = c.Put(ctx, testRecord(id))
			_, _, _ = c.Get(ctx, id)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().Size, int64(8))
}

// Runs against a real server when DUCKPROF_TEST_REDIS_ADDR is set.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("DUCKPROF_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DUCKPROF_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("duckprof:test:%d:", time.Now().UnixNano())
	c, err := NewRedisCache(ctx, RedisConfig{Addr: addr, KeyPrefix: prefix}, time.Minute, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	defer c.Close()
	defer c.Clear(ctx)

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	rec := testRecord(1)
	require.NoError(t, c.Put(ctx, rec))

	got, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	require.NoError(t, c.Put(ctx, testRecord(2)))
	require.NoError(t, c.Clear(ctx))
	for _, id := range []int64{1, 2} {
		_, ok, _ = c.Get(ctx, id)
		assert.False(t, ok)
	}

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(3), stats.Misses)
}
