package cache

import (
	"context"
	"time"

	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
)

// Report records a snapshot of the cache statistics as gauges.
func Report(c Cache, collector metrics.Collector) {
	stats := c.Stats()
	collector.RecordGauge(metrics.CacheEntries, float64(stats.Size))
	collector.RecordGauge(metrics.CacheHits, float64(stats.Hits))
	collector.RecordGauge(metrics.CacheMisses, float64(stats.Misses))
	collector.RecordGauge(metrics.CacheEvictions, float64(stats.Evictions))
	collector.RecordGauge(metrics.CacheHitRatio, stats.HitRate())
}

// ReportEvery calls Report on every tick until ctx is done.
func ReportEvery(ctx context.Context, c Cache, interval time.Duration, collector metrics.Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			Report(c, collector)
			return
		case <-ticker.C:
			Report(c, collector)
		}
	}
}
