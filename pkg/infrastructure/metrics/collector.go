// Package metrics provides metrics collection for the analysis engine.
package metrics

import (
	"time"
)

// Metric names recorded by the engine.
const (
	AnalysesTotal           = "analyses_total"
	AnalysisDuration        = "analysis_duration_seconds"
	ExtractionStepFailures  = "extraction_step_failures_total"
	BottleneckFamilies      = "bottleneck_operators_total"
	RendersTotal            = "visualization_renders_total"
	CacheLookups            = "record_cache_lookups_total"
	CacheEntries            = "record_cache_entries"
	CacheHits               = "record_cache_hits"
	CacheMisses             = "record_cache_misses"
	CacheEvictions          = "record_cache_evictions"
	CacheHitRatio           = "record_cache_hit_ratio"
	SummariesTotal          = "summaries_total"
	PoolAcquisitionDuration = "pool_acquisition_duration_seconds"
	PoolActiveConnections   = "pool_active_connections"
	PoolCircuitBreakerTrips = "pool_circuit_breaker_trips_total"
	FlightRequests          = "flight_requests_total"
	FlightRequestDuration   = "flight_request_duration_seconds"
	ArrowBytesAllocated     = "arrow_bytes_allocated"
	ArrowBytesPeak          = "arrow_bytes_peak"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncrementCounter increments a counter metric.
	IncrementCounter(name string, labels ...string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a timer whose Stop records into the named histogram.
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the elapsed time.
	Stop() time.Duration
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

// IncrementCounter does nothing.
func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

// RecordHistogram does nothing.
func (n *NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

// RecordGauge does nothing.
func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a timer that only measures.
func (n *NoOpCollector) StartTimer(name string) Timer {
	return &noOpTimer{start: time.Now()}
}

type noOpTimer struct {
	start time.Time
}

func (t *noOpTimer) Stop() time.Duration {
	return time.Since(t.start)
}

// PoolMetrics forwards connection pool events to a Collector.
type PoolMetrics struct {
	collector Collector
}

// NewPoolMetrics wraps a collector for use by the connection pool.
func NewPoolMetrics(collector Collector) *PoolMetrics {
	return &PoolMetrics{collector: collector}
}

// RecordConnectionAcquisition records how long acquiring a connection took.
func (m *PoolMetrics) RecordConnectionAcquisition(duration time.Duration) {
	m.collector.RecordHistogram(PoolAcquisitionDuration, duration.Seconds())
}

// UpdateActiveConnections records the number of connections in use.
func (m *PoolMetrics) UpdateActiveConnections(count int) {
	m.collector.RecordGauge(PoolActiveConnections, float64(count))
}

// IncrementCircuitBreakerTrip counts circuit breaker trips.
func (m *PoolMetrics) IncrementCircuitBreakerTrip() {
	m.collector.IncrementCounter(PoolCircuitBreakerTrips)
}
