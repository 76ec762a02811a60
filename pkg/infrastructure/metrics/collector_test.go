package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNoOpCollector(t *testing.T) {
	collector := NewNoOpCollector()

	// None of these should panic.
	collector.IncrementCounter(AnalysesTotal, "status", "completed")
	collector.RecordHistogram(AnalysisDuration, 0.5)
	collector.RecordGauge(PoolActiveConnections, 3)

	timer := collector.StartTimer(AnalysisDuration)
	time.Sleep(10 * time.Millisecond)

	duration := timer.Stop()
	assert.Greater(t, duration, time.Duration(0))
	assert.Less(t, duration, time.Second)
}

func TestPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewPrometheusCollector("test", reg).(*PrometheusCollector)
	pm := NewPoolMetrics(collector)

	pm.RecordConnectionAcquisition(5 * time.Millisecond)
	pm.UpdateActiveConnections(2)
	pm.IncrementCircuitBreakerTrip()
	pm.IncrementCircuitBreakerTrip()

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.counters[PoolCircuitBreakerTrips]))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.gauges[PoolActiveConnections]))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.histograms[PoolAcquisitionDuration]))
}
