// Package handlers maps Flight requests onto the analysis engine.
package handlers

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"

	"github.com/TFMV/duckprof/pkg/models"
)

// AnalysisHandler handles engine actions and record streams.
type AnalysisHandler interface {
	// Analyze runs the pipeline on the SQL in body and returns the JSON result.
	Analyze(ctx context.Context, body []byte) ([]byte, error)

	// GetRecord returns the JSON record whose id is in body.
	GetRecord(ctx context.Context, body []byte) ([]byte, error)

	// HasVisualization returns {"query_id":..,"has_graph":..,"handle":..}.
	HasVisualization(ctx context.Context, body []byte) ([]byte, error)

	// Summarize returns {"query_id":..,"summary":..}.
	Summarize(ctx context.Context, body []byte) ([]byte, error)

	// StreamSummaries streams the log listing as Arrow batches.
	StreamSummaries(ctx context.Context, opts models.ListOptions) (*arrow.Schema, <-chan flight.StreamChunk, error)

	// StreamRecord streams one full record as a single-row batch.
	StreamRecord(ctx context.Context, id int64) (*arrow.Schema, <-chan flight.StreamChunk, error)
}

// Logger defines the logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines the metrics interface.
type MetricsCollector interface {
	IncrementCounter(name string, tags ...string)
	RecordHistogram(name string, value float64, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop()
}
