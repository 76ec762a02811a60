// Package services contains the analysis engine's business logic.
package services

import (
	"context"
	"time"

	"github.com/TFMV/duckprof/pkg/models"
)

// SignalExtractor turns a query into a SignalReport.
type SignalExtractor interface {
	// Extract always returns a report for a live context. Step failures are
	// recorded in the report; only cancellation of ctx yields an error.
	Extract(ctx context.Context, query string) (*models.SignalReport, error)
}

// OperatorClassifier picks the dominant operator of a profile.
type OperatorClassifier interface {
	Classify(costs []models.OperatorCostEntry) models.Bottleneck
}

// SynthesisInput is everything the recommendation synthesizer looks at.
type SynthesisInput struct {
	BottleneckOperator string
	ScannedRows        int64
	ScannedKnown       bool
	ReturnedRows       int64
	ReturnedKnown      bool
	JoinsExpected      int
	JoinsDetected      int
	AggsExpected       int
	AggsDetected       int
	QueryText          string
}

// NewSynthesisInput collects the synthesizer input from an extraction report.
func NewSynthesisInput(report *models.SignalReport, bottleneck, query string) SynthesisInput {
	return SynthesisInput{
		BottleneckOperator: bottleneck,
		ScannedRows:        report.ScannedRows,
		ScannedKnown:       report.ScannedKnown,
		ReturnedRows:       report.ReturnedRows,
		ReturnedKnown:      report.ReturnedKnown,
		JoinsExpected:      report.JoinsExpected,
		JoinsDetected:      report.JoinsDetected,
		AggsExpected:       report.AggsExpected,
		AggsDetected:       report.AggsDetected,
		QueryText:          query,
	}
}

// RecommendationSynthesizer produces findings and remediation templates.
type RecommendationSynthesizer interface {
	Synthesize(in SynthesisInput) models.Recommendation
}

// Summarizer turns a structured report into prose.
type Summarizer interface {
	Summarize(ctx context.Context, report string) (string, error)
}

// SchemaSource describes the tables of the target database.
type SchemaSource interface {
	Schema(ctx context.Context) ([]models.TableSchema, error)
}

// NarrativeService produces a narrative for a stored record.
type NarrativeService interface {
	// Narrate never fails; collaborator errors are returned as "Error: ..." text.
	Narrate(ctx context.Context, rec *models.QueryRecord) string
	// Enabled reports whether a summarizer is configured.
	Enabled() bool
}

// Renderer draws an operator breakdown into an artifact.
type Renderer interface {
	// Render writes the artifact for id and returns its handle.
	Render(ctx context.Context, id int64, costs []models.OperatorCostEntry, execTimeMs float64) (string, error)
	// Handle returns the handle of an existing artifact.
	Handle(id int64) (string, bool)
	// Clear removes every artifact.
	Clear(ctx context.Context) error
}

// VisualizationService hands operator breakdowns to the renderer.
type VisualizationService interface {
	// Render draws the breakdown. Failures are logged and swallowed.
	Render(ctx context.Context, id int64, costs []models.OperatorCostEntry, execTimeMs float64) bool
	Exists(id int64) bool
	Handle(id int64) (string, error)
	// Clear drops every artifact so reused ids never see a stale chart.
	Clear(ctx context.Context) error
}

// RecordCache caches immutable records by id.
type RecordCache interface {
	Get(ctx context.Context, id int64) (*models.QueryRecord, bool, error)
	Put(ctx context.Context, rec *models.QueryRecord) error
	Clear(ctx context.Context) error
}

// AnalysisService is the engine boundary.
type AnalysisService interface {
	Analyze(ctx context.Context, query string) (*models.AnalysisResult, error)
	GetRecord(ctx context.Context, id int64) (*models.QueryRecord, error)
	ListRecords(ctx context.Context, opts models.ListOptions) ([]models.RecordSummary, error)
	HasVisualization(id int64) bool
	VisualizationHandle(id int64) (string, error)
	Summarize(ctx context.Context, id int64) (string, error)
	Reset(ctx context.Context) error
}

// WorkloadRunOptions controls a workload run.
type WorkloadRunOptions struct {
	ScaleFactor  float64
	GenerateData bool
	Reset        bool
	Limit        int
	TopN         int
}

// WorkloadService runs a benchmark workload through the analysis pipeline.
type WorkloadService interface {
	Run(ctx context.Context, opts WorkloadRunOptions) (*models.WorkloadReport, error)
}

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines metrics collection interface.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() time.Duration
}
