package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/repositories"
)

// CancelledRecommendationPrefix starts the recommendation of cancelled records.
const CancelledRecommendationPrefix = "Analysis cancelled before completion: "

// DefaultWriteTimeout bounds the log append once the analysis context is gone.
const DefaultWriteTimeout = 10 * time.Second

// AnalysisConfig tunes the pipeline.
type AnalysisConfig struct {
	// QueryTimeout bounds signal extraction. Zero means no limit.
	QueryTimeout time.Duration
	// WriteTimeout bounds the log append.
	WriteTimeout time.Duration
}

// AnalysisDependencies are the collaborators of the analysis pipeline.
// Cache and Narrative may be nil.
type AnalysisDependencies struct {
	Extractor     SignalExtractor
	Classifier    OperatorClassifier
	Synthesizer   RecommendationSynthesizer
	Log           repositories.AnalysisLogRepository
	Visualization VisualizationService
	Narrative     NarrativeService
	Cache         RecordCache
}

// analysisService implements AnalysisService.
type analysisService struct {
	deps    AnalysisDependencies
	cfg     AnalysisConfig
	logger  Logger
	metrics MetricsCollector
	now     func() time.Time
}

// NewAnalysisService creates the analysis pipeline.
func NewAnalysisService(deps AnalysisDependencies, cfg AnalysisConfig, logger Logger, metrics MetricsCollector) AnalysisService {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if deps.Narrative == nil {
		deps.Narrative = NewNarrativeService(nil, nil, logger, metrics)
	}
	return &analysisService{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Analyze runs extract, classify, synthesize, append and render in order.
// Only an empty query and a failed append are returned as errors.
func (s *analysisService) Analyze(ctx context.Context, query string) (*models.AnalysisResult, error) {
	if strings.TrimSpace(query) == "" {
		s.metrics.IncrementCounter(metrics.AnalysesTotal, "status", "invalid")
		return nil, errors.ErrEmptyQuery
	}

	timer := s.metrics.StartTimer(metrics.AnalysisDuration)
	defer timer.Stop()

	runID := uuid.NewString()
	s.logger.Info("Analyzing query", "run_id", runID, "query", truncateForLog(query))

	extractCtx := ctx
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	report, err := s.deps.Extractor.Extract(extractCtx, query)
	if err != nil {
		return s.recordCancelled(ctx, runID, query, err)
	}

	bottleneck := s.deps.Classifier.Classify(report.OperatorCosts)
	rec := s.deps.Synthesizer.Synthesize(NewSynthesisInput(report, bottleneck.Operator, query))

	status := models.StatusCompleted
	if !report.Success {
		status = models.StatusFailed
	}

	record := &models.QueryRecord{
		QueryText:              query,
		ExplainText:            report.ExplainText,
		ExecTimeMs:             report.ExecTimeMs,
		ScannedRows:            report.ScannedRows,
		ReturnedRows:           report.ReturnedRows,
		JoinsExpected:          report.JoinsExpected,
		JoinsDetected:          report.JoinsDetected,
		AggsExpected:           report.AggsExpected,
		AggsDetected:           report.AggsDetected,
		Recommendation:         rec.Text,
		RecommendationSnippets: rec.Snippets,
		BottleneckOperator:     bottleneck.Operator,
		Success:                report.Success,
		ErrorMessage:           report.ExecError,
		Status:                 status,
		LoggedAt:               s.timestamp(),
	}

	if err := s.append(ctx, record); err != nil {
		s.logger.Error("Failed to append analysis", "run_id", runID, "error", err)
		s.metrics.IncrementCounter(metrics.AnalysesTotal, "status", "persistence_error")
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.AnalysesTotal, "status", string(status))
	s.metrics.IncrementCounter(metrics.BottleneckFamilies, "family", OperatorFamily(bottleneck.Operator))
	s.logger.Info("Analysis recorded",
		"run_id", runID,
		"query_id", record.QueryID,
		"status", status,
		"exec_time_ms", record.ExecTimeMs,
		"bottleneck", bottleneck.Operator,
		"bottleneck_share", bottleneck.Share,
	)

	hasVis := s.deps.Visualization.Render(ctx, record.QueryID, report.OperatorCosts, report.ExecTimeMs)

	return resultFor(record, hasVis), nil
}

// recordCancelled appends the marker record for an analysis whose context ended.
func (s *analysisService) recordCancelled(ctx context.Context, runID, query string, cause error) (*models.AnalysisResult, error) {
	reason := errors.RootCause(cause).Error()
	s.logger.Warn("Analysis cancelled", "run_id", runID, "reason", reason)

	joinsExpected, aggsExpected := CountExpectedOperators(query)
	record := &models.QueryRecord{
		QueryText:      query,
		ExplainText:    ExplainFailedPrefix + reason,
		JoinsExpected:  joinsExpected,
		AggsExpected:   aggsExpected,
		Recommendation: CancelledRecommendationPrefix + reason,
		Success:        false,
		ErrorMessage:   reason,
		Status:         models.StatusCancelled,
		LoggedAt:       s.timestamp(),
	}

	if err := s.append(ctx, record); err != nil {
		s.logger.Error("Failed to append cancelled analysis", "run_id", runID, "error", err)
		s.metrics.IncrementCounter(metrics.AnalysesTotal, "status", "persistence_error")
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.AnalysesTotal, "status", string(models.StatusCancelled))
	return resultFor(record, false), nil
}

// append writes on a context detached from cancellation so that a record
// is kept even when the caller has gone away.
func (s *analysisService) append(ctx context.Context, record *models.QueryRecord) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	defer cancel()

	if _, err := s.deps.Log.Append(writeCtx, record); err != nil {
		return err
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Put(writeCtx, record); err != nil {
			s.logger.Warn("Failed to cache record", "query_id", record.QueryID, "error", err)
		}
	}
	return nil
}

func (s *analysisService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func resultFor(record *models.QueryRecord, hasVis bool) *models.AnalysisResult {
	res := &models.AnalysisResult{
		QueryID:            record.QueryID,
		ExecTimeMs:         record.ExecTimeMs,
		RowsReturned:       record.ReturnedRows,
		Success:            record.Success,
		Status:             record.Status,
		BottleneckOperator: record.BottleneckOperator,
		HasVisualization:   hasVis,
		Record:             record,
	}
	if !record.Success {
		msg := record.ErrorMessage
		res.Error = &msg
	}
	return res
}

// GetRecord reads through the cache.
func (s *analysisService) GetRecord(ctx context.Context, id int64) (*models.QueryRecord, error) {
	if s.deps.Cache != nil {
		rec, ok, err := s.deps.Cache.Get(ctx, id)
		if err != nil {
			s.logger.Warn("Record cache lookup failed", "query_id", id, "error", err)
		}
		if ok {
			s.metrics.IncrementCounter(metrics.CacheLookups, "result", "hit")
			return rec, nil
		}
		s.metrics.IncrementCounter(metrics.CacheLookups, "result", "miss")
	}

	rec, err := s.deps.Log.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Put(ctx, rec); err != nil {
			s.logger.Warn("Failed to cache record", "query_id", id, "error", err)
		}
	}
	return rec, nil
}

// ListRecords returns listing summaries, slowest first unless opts say otherwise.
func (s *analysisService) ListRecords(ctx context.Context, opts models.ListOptions) ([]models.RecordSummary, error) {
	records, err := s.deps.Log.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.RecordSummary, 0, len(records))
	for i := range records {
		summaries = append(summaries, records[i].Summary(s.deps.Visualization.Exists(records[i].QueryID)))
	}
	return summaries, nil
}

// HasVisualization reports whether a chart exists for id.
func (s *analysisService) HasVisualization(id int64) bool {
	return s.deps.Visualization.Exists(id)
}

// VisualizationHandle returns the chart handle or NotFound.
func (s *analysisService) VisualizationHandle(id int64) (string, error) {
	return s.deps.Visualization.Handle(id)
}

// Summarize returns a narrative for a stored record. Summarizer failures come
// back as "Error: ..." text, not as errors.
func (s *analysisService) Summarize(ctx context.Context, id int64) (string, error) {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return "", err
	}
	return s.deps.Narrative.Narrate(ctx, rec), nil
}

// Reset drops the log and everything derived from it.
// Ids restart at 1 afterwards, so a chart left behind would be attributed to
// an unrelated record.
func (s *analysisService) Reset(ctx context.Context) error {
	if err := s.deps.Log.Reset(ctx); err != nil {
		return err
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Clear(ctx); err != nil {
			s.logger.Warn("Failed to clear record cache", "error", err)
		}
	}
	if err := s.deps.Visualization.Clear(ctx); err != nil {
		s.logger.Error("Failed to clear visualizations", "error", err)
		return err
	}
	s.logger.Warn("Analysis log reset")
	return nil
}

const logQueryLimit = 200

func truncateForLog(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if len(q) > logQueryLimit {
		return q[:logQueryLimit] + "..."
	}
	return q
}
