package services

import (
	"context"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/repositories"
)

// DefaultSlowestN is how many slowest records a workload report lists.
const DefaultSlowestN = 10

// workloadService implements WorkloadService.
type workloadService struct {
	repo     repositories.WorkloadRepository
	analysis AnalysisService
	logger   Logger
}

// NewWorkloadService creates a runner over the given workload.
func NewWorkloadService(repo repositories.WorkloadRepository, analysis AnalysisService, logger Logger) WorkloadService {
	return &workloadService{
		repo:     repo,
		analysis: analysis,
		logger:   logger,
	}
}

// Run prepares the workload and analyzes every query in order. A failed
// append stops the run and returns the report so far with the error.
func (s *workloadService) Run(ctx context.Context, opts WorkloadRunOptions) (*models.WorkloadReport, error) {
	if opts.TopN <= 0 {
		opts.TopN = DefaultSlowestN
	}

	if opts.Reset {
		if err := s.analysis.Reset(ctx); err != nil {
			return nil, err
		}
		if err := s.repo.Reset(ctx); err != nil {
			return nil, err
		}
		s.logger.Info("Workload and analysis log reset")
	}

	if err := s.repo.Prepare(ctx, repositories.WorkloadOptions{
		ScaleFactor:  opts.ScaleFactor,
		GenerateData: opts.GenerateData,
	}); err != nil {
		return nil, err
	}

	queries, err := s.repo.Queries(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && opts.Limit < len(queries) {
		queries = queries[:opts.Limit]
	}

	s.logger.Info("Running workload", "queries", len(queries), "scale", opts.ScaleFactor)

	report := &models.WorkloadReport{}
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return report, errors.FromContext(err)
		}

		res, err := s.analysis.Analyze(ctx, q.Text)
		if err != nil {
			s.logger.Error("Workload query failed to record", "query_nr", q.Number, "error", err)
			return report, err
		}

		report.Results = append(report.Results, *res)
		if !res.Success {
			report.Failed++
		}
		s.logger.Info("Workload query analyzed",
			"query_nr", q.Number,
			"query_id", res.QueryID,
			"exec_time_ms", res.ExecTimeMs,
			"rows", res.RowsReturned,
			"bottleneck", res.BottleneckOperator,
		)
	}

	slowest, err := s.analysis.ListRecords(ctx, models.ListOptions{
		OrderBy: models.OrderByExecTime,
		Limit:   opts.TopN,
	})
	if err != nil {
		return report, err
	}
	report.Slowest = slowest
	return report, nil
}
