package services

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/profile"
	"github.com/TFMV/duckprof/pkg/repositories"
)

// ExplainFailedPrefix marks explain text that holds an error instead of a plan.
const ExplainFailedPrefix = "EXPLAIN_FAILED: "

// profileFormat is the only profile format the parser understands.
const profileFormat = "json"

// disableProfilingTimeout bounds the cleanup pragma once the analysis context is gone.
const disableProfilingTimeout = 5 * time.Second

// Extraction steps, used as the "step" label of ExtractionStepFailures.
const (
	stepSession = "session"
	stepExplain = "explain"
	stepProfile = "profile"
	stepExecute = "execute"
)

// signalExtractor implements SignalExtractor.
type signalExtractor struct {
	target     repositories.TargetRepository
	profileDir string
	logger     Logger
	metrics    MetricsCollector
}

// NewSignalExtractor creates an extractor. Profile files are written to
// profileDir, or the OS temp dir when it is empty, and removed after parsing.
func NewSignalExtractor(
	target repositories.TargetRepository,
	profileDir string,
	logger Logger,
	metrics MetricsCollector,
) SignalExtractor {
	if profileDir == "" {
		profileDir = os.TempDir()
	}
	return &signalExtractor{
		target:     target,
		profileDir: profileDir,
		logger:     logger,
		metrics:    metrics,
	}
}

// Extract runs explain, profiling and direct execution on one session.
func (e *signalExtractor) Extract(ctx context.Context, query string) (*models.SignalReport, error) {
	report := &models.SignalReport{}
	report.JoinsExpected, report.AggsExpected = CountExpectedOperators(query)

	sess, err := e.target.Session(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.FromContext(ctx.Err())
		}
		e.stepFailed(stepSession, err)
		report.ExplainText = ExplainFailedPrefix + errors.RootCause(err).Error()
		report.ExecError = errors.RootCause(err).Error()
		return report, nil
	}
	defer func() {
		if err := sess.Close(); err != nil {
			e.logger.Warn("Failed to release session", "error", err)
		}
	}()

	explainErr := e.explain(ctx, sess, query, report)
	if ctx.Err() != nil {
		return nil, errors.FromContext(ctx.Err())
	}

	if IsModifyingStatement(query) {
		// EXPLAIN ANALYZE already applied the statement once.
		e.logger.Debug("Skipping profiling and execution of modifying statement")
		report.Success = explainErr == nil
		if explainErr != nil {
			report.ExecError = errors.RootCause(explainErr).Error()
		}
		return report, nil
	}

	report.OperatorCosts = e.profile(ctx, sess, query)
	if ctx.Err() != nil {
		return nil, errors.FromContext(ctx.Err())
	}

	e.execute(ctx, sess, query, report)
	if ctx.Err() != nil {
		return nil, errors.FromContext(ctx.Err())
	}

	return report, nil
}

// explain fills the explain text and the figures parsed from it.
func (e *signalExtractor) explain(ctx context.Context, sess repositories.TargetSession, query string, report *models.SignalReport) error {
	plan, err := sess.ExplainAnalyze(ctx, query)
	if err != nil {
		e.stepFailed(stepExplain, err)
		report.ExplainText = ExplainFailedPrefix + errors.RootCause(err).Error()
		return err
	}

	report.ExplainText = plan
	stats := ParsePlanText(plan)
	if stats.RowsKnown {
		report.ScannedRows = stats.ScannedRows
		report.ReturnedRows = stats.ReturnedRows
		report.ScannedKnown = true
		report.ReturnedKnown = true
	}
	if stats.ExecTimeKnown {
		report.ExecTimeMs = stats.ExecTimeMs
		report.ExecTimeKnown = true
	}
	report.JoinsDetected, report.AggsDetected = CountDetectedOperators(plan)
	return nil
}

// profile executes the query with JSON profiling on and parses the result.
// Any failure yields an empty breakdown.
func (e *signalExtractor) profile(ctx context.Context, sess repositories.TargetSession, query string) []models.OperatorCostEntry {
	path := filepath.Join(e.profileDir, "duckprof_profile_"+uuid.NewString()+".json")
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("Failed to remove profile file", "path", path, "error", err)
		}
	}()

	if err := sess.EnableProfiling(ctx, profileFormat, path); err != nil {
		e.stepFailed(stepProfile, err)
		e.disableProfiling(ctx, sess)
		return nil
	}

	_, execErr := sess.Execute(ctx, query)
	e.disableProfiling(ctx, sess)
	if execErr != nil {
		e.stepFailed(stepProfile, execErr)
		return nil
	}

	costs, err := profile.ParseFile(path)
	if err != nil {
		e.stepFailed(stepProfile, err)
		return nil
	}
	e.logger.Debug("Profile parsed", "operators", len(costs))
	return costs
}

// disableProfiling runs even when ctx is already done. If it still fails,
// the session is discarded on Close.
func (e *signalExtractor) disableProfiling(ctx context.Context, sess repositories.TargetSession) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disableProfilingTimeout)
	defer cancel()
	if err := sess.DisableProfiling(cleanupCtx); err != nil {
		e.logger.Warn("Failed to disable profiling", "error", err)
	}
}

// execute runs the query directly and fills whatever is still unknown.
func (e *signalExtractor) execute(ctx context.Context, sess repositories.TargetSession, query string, report *models.SignalReport) {
	stats, err := sess.Execute(ctx, query)
	if err != nil {
		e.stepFailed(stepExecute, err)
		report.Success = false
		report.ExecError = errors.RootCause(err).Error()
		if !report.ExecTimeKnown && stats != nil {
			report.ExecTimeMs = durationMs(stats.Duration)
			report.ExecTimeKnown = true
		}
		return
	}

	report.Success = true
	if !report.ReturnedKnown {
		report.ReturnedRows = stats.RowCount
		report.ReturnedKnown = true
	}
	if !report.ExecTimeKnown {
		report.ExecTimeMs = durationMs(stats.Duration)
		report.ExecTimeKnown = true
	}
}

func (e *signalExtractor) stepFailed(step string, err error) {
	e.logger.Warn("Extraction step failed", "step", step, "error", err)
	e.metrics.IncrementCounter(metrics.ExtractionStepFailures, "step", step)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
