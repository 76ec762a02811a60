package services

import (
	"context"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
	"github.com/TFMV/duckprof/pkg/models"
)

// visualizationService implements VisualizationService.
type visualizationService struct {
	renderer Renderer
	logger   Logger
	metrics  MetricsCollector
}

// NewVisualizationService wraps a renderer. A nil renderer disables visualization.
func NewVisualizationService(renderer Renderer, logger Logger, metrics MetricsCollector) VisualizationService {
	return &visualizationService{
		renderer: renderer,
		logger:   logger,
		metrics:  metrics,
	}
}

// Render draws the breakdown and reports whether an artifact was produced.
func (s *visualizationService) Render(ctx context.Context, id int64, costs []models.OperatorCostEntry, execTimeMs float64) bool {
	if s.renderer == nil {
		return false
	}

	handle, err := s.renderer.Render(ctx, id, costs, execTimeMs)
	if err != nil {
		s.logger.Warn("Visualization render failed", "query_id", id, "error", err)
		s.metrics.IncrementCounter(metrics.RendersTotal, "status", "error")
		return false
	}

	s.logger.Debug("Visualization rendered", "query_id", id, "handle", handle)
	s.metrics.IncrementCounter(metrics.RendersTotal, "status", "ok")
	return true
}

// Exists reports whether an artifact is present for id.
func (s *visualizationService) Exists(id int64) bool {
	if s.renderer == nil {
		return false
	}
	_, ok := s.renderer.Handle(id)
	return ok
}

// Handle returns the artifact handle or a NotFound error.
func (s *visualizationService) Handle(id int64) (string, error) {
	if s.renderer != nil {
		if h, ok := s.renderer.Handle(id); ok {
			return h, nil
		}
	}
	return "", errors.Wrapf(errors.ErrNoArtifact, errors.CodeNotFound, "no visualization for query %d", id).
		WithDetail("query_id", id)
}

// Clear removes every rendered artifact.
func (s *visualizationService) Clear(ctx context.Context) error {
	if s.renderer == nil {
		return nil
	}
	if err := s.renderer.Clear(ctx); err != nil {
		return errors.Wrap(err, errors.CodeRenderFailed, "failed to clear visualizations")
	}
	return nil
}
