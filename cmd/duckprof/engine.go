package main

import (
	"context"
	"fmt"

	arrowmemory "github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/TFMV/duckprof/cmd/duckprof/config"
	"github.com/TFMV/duckprof/pkg/cache"
	"github.com/TFMV/duckprof/pkg/handlers"
	"github.com/TFMV/duckprof/pkg/infrastructure"
	"github.com/TFMV/duckprof/pkg/infrastructure/converter"
	"github.com/TFMV/duckprof/pkg/infrastructure/memory"
	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
	"github.com/TFMV/duckprof/pkg/infrastructure/pool"
	"github.com/TFMV/duckprof/pkg/render"
	"github.com/TFMV/duckprof/pkg/repositories"
	"github.com/TFMV/duckprof/pkg/repositories/duckdb"
	"github.com/TFMV/duckprof/pkg/services"
	"github.com/TFMV/duckprof/pkg/summarizer"
)

// engine owns the database pools and the services built on them.
type engine struct {
	logger    zerolog.Logger
	metrics   metrics.Collector
	allocator *memory.TrackedAllocator

	motherDuckToken string

	pools    []pool.ConnectionPool
	cache    cache.Cache
	workload repositories.WorkloadRepository

	analysis       services.AnalysisService
	workloadRunner services.WorkloadService
}

// newEngine opens the target and log databases and wires the pipeline.
// The log shares the target pool when both name the same database.
func newEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector metrics.Collector) (_ *engine, err error) {
	e := &engine{
		logger:    logger,
		metrics:   collector,
		allocator: memory.NewTrackedAllocator(arrowmemory.NewGoAllocator()),

		motherDuckToken: cfg.MotherDuckToken,
	}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	targetPool, err := e.openPool(cfg.TargetDatabase, cfg.Pool)
	if err != nil {
		return nil, err
	}
	logPool := targetPool
	if cfg.LogDatabase != cfg.TargetDatabase {
		if logPool, err = e.openPool(cfg.LogDatabase, cfg.Pool); err != nil {
			return nil, err
		}
	}

	logRepo := duckdb.NewAnalysisLogRepository(logPool, logger)
	if err := logRepo.Init(ctx); err != nil {
		return nil, err
	}
	e.workload = duckdb.NewWorkloadRepository(targetPool, logger)

	renderer, err := render.NewHTMLRenderer(cfg.ArtifactsDir, logger)
	if err != nil {
		return nil, err
	}

	if e.cache, err = cache.New(ctx, &cfg.Cache, logger.With().Str("component", "record_cache").Logger()); err != nil {
		return nil, fmt.Errorf("failed to create record cache: %w", err)
	}

	llm, err := summarizer.New(cfg.Summarizer, logger.With().Str("component", "summarizer").Logger())
	if err != nil {
		return nil, err
	}

	svcMetrics := &serviceMetricsAdapter{collector: collector}
	target := duckdb.NewTargetRepository(targetPool, logger)
	deps := services.AnalysisDependencies{
		Extractor: services.NewSignalExtractor(
			target,
			cfg.ProfileDir,
			newLoggerAdapter(logger, "signal_extractor"),
			svcMetrics,
		),
		Classifier:  services.NewOperatorClassifier(),
		Synthesizer: services.NewRecommendationSynthesizer(),
		Log:         logRepo,
		Visualization: services.NewVisualizationService(
			renderer,
			newLoggerAdapter(logger, "visualization_service"),
			svcMetrics,
		),
	}
	// Typed nils must not reach the service interfaces.
	if llm != nil {
		deps.Narrative = services.NewNarrativeService(llm, target, newLoggerAdapter(logger, "narrative_service"), svcMetrics)
	}
	if e.cache != nil {
		deps.Cache = e.cache
	}

	e.analysis = services.NewAnalysisService(deps, services.AnalysisConfig{
		QueryTimeout: cfg.QueryTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, newLoggerAdapter(logger, "analysis_service"), svcMetrics)

	e.workloadRunner = services.NewWorkloadService(e.workload, e.analysis, newLoggerAdapter(logger, "workload_service"))

	return e, nil
}

func (e *engine) openPool(dsn string, cfg config.PoolConfig) (pool.ConnectionPool, error) {
	p, err := pool.New(pool.Config{
		DSN:                     infrastructure.ResolveDSN(dsn, e.motherDuckToken),
		MaxOpenConnections:      cfg.MaxOpenConnections,
		MaxIdleConnections:      cfg.MaxIdleConnections,
		ConnMaxLifetime:         cfg.ConnMaxLifetime,
		ConnMaxIdleTime:         cfg.ConnMaxIdleTime,
		HealthCheckPeriod:       cfg.HealthCheckPeriod,
		ConnectionTimeout:       cfg.ConnectionTimeout,
		EnableCircuitBreaker:    cfg.EnableCircuitBreaker,
		CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.CircuitBreakerTimeout,
		EnableSlowQueryLogging:  cfg.SlowQueryThreshold > 0,
		SlowQueryThreshold:      cfg.SlowQueryThreshold,
	}, e.logger.With().Str("component", "pool").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	p.SetMetricsCollector(metrics.NewPoolMetrics(e.metrics))
	e.pools = append(e.pools, p)
	return p, nil
}

// handler returns the Flight-facing handler over the analysis service.
func (e *engine) handler() handlers.AnalysisHandler {
	return handlers.NewAnalysisHandler(
		e.analysis,
		converter.New(e.allocator, e.logger.With().Str("component", "converter").Logger()),
		newLoggerAdapter(e.logger, "analysis_handler"),
		&handlerMetricsAdapter{collector: e.metrics},
	)
}

// Reset drops the analysis log, the record cache and the workload table.
func (e *engine) Reset(ctx context.Context) error {
	if err := e.analysis.Reset(ctx); err != nil {
		return err
	}
	return e.workload.Reset(ctx)
}

// Close releases the cache and every pool.
func (e *engine) Close() {
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.logger.Error().Err(err).Msg("Error closing record cache")
		}
	}
	for _, p := range e.pools {
		if err := p.Close(); err != nil {
			e.logger.Error().Err(err).Msg("Error closing connection pool")
		}
	}
	e.pools = nil
}
