// Package repositories defines interfaces for data access operations.
package repositories

import (
	"context"
	"time"

	"github.com/TFMV/duckprof/pkg/models"
)

// TargetRepository opens sessions on the database whose queries are profiled.
type TargetRepository interface {
	// Session returns a dedicated session. Profiling settings applied to it
	// never affect other sessions.
	Session(ctx context.Context) (TargetSession, error)
	// Schema describes every table with up to models.SchemaSampleLimit
	// non-null sample values per column.
	Schema(ctx context.Context) ([]models.TableSchema, error)
}

// TargetSession is a single connection to the target database.
type TargetSession interface {
	// ExplainAnalyze runs EXPLAIN ANALYZE and returns the plan text.
	ExplainAnalyze(ctx context.Context, query string) (string, error)
	// EnableProfiling turns on profiling output to outputPath in the given format.
	EnableProfiling(ctx context.Context, format, outputPath string) error
	// DisableProfiling turns profiling off again.
	DisableProfiling(ctx context.Context) error
	// Execute runs the query and drains its result. Stats are returned even
	// when the query fails so the attempt's duration is not lost.
	Execute(ctx context.Context, query string) (*ExecutionStats, error)
	// Close releases the session.
	Close() error
}

// ExecutionStats describes one direct execution of a query.
type ExecutionStats struct {
	RowCount int64
	Duration time.Duration
}

// AnalysisLogRepository is the append-only store of query records.
type AnalysisLogRepository interface {
	// Init creates the log table if it does not exist.
	Init(ctx context.Context) error
	// Append stores rec under a freshly allocated id and sets rec.QueryID.
	Append(ctx context.Context, rec *models.QueryRecord) (int64, error)
	// Get returns a record by id.
	Get(ctx context.Context, id int64) (*models.QueryRecord, error)
	// List returns records in the requested order.
	List(ctx context.Context, opts models.ListOptions) ([]models.QueryRecord, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
	// Reset drops and recreates the log.
	Reset(ctx context.Context) error
}

// WorkloadOptions controls preparation of the TPC-H workload.
type WorkloadOptions struct {
	ScaleFactor  float64
	GenerateData bool
}

// WorkloadRepository manages the benchmark workload table.
type WorkloadRepository interface {
	// Prepare loads the tpch extension, optionally generates data and
	// materializes the workload queries.
	Prepare(ctx context.Context, opts WorkloadOptions) error
	// Queries returns the workload in query number order.
	Queries(ctx context.Context) ([]models.WorkloadQuery, error)
	// Reset drops the workload table.
	Reset(ctx context.Context) error
}
