package duckdb

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/infrastructure/pool"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/repositories"
)

// QueryWorkloadTable holds the workload queries.
const QueryWorkloadTable = "query_workload"

const createWorkloadSQL = `CREATE TABLE IF NOT EXISTS query_workload AS
SELECT query_nr AS query_id, query AS query_text
FROM tpch_queries()`

// workloadRepository implements repositories.WorkloadRepository using DuckDB's tpch extension.
type workloadRepository struct {
	pool   pool.ConnectionPool
	logger zerolog.Logger
}

// NewWorkloadRepository creates a new TPC-H workload repository.
func NewWorkloadRepository(p pool.ConnectionPool, logger zerolog.Logger) repositories.WorkloadRepository {
	return &workloadRepository{
		pool:   p,
		logger: logger.With().Str("component", "workload").Logger(),
	}
}

// Prepare installs the tpch extension and materializes the workload.
func (r *workloadRepository) Prepare(ctx context.Context, opts repositories.WorkloadOptions) error {
	db, err := r.pool.DB(ctx)
	if err != nil {
		return err
	}

	r.logger.Info().
		Float64("scale", opts.ScaleFactor).
		Bool("generate", opts.GenerateData).
		Msg("Preparing TPC-H workload")

	for _, stmt := range []string{"INSTALL tpch", "LOAD tpch"} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, errors.CodeUnavailable, "failed to execute '%s'", stmt)
		}
	}

	if opts.GenerateData {
		var tables int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'lineitem'").Scan(&tables)
		if err != nil {
			return errors.Wrap(err, errors.CodeQueryFailed, "failed to inspect catalog")
		}
		if tables == 0 {
			stmt := fmt.Sprintf("CALL dbgen(sf=%g)", opts.ScaleFactor)
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, errors.CodeQueryFailed, "failed to execute '%s'", stmt)
			}
			r.logger.Info().Float64("scale", opts.ScaleFactor).Msg("TPC-H data generated")
		} else {
			r.logger.Info().Msg("TPC-H tables already present, skipping dbgen")
		}
	}

	if _, err := db.ExecContext(ctx, createWorkloadSQL); err != nil {
		return errors.Wrap(err, errors.CodeQueryFailed, "failed to create query_workload")
	}
	return nil
}

// Queries returns the workload ordered by query number.
func (r *workloadRepository) Queries(ctx context.Context) ([]models.WorkloadQuery, error) {
	db, err := r.pool.DB(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT query_id, query_text FROM query_workload ORDER BY query_id")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to read query_workload")
	}
	defer rows.Close()

	var queries []models.WorkloadQuery
	for rows.Next() {
		var q models.WorkloadQuery
		if err := rows.Scan(&q.Number, &q.Text); err != nil {
			return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to scan workload query")
		}
		queries = append(queries, q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to iterate query_workload")
	}
	return queries, nil
}

// Reset drops the workload table.
func (r *workloadRepository) Reset(ctx context.Context) error {
	db, err := r.pool.DB(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS query_workload"); err != nil {
		return errors.Wrap(err, errors.CodeQueryFailed, "failed to drop query_workload")
	}
	return nil
}
