package duckdb

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/infrastructure/pool"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/repositories"
)

// QueryLogTable is the table holding the analysis log.
const QueryLogTable = "query_log"

const createQueryLogSQL = `CREATE TABLE IF NOT EXISTS query_log (
    query_id INTEGER PRIMARY KEY,
    query_text VARCHAR NOT NULL,
    explain_text VARCHAR NOT NULL,
    exec_time_ms DOUBLE NOT NULL DEFAULT 0,
    scanned_rows BIGINT NOT NULL DEFAULT 0,
    returned_rows BIGINT NOT NULL DEFAULT 0,
    joins_expected INTEGER NOT NULL DEFAULT 0,
    joins_detected INTEGER NOT NULL DEFAULT 0,
    aggs_expected INTEGER NOT NULL DEFAULT 0,
    aggs_detected INTEGER NOT NULL DEFAULT 0,
    recommendation VARCHAR NOT NULL,
    recommendation_snippets VARCHAR NOT NULL DEFAULT '',
    bottleneck_operator VARCHAR NOT NULL DEFAULT '',
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message VARCHAR,
    status VARCHAR NOT NULL DEFAULT 'completed',
    logged_at TIMESTAMP NOT NULL
)`

// Logs written before the success/error/status columns existed are upgraded in place.
var migrateQueryLogSQL = []string{
	"ALTER TABLE query_log ADD COLUMN IF NOT EXISTS success BOOLEAN DEFAULT FALSE",
	"ALTER TABLE query_log ADD COLUMN IF NOT EXISTS error_message VARCHAR",
	"ALTER TABLE query_log ADD COLUMN IF NOT EXISTS status VARCHAR DEFAULT 'completed'",
}

const recordColumns = `query_id, query_text, explain_text, exec_time_ms, scanned_rows, returned_rows,
    joins_expected, joins_detected, aggs_expected, aggs_detected, recommendation,
    recommendation_snippets, bottleneck_operator, success, error_message, status, logged_at`

const nextQueryIDSQL = "SELECT COALESCE(MAX(query_id), 0) + 1 FROM query_log"

const insertRecordSQL = `INSERT INTO query_log (` + recordColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// analysisLogRepository implements repositories.AnalysisLogRepository for DuckDB.
// Appends are serialized so that read-max-then-insert is never interleaved.
type analysisLogRepository struct {
	pool   pool.ConnectionPool
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewAnalysisLogRepository creates a new DuckDB analysis log repository.
func NewAnalysisLogRepository(p pool.ConnectionPool, logger zerolog.Logger) repositories.AnalysisLogRepository {
	return &analysisLogRepository{
		pool:   p,
		logger: logger.With().Str("component", "analysis_log").Logger(),
	}
}

// Init creates the log table and upgrades older layouts.
func (r *analysisLogRepository) Init(ctx context.Context) error {
	db, err := r.pool.DB(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodePersistenceFailed, "failed to get database connection")
	}

	if _, err := db.ExecContext(ctx, createQueryLogSQL); err != nil {
		return errors.Wrap(err, errors.CodePersistenceFailed, "failed to create query_log")
	}
	for _, stmt := range migrateQueryLogSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, errors.CodePersistenceFailed, "failed to migrate query_log: %s", stmt)
		}
	}
	return nil
}

// Append allocates the next id and inserts the record in one transaction.
func (r *analysisLogRepository) Append(ctx context.Context, rec *models.QueryRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	db, err := r.pool.DB(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodePersistenceFailed, "failed to get database connection")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodePersistenceFailed, "failed to begin append transaction")
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !stderrors.Is(err, sql.ErrTxDone) {
			r.logger.Error().Err(err).Msg("Failed to rollback append transaction")
		}
	}()

	var id int64
	if err := tx.QueryRowContext(ctx, nextQueryIDSQL).Scan(&id); err != nil {
		return 0, errors.Wrap(err, errors.CodePersistenceFailed, "failed to allocate query id")
	}

	var errMsg interface{}
	if rec.ErrorMessage != "" {
		errMsg = rec.ErrorMessage
	}

	_, err = tx.ExecContext(ctx, insertRecordSQL,
		id,
		rec.QueryText,
		rec.ExplainText,
		rec.ExecTimeMs,
		rec.ScannedRows,
		rec.ReturnedRows,
		rec.JoinsExpected,
		rec.JoinsDetected,
		rec.AggsExpected,
		rec.AggsDetected,
		rec.Recommendation,
		rec.SnippetText(),
		rec.BottleneckOperator,
		rec.Success,
		errMsg,
		string(rec.Status),
		rec.LoggedAt,
	)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodePersistenceFailed, "failed to insert query %d", id)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.CodePersistenceFailed, "failed to commit append")
	}

	rec.QueryID = id
	r.logger.Debug().Int64("query_id", id).Str("status", string(rec.Status)).Msg("Record appended")
	return id, nil
}

// Get returns the record with the given id.
func (r *analysisLogRepository) Get(ctx context.Context, id int64) (*models.QueryRecord, error) {
	db, err := r.pool.DB(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodePersistenceFailed, "failed to get database connection")
	}

	row := db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM query_log WHERE query_id = ?", id)
	rec, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrRecordNotFound, errors.CodeNotFound, "query %d not found", id).
			WithDetail("query_id", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodePersistenceFailed, "failed to read query %d", id)
	}
	return rec, nil
}

// List returns records ordered as requested; slowest first by default.
func (r *analysisLogRepository) List(ctx context.Context, opts models.ListOptions) ([]models.QueryRecord, error) {
	db, err := r.pool.DB(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodePersistenceFailed, "failed to get database connection")
	}

	query := fmt.Sprintf("SELECT %s FROM query_log ORDER BY %s", recordColumns, orderClause(opts.OrderBy))
	var args []interface{}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodePersistenceFailed, "failed to list query log")
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodePersistenceFailed, "failed to scan query record")
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodePersistenceFailed, "failed to iterate query log")
	}
	return records, nil
}

// Count returns the number of records.
func (r *analysisLogRepository) Count(ctx context.Context) (int64, error) {
	db, err := r.pool.DB(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodePersistenceFailed, "failed to get database connection")
	}

	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_log").Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.CodePersistenceFailed, "failed to count query log")
	}
	return n, nil
}

// Reset drops the whole log and recreates an empty one.
func (r *analysisLogRepository) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	db, err := r.pool.DB(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodePersistenceFailed, "failed to get database connection")
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS query_log"); err != nil {
		return errors.Wrap(err, errors.CodePersistenceFailed, "failed to drop query_log")
	}
	r.logger.Warn().Msg("Analysis log reset")

	if _, err := db.ExecContext(ctx, createQueryLogSQL); err != nil {
		return errors.Wrap(err, errors.CodePersistenceFailed, "failed to create query_log")
	}
	return nil
}

func orderClause(order models.ListOrder) string {
	switch order {
	case models.OrderByLoggedAt:
		return "logged_at DESC, query_id DESC"
	case models.OrderByQueryID:
		return "query_id ASC"
	default:
		return "exec_time_ms DESC, query_id ASC"
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.QueryRecord, error) {
	var (
		rec                                 models.QueryRecord
		execTime                            sql.NullFloat64
		scanned, returned                   sql.NullInt64
		joinsExp, joinsDet, aggsExp, aggDet sql.NullInt64
		recommendation, snippets, operator  sql.NullString
		success                             sql.NullBool
		errMsg, status                      sql.NullString
		loggedAt                            sql.NullTime
	)

	err := row.Scan(
		&rec.QueryID,
		&rec.QueryText,
		&rec.ExplainText,
		&execTime,
		&scanned,
		&returned,
		&joinsExp,
		&joinsDet,
		&aggsExp,
		&aggDet,
		&recommendation,
		&snippets,
		&operator,
		&success,
		&errMsg,
		&status,
		&loggedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ExecTimeMs = execTime.Float64
	rec.ScannedRows = scanned.Int64
	rec.ReturnedRows = returned.Int64
	rec.JoinsExpected = int(joinsExp.Int64)
	rec.JoinsDetected = int(joinsDet.Int64)
	rec.AggsExpected = int(aggsExp.Int64)
	rec.AggsDetected = int(aggDet.Int64)
	rec.Recommendation = recommendation.String
	rec.RecommendationSnippets = models.SplitSnippets(snippets.String)
	rec.BottleneckOperator = operator.String
	rec.Success = success.Bool
	rec.ErrorMessage = errMsg.String
	rec.Status = models.RecordStatus(status.String)
	if rec.Status == "" {
		rec.Status = models.StatusCompleted
	}
	if loggedAt.Valid {
		rec.LoggedAt = loggedAt.Time.UTC()
	}
	return &rec, nil
}

// NormalizeTimestamp truncates t to the precision the log stores.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
