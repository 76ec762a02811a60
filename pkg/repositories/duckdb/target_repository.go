// Package duckdb provides DuckDB-specific repository implementations.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/infrastructure/pool"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/repositories"
)

// explainValueColumn holds the plan text in DuckDB's EXPLAIN output.
const explainValueColumn = "explain_value"

// sampleValueLimit caps the length of one sample value.
const sampleValueLimit = 80

// targetRepository implements repositories.TargetRepository for DuckDB.
type targetRepository struct {
	pool   pool.ConnectionPool
	logger zerolog.Logger
}

// NewTargetRepository creates a repository over the target database pool.
func NewTargetRepository(p pool.ConnectionPool, logger zerolog.Logger) repositories.TargetRepository {
	return &targetRepository{
		pool:   p,
		logger: logger.With().Str("component", "target_repository").Logger(),
	}
}

// Session acquires a dedicated connection.
func (r *targetRepository) Session(ctx context.Context) (repositories.TargetSession, error) {
	conn, err := r.pool.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &targetSession{
		conn:        conn,
		pool:        r.pool,
		queryLogger: r.pool.QueryLogger(),
		logger:      r.logger,
	}, nil
}

// Schema lists the tables of the current schema with their columns and the
// non-null values of the first few rows.
func (r *targetRepository) Schema(ctx context.Context) ([]models.TableSchema, error) {
	conn, err := r.pool.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	names, err := showTables(ctx, conn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to list tables")
	}

	tables := make([]models.TableSchema, 0, len(names))
	for _, name := range names {
		cols, err := describeTable(ctx, conn, name)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeQueryFailed, "failed to describe table %s", name)
		}
		if err := sampleColumns(ctx, conn, name, cols); err != nil {
			return nil, errors.Wrapf(err, errors.CodeQueryFailed, "failed to sample table %s", name)
		}
		tables = append(tables, models.TableSchema{Name: name, Columns: cols})
	}

	r.logger.Debug().Int("tables", len(tables)).Msg("Schema extracted")
	return tables, nil
}

func showTables(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// describeTable reads DESCRIBE output by column name; its layout has grown
// between DuckDB releases.
func describeTable(ctx context.Context, conn *sql.Conn, table string) ([]models.ColumnSchema, error) {
	rows, err := conn.QueryContext(ctx, "DESCRIBE "+quoteIdent(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	nameIdx, typeIdx, nullIdx := -1, -1, -1
	for i, n := range names {
		switch strings.ToLower(n) {
		case "column_name":
			nameIdx = i
		case "column_type":
			typeIdx = i
		case "null":
			nullIdx = i
		}
	}
	if nameIdx < 0 || typeIdx < 0 {
		return nil, fmt.Errorf("unexpected describe columns: %v", names)
	}

	values := make([]sql.NullString, len(names))
	dest := make([]interface{}, len(names))
	for i := range values {
		dest[i] = &values[i]
	}

	var cols []models.ColumnSchema
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		col := models.ColumnSchema{
			Name:         values[nameIdx].String,
			Type:         values[typeIdx].String,
			Nullable:     true,
			SampleValues: []string{},
		}
		if nullIdx >= 0 {
			col.Nullable = !strings.EqualFold(values[nullIdx].String, "NO")
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// sampleColumns fills SampleValues from the first rows of the table.
func sampleColumns(ctx context.Context, conn *sql.Conn, table string, cols []models.ColumnSchema) error {
	stmt := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), models.SchemaSampleLimit)
	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return err
	}
	if len(names) != len(cols) {
		return fmt.Errorf("table has %d columns, describe reported %d", len(names), len(cols))
	}

	values := make([]interface{}, len(names))
	dest := make([]interface{}, len(names))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		for i, v := range values {
			if v == nil {
				continue
			}
			cols[i].SampleValues = append(cols[i].SampleValues, sampleString(v))
		}
	}
	return rows.Err()
}

func sampleString(v interface{}) string {
	var s string
	switch t := v.(type) {
	case []byte:
		s = string(t)
	case time.Time:
		s = t.Format(time.RFC3339Nano)
	default:
		s = fmt.Sprint(t)
	}
	if r := []rune(s); len(r) > sampleValueLimit {
		s = string(r[:sampleValueLimit]) + "..."
	}
	return s
}

// targetSession wraps a *sql.Conn. Profiling pragmas are connection scoped,
// so a session that cannot confirm profiling was disabled is discarded on Close.
type targetSession struct {
	conn        *sql.Conn
	pool        pool.ConnectionPool
	queryLogger *pool.QueryLogger
	logger      zerolog.Logger
	profiling   bool
}

// ExplainAnalyze runs EXPLAIN ANALYZE and returns the plan text of the first row.
func (s *targetSession) ExplainAnalyze(ctx context.Context, query string) (string, error) {
	stmt := "EXPLAIN ANALYZE " + query

	start := time.Now()
	rows, err := s.conn.QueryContext(ctx, stmt)
	if err != nil {
		s.queryLogger.LogQuery(stmt, time.Since(start), err)
		return "", errors.Wrap(err, errors.CodeQueryFailed, "explain analyze failed")
	}
	defer rows.Close()

	plan, err := readPlanText(rows)
	s.queryLogger.LogQuery(stmt, time.Since(start), err)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeQueryFailed, "failed to read explain output")
	}
	return plan, nil
}

// readPlanText picks the explain_value column of the first row, falling back
// to the first column.
func readPlanText(rows *sql.Rows) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("explain returned no columns")
	}

	idx := 0
	for i, c := range cols {
		if strings.EqualFold(c, explainValueColumn) {
			idx = i
			break
		}
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("explain returned no rows")
	}

	values := make([]sql.NullString, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return "", err
	}

	// Drain the remaining rows so the connection is clean for the next statement.
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	return values[idx].String, nil
}

// EnableProfiling switches the session to JSON profiling written to outputPath.
func (s *targetSession) EnableProfiling(ctx context.Context, format, outputPath string) error {
	stmts := []string{
		fmt.Sprintf("PRAGMA enable_profiling = %s", quoteLiteral(format)),
		fmt.Sprintf("PRAGMA profiling_output = %s", quoteLiteral(outputPath)),
		"PRAGMA profiling_mode = 'standard'",
	}

	s.profiling = true
	for _, stmt := range stmts {
		if err := s.exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, errors.CodeExtractionFailed, "failed to enable profiling: %s", stmt)
		}
	}
	return nil
}

// DisableProfiling turns profiling off for the session.
func (s *targetSession) DisableProfiling(ctx context.Context) error {
	if err := s.exec(ctx, "PRAGMA disable_profiling"); err != nil {
		return errors.Wrap(err, errors.CodeExtractionFailed, "failed to disable profiling")
	}
	s.profiling = false
	return nil
}

// Execute runs the query and counts the rows it returns.
func (s *targetSession) Execute(ctx context.Context, query string) (*repositories.ExecutionStats, error) {
	stats := &repositories.ExecutionStats{}
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		stats.Duration = time.Since(start)
		s.queryLogger.LogQuery(query, stats.Duration, err)
		return stats, errors.Wrap(err, errors.CodeQueryFailed, "query execution failed")
	}

	for rows.Next() {
		stats.RowCount++
	}
	err = rows.Err()
	rows.Close()

	stats.Duration = time.Since(start)
	s.queryLogger.LogQuery(query, stats.Duration, err)

	if err != nil {
		return stats, errors.Wrap(err, errors.CodeQueryFailed, "failed reading query results")
	}
	return stats, nil
}

// Close returns the connection to the pool, or discards it if profiling may still be on.
func (s *targetSession) Close() error {
	if s.profiling {
		s.logger.Warn().Msg("Discarding session with profiling still enabled")
		return s.pool.Discard(s.conn)
	}
	return s.conn.Close()
}

func (s *targetSession) exec(ctx context.Context, stmt string) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx, stmt)
	s.queryLogger.LogQuery(stmt, time.Since(start), err)
	return err
}

// quoteIdent renders s as a quoted SQL identifier.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// quoteLiteral renders s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
