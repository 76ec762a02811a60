package duckdb

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/duckprof/pkg/infrastructure/pool"
)

func newTestPool(t *testing.T) pool.ConnectionPool {
	t.Helper()
	p, err := pool.New(pool.Config{DSN: ":memory:"}, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

// sqlPool adapts a bare *sql.DB (for example a sqlmock handle) to pool.ConnectionPool.
type sqlPool struct {
	db *sql.DB
}

func (p *sqlPool) DB(context.Context) (*sql.DB, error)             { return p.db, nil }
func (p *sqlPool) Conn(ctx context.Context) (*sql.Conn, error)     { return p.db.Conn(ctx) }
func (p *sqlPool) Discard(conn *sql.Conn) error                    { return conn.Close() }
func (p *sqlPool) QueryLogger() *pool.QueryLogger                  { return nil }
func (p *sqlPool) Stats() pool.PoolStats                           { return pool.PoolStats{} }
func (p *sqlPool) HealthCheck(context.Context) error               { return nil }
func (p *sqlPool) Close() error                                    { return p.db.Close() }
func (p *sqlPool) SetMetricsCollector(collector pool.MetricsCollector) {}
