// Package pool provides database connection pooling for DuckDB.
package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/duckprof/pkg/errors"
)

// Config represents pool configuration.
type Config struct {
	DSN                string        `json:"dsn"`
	MaxOpenConnections int           `json:"max_open_connections"`
	MaxIdleConnections int           `json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `json:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `json:"health_check_period"`
	ConnectionTimeout  time.Duration `json:"connection_timeout"`

	EnableCircuitBreaker    bool          `json:"enable_circuit_breaker"`
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `json:"circuit_breaker_timeout"`
	EnableSlowQueryLogging  bool          `json:"enable_slow_query_logging"`
	SlowQueryThreshold      time.Duration `json:"slow_query_threshold"`
}

// ConnectionPool manages database connections.
type ConnectionPool interface {
	// DB returns the shared handle. Use it for stateless statements only.
	DB(ctx context.Context) (*sql.DB, error)
	// Conn returns a dedicated session. Session-scoped settings such as
	// profiling pragmas must only be changed on a Conn.
	Conn(ctx context.Context) (*sql.Conn, error)
	// Discard closes a session instead of returning it to the pool.
	Discard(conn *sql.Conn) error
	// QueryLogger returns the logger for statement timings.
	QueryLogger() *QueryLogger
	// Stats returns pool statistics.
	Stats() PoolStats
	// HealthCheck performs a health check on the pool.
	HealthCheck(ctx context.Context) error
	// Close closes the connection pool.
	Close() error
	// SetMetricsCollector sets the metrics collector.
	SetMetricsCollector(collector MetricsCollector)
}

// MetricsCollector receives pool metrics.
type MetricsCollector interface {
	RecordConnectionAcquisition(duration time.Duration)
	UpdateActiveConnections(count int)
	IncrementCircuitBreakerTrip()
}

// PoolStats represents connection pool statistics.
type PoolStats struct {
	OpenConnections     int           `json:"open_connections"`
	InUse               int           `json:"in_use"`
	Idle                int           `json:"idle"`
	WaitCount           int64         `json:"wait_count"`
	WaitDuration        time.Duration `json:"wait_duration"`
	Discarded           int64         `json:"discarded"`
	LastHealthCheck     time.Time     `json:"last_health_check"`
	HealthCheckStatus   string        `json:"health_check_status"`
	CircuitBreakerState string        `json:"circuit_breaker_state,omitempty"`
}

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after a run of failed acquisitions.
type CircuitBreaker struct {
	state           atomic.Int32
	failures        atomic.Int64
	lastFailureTime atomic.Int64
	threshold       int
	timeout         time.Duration
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
	}
}

// CanExecute checks if the circuit breaker allows execution.
func (cb *CircuitBreaker) CanExecute() bool {
	switch CircuitBreakerState(cb.state.Load()) {
	case CircuitBreakerClosed, CircuitBreakerHalfOpen:
		return true
	case CircuitBreakerOpen:
		if time.Since(time.Unix(0, cb.lastFailureTime.Load())) > cb.timeout {
			return cb.state.CompareAndSwap(int32(CircuitBreakerOpen), int32(CircuitBreakerHalfOpen))
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(int32(CircuitBreakerClosed))
}

// RecordFailure records a failed operation and reports whether the breaker tripped.
func (cb *CircuitBreaker) RecordFailure() bool {
	failures := cb.failures.Add(1)
	cb.lastFailureTime.Store(time.Now().UnixNano())

	if failures >= int64(cb.threshold) {
		return cb.state.Swap(int32(CircuitBreakerOpen)) != int32(CircuitBreakerOpen)
	}
	return false
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// QueryLogger logs statement timings, escalating slow statements to warn.
type QueryLogger struct {
	logger    zerolog.Logger
	threshold time.Duration
	enabled   bool
}

// NewQueryLogger creates a new query logger.
func NewQueryLogger(logger zerolog.Logger, threshold time.Duration, enabled bool) *QueryLogger {
	return &QueryLogger{
		logger:    logger,
		threshold: threshold,
		enabled:   enabled,
	}
}

// LogQuery logs one statement execution.
func (ql *QueryLogger) LogQuery(query string, duration time.Duration, err error) {
	if ql == nil || !ql.enabled {
		return
	}

	event := ql.logger.Debug()
	if duration > ql.threshold {
		event = ql.logger.Warn().Bool("slow_query", true)
	}

	event.
		Dur("duration", duration).
		Str("query", truncateQuery(query)).
		Bool("success", err == nil).
		Msg("Statement executed")
}

type connectionPool struct {
	db     *sql.DB
	config Config
	logger zerolog.Logger

	closed atomic.Bool

	lastHealthCheck atomic.Int64
	healthStatus    atomic.Value

	ctx    context.Context
	cancel context.CancelFunc

	waitCount    atomic.Int64
	waitDuration atomic.Int64
	discarded    atomic.Int64

	circuitBreaker   *CircuitBreaker
	queryLogger      *QueryLogger
	metricsCollector MetricsCollector
	mu               sync.RWMutex
}

// New opens a DuckDB database and verifies it with a health check.
func New(cfg Config, logger zerolog.Logger) (ConnectionPool, error) {
	if cfg.DSN == "" {
		cfg.DSN = ":memory:"
	}
	if cfg.MaxOpenConnections <= 0 {
		cfg.MaxOpenConnections = 8
	}
	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = 4
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 10 * time.Minute
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = 60 * time.Second
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = time.Second
	}

	logger.Info().
		Str("dsn", maskDSN(cfg.DSN)).
		Int("max_open", cfg.MaxOpenConnections).
		Int("max_idle", cfg.MaxIdleConnections).
		Bool("circuit_breaker", cfg.EnableCircuitBreaker).
		Msg("Opening DuckDB connection pool")

	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithCancel(context.Background())

	p := &connectionPool{
		db:          db,
		config:      cfg,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		queryLogger: NewQueryLogger(logger, cfg.SlowQueryThreshold, cfg.EnableSlowQueryLogging),
	}
	if cfg.EnableCircuitBreaker {
		p.circuitBreaker = NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
	}
	p.healthStatus.Store("unknown")

	connCtx, connCancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer connCancel()

	if err := p.HealthCheck(connCtx); err != nil {
		db.Close()
		cancel()
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "initial health check failed")
	}

	if cfg.HealthCheckPeriod > 0 {
		go p.healthCheckRoutine(ctx)
	}

	return p, nil
}

func (p *connectionPool) admit() error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}
	if p.circuitBreaker != nil && !p.circuitBreaker.CanExecute() {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "circuit breaker is open")
	}
	return nil
}

func (p *connectionPool) recordOutcome(err error) {
	if p.circuitBreaker == nil {
		return
	}
	if err == nil {
		p.circuitBreaker.RecordSuccess()
		return
	}
	if p.circuitBreaker.RecordFailure() {
		p.logger.Warn().Err(err).Msg("Circuit breaker opened")
		if mc := p.collector(); mc != nil {
			mc.IncrementCircuitBreakerTrip()
		}
	}
}

func (p *connectionPool) trackWait(start time.Time) {
	duration := time.Since(start)
	p.waitCount.Add(1)
	p.waitDuration.Add(int64(duration))

	if mc := p.collector(); mc != nil {
		mc.RecordConnectionAcquisition(duration)
		mc.UpdateActiveConnections(p.db.Stats().InUse)
	}
}

// DB returns the shared database handle.
func (p *connectionPool) DB(ctx context.Context) (*sql.DB, error) {
	if err := p.admit(); err != nil {
		return nil, err
	}
	defer p.trackWait(time.Now())

	err := p.db.PingContext(ctx)
	p.recordOutcome(err)
	if err != nil {
		p.logger.Error().Err(err).Msg("Database ping failed")
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "database connection failed")
	}
	return p.db, nil
}

// Conn returns a dedicated session.
func (p *connectionPool) Conn(ctx context.Context) (*sql.Conn, error) {
	if err := p.admit(); err != nil {
		return nil, err
	}
	defer p.trackWait(time.Now())

	conn, err := p.db.Conn(ctx)
	p.recordOutcome(err)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, pkgerrors.FromContext(err)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "failed to acquire session")
	}
	return conn, nil
}

// Discard drops a session whose state can no longer be trusted.
func (p *connectionPool) Discard(conn *sql.Conn) error {
	p.discarded.Add(1)
	// Returning ErrBadConn from Raw makes database/sql close the driver connection.
	err := conn.Raw(func(interface{}) error { return driver.ErrBadConn })
	if err != nil && !errors.Is(err, driver.ErrBadConn) {
		return err
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

// QueryLogger returns the statement logger.
func (p *connectionPool) QueryLogger() *QueryLogger {
	return p.queryLogger
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	dbStats := p.db.Stats()

	stats := PoolStats{
		OpenConnections:   dbStats.OpenConnections,
		InUse:             dbStats.InUse,
		Idle:              dbStats.Idle,
		WaitCount:         p.waitCount.Load(),
		WaitDuration:      time.Duration(p.waitDuration.Load()),
		Discarded:         p.discarded.Load(),
		LastHealthCheck:   time.Unix(p.lastHealthCheck.Load(), 0),
		HealthCheckStatus: p.getHealthStatus(),
	}
	if p.circuitBreaker != nil {
		stats.CircuitBreakerState = p.circuitBreaker.State().String()
	}
	return stats
}

// SetMetricsCollector sets the metrics collector.
func (p *connectionPool) SetMetricsCollector(collector MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metricsCollector = collector
}

func (p *connectionPool) collector() MetricsCollector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metricsCollector
}

// HealthCheck performs a health check on the pool.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}

	var result int
	if err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		p.updateHealthStatus("unhealthy", err.Error())
		return pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "health check query failed")
	}

	p.updateHealthStatus("healthy", "")
	return nil
}

// Close closes the connection pool.
func (p *connectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.logger.Info().Msg("Closing DuckDB connection pool")
	p.cancel()

	if err := p.db.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to close database")
	}
	return nil
}

func (p *connectionPool) healthCheckRoutine(ctx context.Context) {
	ticker := time.NewTicker(p.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.HealthCheck(checkCtx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error().Err(err).Msg("Periodic health check failed")
			}
			cancel()
		}
	}
}

func (p *connectionPool) updateHealthStatus(status, detail string) {
	p.lastHealthCheck.Store(time.Now().Unix())
	p.healthStatus.Store(status)

	if status == "unhealthy" && detail != "" {
		p.logger.Warn().
			Str("status", status).
			Str("detail", detail).
			Msg("Connection pool health status changed")
	}
}

func (p *connectionPool) getHealthStatus() string {
	if v := p.healthStatus.Load(); v != nil {
		return v.(string)
	}
	return "unknown"
}

// maskDSN hides credentials in URL-like DSNs and shortens plain paths.
func maskDSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return dsn
	}

	u, err := url.Parse(dsn)
	if err == nil && (u.Scheme != "" || u.Host != "" || u.User != nil || u.RawQuery != "") {
		if ui := u.User; ui != nil {
			if _, hasPass := ui.Password(); hasPass {
				u.User = url.UserPassword(ui.Username(), "*****")
			}
		}
		q := u.Query()
		for k := range q {
			if isSensitiveKey(k) {
				q.Set(k, "*****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	runes := []rune(dsn)
	if len(runes) <= 10 {
		return "***"
	}
	return string(runes[:3]) + "***" + string(runes[len(runes)-3:])
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "pass") ||
		strings.Contains(key, "token") ||
		strings.Contains(key, "secret") ||
		strings.HasSuffix(key, "key")
}

func truncateQuery(query string) string {
	const maxLen = 100
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
