// Package postgres implements the database.SQLAdapter contract on top of
// pgx's connection pool. It is safe for concurrent use by multiple
// goroutines.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianweb/meridian/internal/database"
	"github.com/meridianweb/meridian/internal/database/querylog"
	"github.com/meridianweb/meridian/internal/errs"
	"github.com/meridianweb/meridian/internal/logger"
)

// closeTimeout bounds Close so shutdown never hangs on a stuck pool.
const closeTimeout = 3 * time.Second

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting one
// adapter code path serve pooled and transactional connections.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Adapter is a PostgreSQL implementation of database.SQLAdapter.
type Adapter struct {
	mu              sync.Mutex
	cfg             *database.Config
	pool            *pgxpool.Pool
	run             querier
	inTx            bool
	connected       bool
	lastHealthCheck time.Time

	qlog *querylog.Logger // shared by reference, may be nil
	log  *logger.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithQueryLog attaches a shared query logger.
func WithQueryLog(q *querylog.Logger) Option {
	return func(a *Adapter) { a.qlog = q }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// New constructs an unconnected Adapter. Call Connect before use, or let
// the first Query/Execute establish the connection.
func New(cfg *database.Config, opts ...Option) *Adapter {
	a := &Adapter{
		cfg: cfg.Normalize(),
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Driver returns database.DriverPostgres.
func (a *Adapter) Driver() database.Driver { return database.DriverPostgres }

// Connected reports whether the adapter holds a live pool.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Connect establishes the connection pool, retrying transient failures
// with linear backoff (retryDelay × (attempt+1)) up to MaxRetries before
// propagating the final error. Config errors fail immediately.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	return a.connectLocked(ctx)
}

func (a *Adapter) connectLocked(ctx context.Context) error {
	if a.inTx {
		return errs.New(errs.ErrKindNotConnected, "postgres: transaction connection lost")
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	poolCfg, err := pgxpool.ParseConfig(buildDSN(a.cfg))
	if err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "postgres: invalid config", err)
	}
	poolCfg.MaxConns = a.cfg.MaxConns
	poolCfg.MinConns = a.cfg.MinConns
	poolCfg.MaxConnLifetime = a.cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = a.cfg.MaxConnIdleTime
	poolCfg.ConnConfig.ConnectTimeout = a.cfg.ConnectTimeout

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				a.pool = pool
				a.run = pool
				a.connected = true
				a.lastHealthCheck = time.Now()
				a.log.With().Str("driver", "postgres").Int("attempt", attempt).Logger().
					Debug("connected")
				return nil
			}
			pool.Close()
		}
		lastErr = err

		if attempt == a.cfg.MaxRetries {
			break
		}
		delay := a.cfg.RetryDelay * time.Duration(attempt+1)
		a.log.With().Str("driver", "postgres").Int("attempt", attempt).Dur("retry_in", delay).Err(err).Logger().
			Warn("connect failed, retrying")
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.ErrKindTimeout, "postgres: connect cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, "postgres: connect failed after retries", lastErr)
}

// ensureConnection reconnects a dropped adapter and runs the periodic
// health probe, forcing a reconnect when the probe reports unhealthy.
func (a *Adapter) ensureConnection(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inTx {
		// Transactional adapters live exactly as long as their tx.
		return nil
	}
	if !a.connected {
		return a.connectLocked(ctx)
	}
	if time.Since(a.lastHealthCheck) < a.cfg.HealthCheckInterval {
		return nil
	}

	if err := a.pool.Ping(ctx); err != nil {
		a.log.With().Str("driver", "postgres").Err(err).Logger().
			Warn("health probe failed, reconnecting")
		a.pool.Close()
		a.connected = false
		return a.connectLocked(ctx)
	}
	a.lastHealthCheck = time.Now()
	return nil
}

// Query executes a read statement. ? placeholders are rewritten to the
// $1, $2, … positional syntax pgx expects.
func (a *Adapter) Query(ctx context.Context, sql string, args ...any) ([]database.Record, error) {
	if err := a.ensureConnection(ctx); err != nil {
		return nil, err
	}

	sql = TranslatePlaceholders(sql)
	start := time.Now()
	rows, err := a.run.Query(ctx, sql, args...)
	if err != nil {
		a.qlog.Log(querylog.TypeQuery, sql, args, time.Since(start), err)
		return nil, mapError(err, "postgres: query failed")
	}

	records, err := database.ScanRows(&pgxRows{rows: rows})
	a.qlog.Log(querylog.TypeQuery, sql, args, time.Since(start), err)
	if err != nil {
		return nil, mapError(err, "postgres: query failed")
	}
	return records, nil
}

// Execute runs a mutation statement. Postgres reports affected rows but
// has no last-insert-id concept; use INSERT … RETURNING through Query
// when the generated key is needed.
func (a *Adapter) Execute(ctx context.Context, sql string, args ...any) (database.ExecResult, error) {
	if err := a.ensureConnection(ctx); err != nil {
		return database.ExecResult{}, err
	}

	sql = TranslatePlaceholders(sql)
	start := time.Now()
	tag, err := a.run.Exec(ctx, sql, args...)
	a.qlog.Log(querylog.TypeExecute, sql, args, time.Since(start), err)
	if err != nil {
		return database.ExecResult{}, mapError(err, "postgres: execute failed")
	}
	return database.ExecResult{AffectedRows: tag.RowsAffected()}, nil
}

// Transaction runs fn inside a database transaction. fn receives a new
// adapter bound to the transactional connection; nested Transaction calls
// on it become savepoints. On error or panic the transaction is rolled
// back before the error (or panic) propagates.
func (a *Adapter) Transaction(ctx context.Context, fn func(ctx context.Context, tx database.SQLAdapter) error) error {
	if err := a.ensureConnection(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	run := a.run
	a.mu.Unlock()

	tx, err := run.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "postgres: begin failed", err)
	}

	txAdapter := &Adapter{
		cfg:       a.cfg,
		run:       tx,
		inTx:      true,
		connected: true,
		qlog:      a.qlog,
		log:       a.log,
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, txAdapter); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			// The caller's error still wins; the rollback failure is
			// only logged.
			a.log.ErrorWith("postgres: rollback failed", rbErr, nil)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "postgres: commit failed", err)
	}
	return nil
}

// Close drains the pool. Idempotent; bounded by closeTimeout so shutdown
// cannot hang. On timeout local state is cleared and a warning logged.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pool == nil {
		a.connected = false
		return nil
	}

	done := make(chan struct{})
	pool := a.pool
	go func() {
		pool.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		a.log.Warn("postgres: close timed out, discarding pool")
	case <-ctx.Done():
		a.log.Warn("postgres: close cancelled, discarding pool")
	}

	a.pool = nil
	a.run = nil
	a.connected = false
	return nil
}

// HealthCheck issues SELECT 1 and reports latency. A failed probe is
// reported in the result, never as an error.
func (a *Adapter) HealthCheck(ctx context.Context) database.HealthCheckResult {
	result := database.HealthCheckResult{Timestamp: time.Now()}

	a.mu.Lock()
	run := a.run
	connected := a.connected || a.inTx
	a.mu.Unlock()

	if !connected || run == nil {
		result.Error = "not connected"
		return result
	}

	start := time.Now()
	if _, err := run.Exec(ctx, "SELECT 1"); err != nil {
		result.Latency = time.Since(start)
		result.Error = err.Error()
		return result
	}

	result.Latency = time.Since(start)
	result.Healthy = true

	a.mu.Lock()
	a.lastHealthCheck = result.Timestamp
	a.mu.Unlock()
	return result
}

// PoolStatus snapshots pgxpool counters. Waiting carries the cumulative
// count of acquires that had to wait for a free connection.
func (a *Adapter) PoolStatus() database.PoolStatus {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()

	if pool == nil {
		return database.PoolStatus{}
	}
	stat := pool.Stat()
	return database.PoolStatus{
		Total:   int(stat.TotalConns()),
		Active:  int(stat.AcquiredConns()),
		Idle:    int(stat.IdleConns()),
		Waiting: int(stat.EmptyAcquireCount()),
	}
}

// buildDSN constructs the postgres connection string from the config.
func buildDSN(cfg *database.Config) string {
	if cfg.URI != "" {
		return cfg.URI
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.Username, cfg.Password, cfg.Database, sslMode,
	)
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Close()                 { r.rows.Close() }
func (r *pgxRows) Err() error             { return r.rows.Err() }

func (r *pgxRows) Columns() ([]string, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}
	return cols, nil
}

// --- error mapping ---

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes); class 08 is
	// connection errors.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := errs.ErrKindQueryFailed
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			kind = errs.ErrKindConnectionFailed
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
