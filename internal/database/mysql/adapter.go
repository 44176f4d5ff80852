// Package mysql implements the database.SQLAdapter contract on top of
// database/sql with the go-sql-driver. It is safe for concurrent use by
// multiple goroutines.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"github.com/meridianweb/meridian/internal/database"
	"github.com/meridianweb/meridian/internal/database/querylog"
	"github.com/meridianweb/meridian/internal/errs"
	"github.com/meridianweb/meridian/internal/logger"
)

const closeTimeout = 3 * time.Second

// querier is satisfied by *sql.DB and *sql.Tx, letting one adapter code
// path serve pooled and transactional connections.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Adapter is a MySQL implementation of database.SQLAdapter.
type Adapter struct {
	mu              sync.Mutex
	cfg             *database.Config
	db              *sql.DB
	run             querier
	inTx            bool
	connected       bool
	lastHealthCheck time.Time

	qlog *querylog.Logger
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

// New constructs an unconnected Adapter.
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

// Driver returns database.DriverMySQL.
func (a *Adapter) Driver() database.Driver { return database.DriverMySQL }

// Connected reports whether the adapter holds a live handle.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Connect opens the connection pool, retrying transient failures with
// linear backoff up to MaxRetries before propagating the final error.
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
		return errs.New(errs.ErrKindNotConnected, "mysql: transaction connection lost")
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	dsn, err := BuildDSN(a.cfg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		db, err := sql.Open("mysql", dsn)
		if err == nil {
			db.SetMaxOpenConns(int(a.cfg.MaxConns))
			db.SetMaxIdleConns(int(a.cfg.MinConns))
			db.SetConnMaxLifetime(a.cfg.MaxConnLifetime)
			db.SetConnMaxIdleTime(a.cfg.MaxConnIdleTime)

			pingCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
			err = db.PingContext(pingCtx)
			cancel()

			if err == nil {
				a.db = db
				a.run = db
				a.connected = true
				a.lastHealthCheck = time.Now()
				a.log.With().Str("driver", "mysql").Int("attempt", attempt).Logger().
					Debug("connected")
				return nil
			}
			_ = db.Close()
		}
		lastErr = err

		if attempt == a.cfg.MaxRetries {
			break
		}
		delay := a.cfg.RetryDelay * time.Duration(attempt+1)
		a.log.With().Str("driver", "mysql").Int("attempt", attempt).Dur("retry_in", delay).Err(err).Logger().
			Warn("connect failed, retrying")
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.ErrKindTimeout, "mysql: connect cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, "mysql: connect failed after retries", lastErr)
}

// ensureConnection reconnects a dropped adapter and runs the periodic
// health probe, forcing a reconnect when the probe reports unhealthy.
func (a *Adapter) ensureConnection(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inTx {
		return nil
	}
	if !a.connected {
		return a.connectLocked(ctx)
	}
	if time.Since(a.lastHealthCheck) < a.cfg.HealthCheckInterval {
		return nil
	}

	if err := a.db.PingContext(ctx); err != nil {
		a.log.With().Str("driver", "mysql").Err(err).Logger().
			Warn("health probe failed, reconnecting")
		_ = a.db.Close()
		a.connected = false
		return a.connectLocked(ctx)
	}
	a.lastHealthCheck = time.Now()
	return nil
}

// Query executes a read statement. MySQL accepts ? placeholders natively.
func (a *Adapter) Query(ctx context.Context, query string, args ...any) ([]database.Record, error) {
	if err := a.ensureConnection(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := a.run.QueryContext(ctx, query, args...)
	if err != nil {
		a.qlog.Log(querylog.TypeQuery, query, args, time.Since(start), err)
		return nil, mapError(err, "mysql: query failed")
	}

	records, err := database.ScanRows(&sqlRows{rows: rows})
	a.qlog.Log(querylog.TypeQuery, query, args, time.Since(start), err)
	if err != nil {
		return nil, mapError(err, "mysql: query failed")
	}
	return records, nil
}

// Execute runs a mutation statement.
func (a *Adapter) Execute(ctx context.Context, query string, args ...any) (database.ExecResult, error) {
	if err := a.ensureConnection(ctx); err != nil {
		return database.ExecResult{}, err
	}

	start := time.Now()
	res, err := a.run.ExecContext(ctx, query, args...)
	a.qlog.Log(querylog.TypeExecute, query, args, time.Since(start), err)
	if err != nil {
		return database.ExecResult{}, mapError(err, "mysql: execute failed")
	}

	affected, _ := res.RowsAffected()
	insertID, _ := res.LastInsertId()
	return database.ExecResult{AffectedRows: affected, InsertID: insertID}, nil
}

// Transaction runs fn inside a driver-native transaction. fn receives a
// new adapter bound to the transactional connection. A nested Transaction
// call on that adapter joins the same transaction rather than opening a
// new one.
func (a *Adapter) Transaction(ctx context.Context, fn func(ctx context.Context, tx database.SQLAdapter) error) error {
	a.mu.Lock()
	if a.inTx {
		a.mu.Unlock()
		return fn(ctx, a)
	}
	a.mu.Unlock()

	if err := a.ensureConnection(ctx); err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "mysql: begin failed", err)
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
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, txAdapter); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.log.ErrorWith("mysql: rollback failed", rbErr, nil)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "mysql: commit failed", err)
	}
	return nil
}

// Close releases the pool. Idempotent; bounded by a timeout guard so
// shutdown never hangs. Local state is always cleared.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		a.connected = false
		return nil
	}

	done := make(chan error, 1)
	db := a.db
	go func() { done <- db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			a.log.WarnWith("mysql: close reported error", map[string]any{"error": err.Error()})
		}
	case <-time.After(closeTimeout):
		a.log.Warn("mysql: close timed out, discarding handle")
	case <-ctx.Done():
		a.log.Warn("mysql: close cancelled, discarding handle")
	}

	a.db = nil
	a.run = nil
	a.connected = false
	return nil
}

// HealthCheck issues SELECT 1 and reports latency.
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
	if _, err := run.ExecContext(ctx, "SELECT 1"); err != nil {
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

// PoolStatus snapshots database/sql pool counters. Waiting carries the
// cumulative count of waits for a free connection.
func (a *Adapter) PoolStatus() database.PoolStatus {
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()

	if db == nil {
		return database.PoolStatus{}
	}
	stats := db.Stats()
	return database.PoolStatus{
		Total:   stats.OpenConnections,
		Active:  stats.InUse,
		Idle:    stats.Idle,
		Waiting: int(stats.WaitCount),
	}
}

// BuildDSN constructs the go-sql-driver DSN from the config. ANSI_QUOTES
// is forced so the query builder's double-quoted identifiers parse.
func BuildDSN(cfg *database.Config) (string, error) {
	if cfg.URI != "" {
		return cfg.URI, nil
	}

	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	mc := mysqldrv.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Timeout = cfg.ConnectTimeout
	mc.Params = map[string]string{
		"sql_mode": "'ANSI_QUOTES'",
	}

	return mc.FormatDSN(), nil
}

// --- database/sql type wrappers ---

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool                 { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error     { return r.rows.Scan(dest...) }
func (r *sqlRows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *sqlRows) Close()                     { _ = r.rows.Close() }
func (r *sqlRows) Err() error                 { return r.rows.Err() }

// --- error mapping ---

// mapError translates go-sql-driver errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var mysqlErr *mysqldrv.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.Wrap(
			classifyCode(mysqlErr.Number),
			fmt.Sprintf("%s: %s", msg, mysqlErr.Message),
			err,
		)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifyCode maps MySQL server error numbers to ErrKind.
func classifyCode(code uint16) errs.ErrKind {
	switch code {
	case 1040, 1044, 1045, 1046, 1049, 1203:
		return errs.ErrKindConnectionFailed
	default:
		return errs.ErrKindQueryFailed
	}
}
