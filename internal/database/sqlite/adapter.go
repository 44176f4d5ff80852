// Package sqlite implements the database.SQLAdapter contract on top of
// database/sql with the pure-Go modernc driver. SQLite is file-backed,
// so unlike the network adapters there is no connect retry loop.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/meridianweb/meridian/internal/database"
	"github.com/meridianweb/meridian/internal/database/querylog"
	"github.com/meridianweb/meridian/internal/errs"
	"github.com/meridianweb/meridian/internal/logger"
)

const closeTimeout = 3 * time.Second

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Adapter is a SQLite implementation of database.SQLAdapter.
// Config.Database is the database file path.
type Adapter struct {
	mu        sync.Mutex
	cfg       *database.Config
	db        *sql.DB
	run       querier
	txConn    *sql.Conn // set only on transactional adapters
	inTx      bool
	connected bool

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

// Driver returns database.DriverSQLite.
func (a *Adapter) Driver() database.Driver { return database.DriverSQLite }

// Connected reports whether the adapter holds a live handle.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Connect opens the database file and verifies it with a ping.
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
		return errs.New(errs.ErrKindNotConnected, "sqlite: transaction connection lost")
	}
	if a.cfg.Database == "" {
		return errs.New(errs.ErrKindInvalidInput, "sqlite: database path is required")
	}

	db, err := sql.Open("sqlite", a.cfg.Database)
	if err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "sqlite: open failed", err)
	}

	if strings.Contains(a.cfg.Database, ":memory:") {
		// Each pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(int(a.cfg.MaxConns))
		db.SetMaxIdleConns(int(a.cfg.MinConns))
	}

	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return errs.Wrap(errs.ErrKindConnectionFailed, "sqlite: ping failed", err)
	}

	a.db = db
	a.run = db
	a.connected = true
	a.log.With().Str("driver", "sqlite").Str("path", a.cfg.Database).Logger().Debug("connected")
	return nil
}

// ensureConnection reopens the database when the adapter was closed.
func (a *Adapter) ensureConnection(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inTx || a.connected {
		return nil
	}
	return a.connectLocked(ctx)
}

// Query executes a read statement. SQLite accepts ? placeholders natively.
func (a *Adapter) Query(ctx context.Context, query string, args ...any) ([]database.Record, error) {
	if err := a.ensureConnection(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := a.run.QueryContext(ctx, query, args...)
	if err != nil {
		a.qlog.Log(querylog.TypeQuery, query, args, time.Since(start), err)
		return nil, mapError(err, "sqlite: query failed")
	}

	records, err := database.ScanRows(&sqlRows{rows: rows})
	a.qlog.Log(querylog.TypeQuery, query, args, time.Since(start), err)
	if err != nil {
		return nil, mapError(err, "sqlite: query failed")
	}
	return records, nil
}

// Execute runs a mutation. With params it goes through a prepared
// statement; without, the statement is dispatched directly.
func (a *Adapter) Execute(ctx context.Context, query string, args ...any) (database.ExecResult, error) {
	if err := a.ensureConnection(ctx); err != nil {
		return database.ExecResult{}, err
	}

	start := time.Now()
	var (
		res sql.Result
		err error
	)
	if len(args) > 0 {
		var stmt *sql.Stmt
		stmt, err = a.run.PrepareContext(ctx, query)
		if err == nil {
			res, err = stmt.ExecContext(ctx, args...)
			_ = stmt.Close()
		}
	} else {
		res, err = a.run.ExecContext(ctx, query)
	}
	a.qlog.Log(querylog.TypeExecute, query, args, time.Since(start), err)
	if err != nil {
		return database.ExecResult{}, mapError(err, "sqlite: execute failed")
	}

	affected, _ := res.RowsAffected()
	insertID, _ := res.LastInsertId()
	return database.ExecResult{AffectedRows: affected, InsertID: insertID}, nil
}

// Transaction runs fn between explicit BEGIN/COMMIT statements on a
// dedicated connection, issuing ROLLBACK on any error or panic. A nested
// Transaction call on the transactional adapter joins the open
// transaction.
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

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "sqlite: cannot acquire connection", err)
	}

	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		_ = conn.Close()
		return errs.Wrap(errs.ErrKindTransaction, "sqlite: begin failed", err)
	}

	txAdapter := &Adapter{
		cfg:       a.cfg,
		run:       conn,
		txConn:    conn,
		inTx:      true,
		connected: true,
		qlog:      a.qlog,
		log:       a.log,
	}

	rollback := func() {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			a.log.ErrorWith("sqlite: rollback failed", rbErr, nil)
		}
		_ = conn.Close()
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, txAdapter); err != nil {
		rollback()
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		rollback()
		return errs.Wrap(errs.ErrKindTransaction, "sqlite: commit failed", err)
	}
	_ = conn.Close()
	return nil
}

// Close releases the handle. Idempotent; bounded by a timeout guard.
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
			a.log.WarnWith("sqlite: close reported error", map[string]any{"error": err.Error()})
		}
	case <-time.After(closeTimeout):
		a.log.Warn("sqlite: close timed out, discarding handle")
	case <-ctx.Done():
		a.log.Warn("sqlite: close cancelled, discarding handle")
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
	return result
}

// PoolStatus snapshots database/sql pool counters.
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
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
