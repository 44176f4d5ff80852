// Package database defines the uniform adapter contract every Meridian
// backend implements, plus the shared configuration and the SQL query
// builder.
//
// All layers above this package talk only to these interfaces; they never
// import the postgres, mysql, sqlite, or mongodb packages directly.
package database

import (
	"context"
	"time"
)

// Driver identifies the database engine behind an adapter.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
	DriverMongoDB  Driver = "mongodb"
)

// Record is a single row or document, keyed by column/field name.
type Record = map[string]any

// ExecResult reports the outcome of a SQL mutation.
type ExecResult struct {
	// AffectedRows is the number of rows changed by the statement.
	AffectedRows int64

	// InsertID is the auto-generated key of the inserted row, where the
	// backend provides one (MySQL, SQLite). Zero otherwise.
	InsertID int64
}

// PoolStatus is an on-demand snapshot of the adapter's connection pool.
// Backends without pool introspection return zeroed counters.
type PoolStatus struct {
	Total   int
	Active  int
	Idle    int
	Waiting int
}

// HealthCheckResult reports the outcome of a health probe.
// A failed probe never surfaces as an error: Healthy is false and
// Error carries the reason.
type HealthCheckResult struct {
	Healthy   bool
	Latency   time.Duration
	Error     string
	Timestamp time.Time
}

// Adapter is the lifecycle contract shared by every backend.
//
// Lifecycle: constructed with a *Config → Connect establishes the live
// handle → operations are used repeatedly → Close releases the handle.
// No operation may succeed while Connected() is false; SQL adapters
// auto-reconnect on use, MongoDB fails with a not-connected error.
type Adapter interface {
	// Connect establishes the connection/pool. It validates required
	// config fields first and sets the connected flag only after a live
	// handle has been obtained and verified.
	Connect(ctx context.Context) error

	// Close releases the connection handle. It is idempotent and always
	// clears the connected flag, even if the underlying driver's close
	// fails or exceeds its timeout guard.
	Close(ctx context.Context) error

	// Connected reports whether the adapter currently holds a live handle.
	Connected() bool

	// Driver returns the backend discriminant.
	Driver() Driver

	// HealthCheck issues a minimal round-trip against the live connection
	// and reports latency. Failure does not return an error.
	HealthCheck(ctx context.Context) HealthCheckResult

	// PoolStatus returns a best-effort snapshot of the connection pool.
	PoolStatus() PoolStatus
}

// SQLAdapter is the contract for SQL backends (Postgres, MySQL, SQLite).
type SQLAdapter interface {
	Adapter

	// Query executes a statement that returns rows. It is read-only and
	// must not mutate adapter state beyond reconnect bookkeeping.
	// Statements use ? placeholders; the Postgres adapter rewrites them.
	Query(ctx context.Context, sql string, args ...any) ([]Record, error)

	// Execute runs a mutation statement and reports affected rows and,
	// where available, the last insert id.
	Execute(ctx context.Context, sql string, args ...any) (ExecResult, error)

	// Transaction runs fn atomically: either every operation issued
	// through tx commits, or none do. tx is a new adapter instance bound
	// to the transactional connection, so nested calls participate in
	// the same transaction. If fn returns an error the transaction is
	// rolled back before the error propagates.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx SQLAdapter) error) error
}

// Operation names a document-store mutation. Unrecognized operation names
// fail with an explicit error; there is no default branch.
type Operation string

const (
	OpInsert     Operation = "insert"
	OpInsertMany Operation = "insertMany"
	OpUpdate     Operation = "update"
	OpUpdateMany Operation = "updateMany"
	OpDelete     Operation = "delete"
	OpDeleteMany Operation = "deleteMany"
)

// DocResult reports the outcome of a document-store mutation. Only the
// fields relevant to the executed operation are populated.
type DocResult struct {
	InsertedID    any
	InsertedIDs   []any
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedID    any
}

// SortField orders query results on one field.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions tunes a document query.
type FindOptions struct {
	// Projection restricts the returned fields. Empty means all.
	Projection []string
	Sort       []SortField
	Limit      int64
	Skip       int64
}

// ExecOptions tunes a document mutation.
type ExecOptions struct {
	// Upsert inserts the document when an update matches nothing.
	Upsert bool
}

// DocumentAdapter is the contract for document-store backends (MongoDB).
type DocumentAdapter interface {
	Adapter

	// Find returns all documents in collection matching filter.
	Find(ctx context.Context, collection string, filter Record, opts *FindOptions) ([]Record, error)

	// FindOne returns the first matching document, or a not-found error.
	FindOne(ctx context.Context, collection string, filter Record, opts *FindOptions) (Record, error)

	// Execute dispatches a mutation by operation name. filter scopes
	// update/delete operations; data carries the document(s) to insert
	// or the update document.
	Execute(ctx context.Context, op Operation, collection string, filter Record, data any, opts *ExecOptions) (DocResult, error)

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, collection string, filter Record) (int64, error)

	// Distinct returns the distinct values of field across matching documents.
	Distinct(ctx context.Context, collection, field string, filter Record) ([]any, error)

	// Aggregate runs a raw aggregation pipeline.
	Aggregate(ctx context.Context, collection string, pipeline []Record) ([]Record, error)

	// FindOneAndUpdate atomically applies update to the first match and
	// returns the post-update document. With upsert, a missing match is
	// inserted instead.
	FindOneAndUpdate(ctx context.Context, collection string, filter, update Record, upsert bool) (Record, error)

	// FindOneAndDelete atomically removes the first match and returns it.
	FindOneAndDelete(ctx context.Context, collection string, filter Record) (Record, error)

	// Transaction runs fn inside a driver session. Operations issued with
	// the callback's context participate in the same transaction.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
