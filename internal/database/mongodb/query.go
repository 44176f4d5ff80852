package mongodb

import (
	"context"

	"github.com/meridianweb/meridian/internal/database"
)

// Query is a fluent filter builder over a DocumentAdapter. Comparison
// methods on the same field merge into a single operator document, so
// Gt("age", 18).Lt("age", 65) produces {age: {$gt: 18, $lt: 65}}.
type Query struct {
	adapter    database.DocumentAdapter
	collection string
	filter     database.Record
	sort       []database.SortField
	projection []string
	limit      int64
	skip       int64
}

// NewQuery starts a builder scoped to collection.
func NewQuery(adapter database.DocumentAdapter, collection string) *Query {
	return &Query{
		adapter:    adapter,
		collection: collection,
		filter:     database.Record{},
	}
}

// Eq matches documents where field equals value.
func (q *Query) Eq(field string, value any) *Query {
	q.filter[field] = value
	return q
}

// Ne matches documents where field differs from value.
func (q *Query) Ne(field string, value any) *Query { return q.op(field, "$ne", value) }

// Gt matches documents where field is greater than value.
func (q *Query) Gt(field string, value any) *Query { return q.op(field, "$gt", value) }

// Gte matches documents where field is at least value.
func (q *Query) Gte(field string, value any) *Query { return q.op(field, "$gte", value) }

// Lt matches documents where field is less than value.
func (q *Query) Lt(field string, value any) *Query { return q.op(field, "$lt", value) }

// Lte matches documents where field is at most value.
func (q *Query) Lte(field string, value any) *Query { return q.op(field, "$lte", value) }

// In matches documents where field is any of values.
func (q *Query) In(field string, values ...any) *Query { return q.op(field, "$in", values) }

// Regex matches documents where field matches pattern.
func (q *Query) Regex(field, pattern string) *Query { return q.op(field, "$regex", pattern) }

func (q *Query) op(field, operator string, value any) *Query {
	ops, ok := q.filter[field].(database.Record)
	if !ok {
		ops = database.Record{}
		q.filter[field] = ops
	}
	ops[operator] = value
	return q
}

// Sort appends a sort key. Call repeatedly for compound sorts.
func (q *Query) Sort(field string, desc bool) *Query {
	q.sort = append(q.sort, database.SortField{Field: field, Desc: desc})
	return q
}

// Project restricts returned documents to the named fields.
func (q *Query) Project(fields ...string) *Query {
	q.projection = append(q.projection, fields...)
	return q
}

// Limit caps the number of returned documents.
func (q *Query) Limit(n int64) *Query {
	q.limit = n
	return q
}

// Skip discards the first n matches.
func (q *Query) Skip(n int64) *Query {
	q.skip = n
	return q
}

// Filter returns the accumulated filter document.
func (q *Query) Filter() database.Record { return q.filter }

func (q *Query) findOptions() *database.FindOptions {
	return &database.FindOptions{
		Projection: q.projection,
		Sort:       q.sort,
		Limit:      q.limit,
		Skip:       q.skip,
	}
}

// Query runs the accumulated filter and returns all matches.
func (q *Query) Query(ctx context.Context) ([]database.Record, error) {
	return q.adapter.Find(ctx, q.collection, q.filter, q.findOptions())
}

// QueryOne returns the first match or a not-found error.
func (q *Query) QueryOne(ctx context.Context) (database.Record, error) {
	return q.adapter.FindOne(ctx, q.collection, q.filter, q.findOptions())
}

// Count returns the number of matches.
func (q *Query) Count(ctx context.Context) (int64, error) {
	return q.adapter.Count(ctx, q.collection, q.filter)
}

// Executor returns a mutation executor scoped to the builder's filter.
func (q *Query) Executor() *Executor {
	return &Executor{adapter: q.adapter, collection: q.collection, filter: q.filter}
}

// Executor issues mutations against a collection, constrained by the
// filter it was built with.
type Executor struct {
	adapter    database.DocumentAdapter
	collection string
	filter     database.Record
}

// Insert adds a single document. The filter is ignored.
func (e *Executor) Insert(ctx context.Context, doc database.Record) (database.DocResult, error) {
	return e.adapter.Execute(ctx, database.OpInsert, e.collection, nil, doc, nil)
}

// InsertMany adds a batch of documents. The filter is ignored.
func (e *Executor) InsertMany(ctx context.Context, docs []database.Record) (database.DocResult, error) {
	return e.adapter.Execute(ctx, database.OpInsertMany, e.collection, nil, docs, nil)
}

// Update applies update to the first matching document.
func (e *Executor) Update(ctx context.Context, update database.Record) (database.DocResult, error) {
	return e.adapter.Execute(ctx, database.OpUpdate, e.collection, e.filter, update, nil)
}

// UpdateMany applies update to every matching document.
func (e *Executor) UpdateMany(ctx context.Context, update database.Record) (database.DocResult, error) {
	return e.adapter.Execute(ctx, database.OpUpdateMany, e.collection, e.filter, update, nil)
}

// Upsert applies update to the first match, inserting when none exists.
func (e *Executor) Upsert(ctx context.Context, update database.Record) (database.DocResult, error) {
	return e.adapter.Execute(ctx, database.OpUpdate, e.collection, e.filter, update, &database.ExecOptions{Upsert: true})
}

// Delete removes the first matching document.
func (e *Executor) Delete(ctx context.Context) (database.DocResult, error) {
	return e.adapter.Execute(ctx, database.OpDelete, e.collection, e.filter, nil, nil)
}

// DeleteMany removes every matching document.
func (e *Executor) DeleteMany(ctx context.Context) (database.DocResult, error) {
	return e.adapter.Execute(ctx, database.OpDeleteMany, e.collection, e.filter, nil, nil)
}
