// Package mongodb implements the database.DocumentAdapter contract on
// top of the official MongoDB driver.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/meridianweb/meridian/internal/database"
	"github.com/meridianweb/meridian/internal/database/querylog"
	"github.com/meridianweb/meridian/internal/errs"
	"github.com/meridianweb/meridian/internal/logger"
)

const closeTimeout = 3 * time.Second

// Adapter is a MongoDB implementation of database.DocumentAdapter.
//
// Unlike the SQL adapters there is no connect retry loop: the driver's
// server selection already retries internally, and the upstream behavior
// this adapter mirrors had the same asymmetry.
type Adapter struct {
	mu        sync.Mutex
	cfg       *database.Config
	client    *mongo.Client
	db        *mongo.Database
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

// Driver returns database.DriverMongoDB.
func (a *Adapter) Driver() database.Driver { return database.DriverMongoDB }

// Connected reports whether the adapter holds a live client.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Connect creates the client and verifies it with a ping against the
// primary before marking the adapter connected.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}

	if err := a.cfg.Validate(); err != nil {
		return err
	}

	clientOpts := options.Client().
		ApplyURI(BuildURI(a.cfg)).
		SetMaxPoolSize(uint64(a.cfg.MaxConns)).
		SetMinPoolSize(uint64(a.cfg.MinConns)).
		SetMaxConnIdleTime(a.cfg.MaxConnIdleTime).
		SetConnectTimeout(a.cfg.ConnectTimeout)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "mongodb: connect failed", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return errs.Wrap(errs.ErrKindConnectionFailed, "mongodb: ping failed", err)
	}

	a.client = client
	a.db = client.Database(a.cfg.Database)
	a.connected = true
	a.log.With().Str("driver", "mongodb").Str("database", a.cfg.Database).Logger().Debug("connected")
	return nil
}

func (a *Adapter) collection(name string) (*mongo.Collection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, errs.New(errs.ErrKindNotConnected, "mongodb: not connected")
	}
	return a.db.Collection(name), nil
}

// Find returns all documents in collection matching filter.
func (a *Adapter) Find(ctx context.Context, collection string, filter database.Record, opts *database.FindOptions) ([]database.Record, error) {
	coll, err := a.collection(collection)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find()
	if opts != nil {
		if opts.Limit > 0 {
			findOpts.SetLimit(opts.Limit)
		}
		if opts.Skip > 0 {
			findOpts.SetSkip(opts.Skip)
		}
		if len(opts.Sort) > 0 {
			sort := bson.D{}
			for _, s := range opts.Sort {
				dir := 1
				if s.Desc {
					dir = -1
				}
				sort = append(sort, bson.E{Key: s.Field, Value: dir})
			}
			findOpts.SetSort(sort)
		}
		if len(opts.Projection) > 0 {
			proj := bson.M{}
			for _, f := range opts.Projection {
				proj[f] = 1
			}
			findOpts.SetProjection(proj)
		}
	}

	start := time.Now()
	cursor, err := coll.Find(ctx, toFilter(filter), findOpts)
	if err != nil {
		a.logOp(querylog.TypeQuery, "find "+collection, filter, start, err)
		return nil, mapError(err, "mongodb: find failed")
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	err = cursor.All(ctx, &raw)
	a.logOp(querylog.TypeQuery, "find "+collection, filter, start, err)
	if err != nil {
		return nil, mapError(err, "mongodb: decode failed")
	}

	out := make([]database.Record, len(raw))
	for i, doc := range raw {
		out[i] = normalize(doc)
	}
	return out, nil
}

// FindOne returns the first matching document, or a not-found error.
func (a *Adapter) FindOne(ctx context.Context, collection string, filter database.Record, opts *database.FindOptions) (database.Record, error) {
	fo := &database.FindOptions{Limit: 1}
	if opts != nil {
		fo.Projection = opts.Projection
		fo.Sort = opts.Sort
		fo.Skip = opts.Skip
	}

	docs, err := a.Find(ctx, collection, filter, fo)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errs.New(errs.ErrKindNotFound, "mongodb: no document matched")
	}
	return docs[0], nil
}

// Execute dispatches a mutation by operation name. Unrecognized names
// fail with an explicit invalid-input error.
func (a *Adapter) Execute(ctx context.Context, op database.Operation, collection string, filter database.Record, data any, execOpts *database.ExecOptions) (database.DocResult, error) {
	switch op {
	case database.OpInsert, database.OpInsertMany, database.OpUpdate,
		database.OpUpdateMany, database.OpDelete, database.OpDeleteMany:
	default:
		return database.DocResult{}, errs.Newf(errs.ErrKindInvalidInput, "mongodb: unknown operation %q", string(op))
	}

	coll, err := a.collection(collection)
	if err != nil {
		return database.DocResult{}, err
	}

	upsert := execOpts != nil && execOpts.Upsert
	start := time.Now()

	var result database.DocResult
	switch op {
	case database.OpInsert:
		doc, ok := data.(database.Record)
		if !ok {
			err = errs.New(errs.ErrKindInvalidInput, "mongodb: insert expects a single document")
			break
		}
		var res *mongo.InsertOneResult
		res, err = coll.InsertOne(ctx, ensureObjectID(doc))
		if err == nil {
			result.InsertedID = res.InsertedID
		}

	case database.OpInsertMany:
		docs, ok := toDocSlice(data)
		if !ok {
			err = errs.New(errs.ErrKindInvalidInput, "mongodb: insertMany expects a document slice")
			break
		}
		var res *mongo.InsertManyResult
		res, err = coll.InsertMany(ctx, docs)
		if err == nil {
			result.InsertedIDs = res.InsertedIDs
		}

	case database.OpUpdate:
		var res *mongo.UpdateResult
		res, err = coll.UpdateOne(ctx, toFilter(filter), toUpdate(data), options.UpdateOne().SetUpsert(upsert))
		if err == nil {
			result.MatchedCount = res.MatchedCount
			result.ModifiedCount = res.ModifiedCount
			result.UpsertedID = res.UpsertedID
		}

	case database.OpUpdateMany:
		var res *mongo.UpdateResult
		res, err = coll.UpdateMany(ctx, toFilter(filter), toUpdate(data), options.UpdateMany().SetUpsert(upsert))
		if err == nil {
			result.MatchedCount = res.MatchedCount
			result.ModifiedCount = res.ModifiedCount
			result.UpsertedID = res.UpsertedID
		}

	case database.OpDelete:
		var res *mongo.DeleteResult
		res, err = coll.DeleteOne(ctx, toFilter(filter))
		if err == nil {
			result.DeletedCount = res.DeletedCount
		}

	case database.OpDeleteMany:
		var res *mongo.DeleteResult
		res, err = coll.DeleteMany(ctx, toFilter(filter))
		if err == nil {
			result.DeletedCount = res.DeletedCount
		}

	}

	a.logOp(querylog.TypeExecute, string(op)+" "+collection, filter, start, err)
	if err != nil {
		return database.DocResult{}, mapError(err, fmt.Sprintf("mongodb: %s failed", op))
	}
	return result, nil
}

// Count returns the number of documents matching filter.
func (a *Adapter) Count(ctx context.Context, collection string, filter database.Record) (int64, error) {
	coll, err := a.collection(collection)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := coll.CountDocuments(ctx, toFilter(filter))
	a.logOp(querylog.TypeQuery, "count "+collection, filter, start, err)
	if err != nil {
		return 0, mapError(err, "mongodb: count failed")
	}
	return n, nil
}

// Distinct returns the distinct values of field across matching documents.
func (a *Adapter) Distinct(ctx context.Context, collection, field string, filter database.Record) ([]any, error) {
	coll, err := a.collection(collection)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := coll.Distinct(ctx, field, toFilter(filter))
	var values []any
	err = res.Decode(&values)
	a.logOp(querylog.TypeQuery, "distinct "+collection, filter, start, err)
	if err != nil {
		return nil, mapError(err, "mongodb: distinct failed")
	}
	return values, nil
}

// Aggregate runs a raw aggregation pipeline.
func (a *Adapter) Aggregate(ctx context.Context, collection string, pipeline []database.Record) ([]database.Record, error) {
	coll, err := a.collection(collection)
	if err != nil {
		return nil, err
	}

	stages := make(mongo.Pipeline, len(pipeline))
	for i, stage := range pipeline {
		d := bson.D{}
		for k, v := range stage {
			d = append(d, bson.E{Key: k, Value: v})
		}
		stages[i] = d
	}

	start := time.Now()
	cursor, err := coll.Aggregate(ctx, stages)
	if err != nil {
		a.logOp(querylog.TypeQuery, "aggregate "+collection, nil, start, err)
		return nil, mapError(err, "mongodb: aggregate failed")
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	err = cursor.All(ctx, &raw)
	a.logOp(querylog.TypeQuery, "aggregate "+collection, nil, start, err)
	if err != nil {
		return nil, mapError(err, "mongodb: aggregate decode failed")
	}

	out := make([]database.Record, len(raw))
	for i, doc := range raw {
		out[i] = normalize(doc)
	}
	return out, nil
}

// FindOneAndUpdate atomically applies update to the first match and
// returns the post-update document.
func (a *Adapter) FindOneAndUpdate(ctx context.Context, collection string, filter, update database.Record, upsert bool) (database.Record, error) {
	coll, err := a.collection(collection)
	if err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(upsert).
		SetReturnDocument(options.After)

	start := time.Now()
	var doc bson.M
	err = coll.FindOneAndUpdate(ctx, toFilter(filter), toUpdate(update), opts).Decode(&doc)
	a.logOp(querylog.TypeExecute, "findOneAndUpdate "+collection, filter, start, err)
	if err != nil {
		return nil, mapError(err, "mongodb: findOneAndUpdate failed")
	}
	return normalize(doc), nil
}

// FindOneAndDelete atomically removes the first match and returns it.
func (a *Adapter) FindOneAndDelete(ctx context.Context, collection string, filter database.Record) (database.Record, error) {
	coll, err := a.collection(collection)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var doc bson.M
	err = coll.FindOneAndDelete(ctx, toFilter(filter)).Decode(&doc)
	a.logOp(querylog.TypeExecute, "findOneAndDelete "+collection, filter, start, err)
	if err != nil {
		return nil, mapError(err, "mongodb: findOneAndDelete failed")
	}
	return normalize(doc), nil
}

// Transaction runs fn inside a driver session. Operations issued with
// the callback's context join the same transaction.
func (a *Adapter) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	a.mu.Lock()
	client := a.client
	connected := a.connected
	a.mu.Unlock()

	if !connected {
		return errs.New(errs.ErrKindNotConnected, "mongodb: not connected")
	}

	sess, err := client.StartSession()
	if err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "mongodb: cannot start session", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return err
	}
	return nil
}

// Close disconnects the client. Idempotent; bounded by a timeout guard.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		a.connected = false
		return nil
	}

	done := make(chan error, 1)
	client := a.client
	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		done <- client.Disconnect(dctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.WarnWith("mongodb: disconnect reported error", map[string]any{"error": err.Error()})
		}
	case <-time.After(closeTimeout):
		a.log.Warn("mongodb: disconnect timed out, discarding client")
	case <-ctx.Done():
		a.log.Warn("mongodb: disconnect cancelled, discarding client")
	}

	a.client = nil
	a.db = nil
	a.connected = false
	return nil
}

// HealthCheck pings the primary and reports latency.
func (a *Adapter) HealthCheck(ctx context.Context) database.HealthCheckResult {
	result := database.HealthCheckResult{Timestamp: time.Now()}

	a.mu.Lock()
	client := a.client
	connected := a.connected
	a.mu.Unlock()

	if !connected || client == nil {
		result.Error = "not connected"
		return result
	}

	start := time.Now()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		result.Latency = time.Since(start)
		result.Error = err.Error()
		return result
	}

	result.Latency = time.Since(start)
	result.Healthy = true
	return result
}

// PoolStatus returns zeroed counters; the driver does not expose pool
// introspection, and the contract prefers zeroes over failure.
func (a *Adapter) PoolStatus() database.PoolStatus {
	return database.PoolStatus{}
}

func (a *Adapter) logOp(t querylog.EntryType, op string, filter database.Record, start time.Time, err error) {
	var params []any
	if filter != nil {
		params = []any{filter}
	}
	a.qlog.Log(t, op, params, time.Since(start), err)
}

// BuildURI constructs a mongodb:// connection string from the config.
// Hosts, when set, lists replica-set members.
func BuildURI(cfg *database.Config) string {
	if cfg.URI != "" {
		return cfg.URI
	}

	hosts := cfg.Hosts
	if len(hosts) == 0 {
		port := cfg.Port
		if port == 0 {
			port = 27017
		}
		hosts = []string{fmt.Sprintf("%s:%d", cfg.Host, port)}
	}

	var uri strings.Builder
	uri.WriteString("mongodb://")
	if cfg.Username != "" {
		fmt.Fprintf(&uri, "%s:%s@", cfg.Username, cfg.Password)
	}
	uri.WriteString(strings.Join(hosts, ","))
	uri.WriteString("/" + cfg.Database)

	params := make([]string, 0, 2)
	if cfg.ReplicaSet != "" {
		params = append(params, "replicaSet="+cfg.ReplicaSet)
	}
	if cfg.AuthSource != "" {
		params = append(params, "authSource="+cfg.AuthSource)
	}
	if len(params) > 0 {
		uri.WriteString("?" + strings.Join(params, "&"))
	}
	return uri.String()
}

// --- document plumbing ---

// toFilter converts a Record filter to bson. A nil filter matches all.
func toFilter(filter database.Record) any {
	if filter == nil {
		return bson.M{}
	}
	return bson.M(filter)
}

// toUpdate wraps a plain document in $set so callers may pass either a
// field map or a full operator document.
func toUpdate(data any) any {
	doc, ok := data.(database.Record)
	if !ok {
		return data
	}
	for k := range doc {
		if strings.HasPrefix(k, "$") {
			return bson.M(doc)
		}
	}
	return bson.M{"$set": bson.M(doc)}
}

// ensureObjectID assigns a fresh ObjectID when the document has none.
func ensureObjectID(doc database.Record) database.Record {
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = bson.NewObjectID()
	}
	return doc
}

func toDocSlice(data any) ([]any, bool) {
	switch v := data.(type) {
	case []any:
		return v, true
	case []database.Record:
		out := make([]any, len(v))
		for i, doc := range v {
			out[i] = ensureObjectID(doc)
		}
		return out, true
	default:
		return nil, false
	}
}

// normalize converts bson container and time types into plain Go values
// so records from Mongo compare cleanly with records from SQL backends.
func normalize(doc bson.M) database.Record {
	out := make(database.Record, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalize(t)
	case bson.D:
		m := make(database.Record, len(t))
		for _, e := range t {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case bson.DateTime:
		return t.Time()
	default:
		return v
	}
}

// --- error mapping ---

func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
