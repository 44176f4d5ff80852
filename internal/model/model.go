package model

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meridianweb/meridian/internal/database"
	"github.com/meridianweb/meridian/internal/errs"
	"github.com/meridianweb/meridian/internal/logger"
)

// Definition declares a Model: its table (or collection), schema,
// lifecycle behavior, and computed surface. The zero fields get backend
// appropriate defaults from New.
type Definition struct {
	Table      string
	PrimaryKey string
	Schema     Schema

	// Timestamps maintains CreatedAtField / UpdatedAtField automatically.
	Timestamps     bool
	CreatedAtField string
	UpdatedAtField string

	// SoftDelete marks records deleted via DeletedAtField instead of
	// removing them. Single-record finds exclude soft-deleted records;
	// bulk queries do not, callers filter explicitly.
	SoftDelete     bool
	DeletedAtField string

	Hooks Hooks

	// Scopes are named parameterless filters, see Model.Scope.
	Scopes map[string]func() Cond

	// Virtuals are computed fields, recomputed on every Instance.Get.
	Virtuals map[string]func(inst *Instance) any
}

// QueryOptions tunes FindAll and Paginate.
type QueryOptions struct {
	Projection []string
	Sort       []database.SortField
	Limit      int64
	Offset     int64
}

// Page is the result of Paginate.
type Page struct {
	Data       []*Instance
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}

// Model binds a Definition to one backend adapter. The backend is
// selected once at construction by switching on the adapter's driver
// discriminant; there is no per-call capability probing.
type Model struct {
	def Definition
	sql database.SQLAdapter
	doc database.DocumentAdapter
	log *logger.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithLogger attaches a structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Model) { m.log = l }
}

// New builds a Model from def bound to adapter. A nil adapter is
// allowed; every operation then fails with an invalid-input error until
// the Model is rebuilt with a live adapter.
func New(def Definition, adapter database.Adapter, opts ...Option) (*Model, error) {
	if def.Table == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "model: table name is required")
	}

	m := &Model{def: def, log: logger.Nop()}
	for _, opt := range opts {
		opt(m)
	}

	if adapter != nil {
		switch a := adapter.(type) {
		case database.SQLAdapter:
			m.sql = a
		case database.DocumentAdapter:
			m.doc = a
		default:
			return nil, errs.Newf(errs.ErrKindUnsupported, "model: adapter for driver %q implements neither contract", adapter.Driver())
		}
	}

	if m.def.PrimaryKey == "" {
		if m.doc != nil {
			m.def.PrimaryKey = "_id"
		} else {
			m.def.PrimaryKey = "id"
		}
	}
	if m.def.CreatedAtField == "" {
		m.def.CreatedAtField = "createdAt"
	}
	if m.def.UpdatedAtField == "" {
		m.def.UpdatedAtField = "updatedAt"
	}
	if m.def.DeletedAtField == "" {
		m.def.DeletedAtField = "deletedAt"
	}
	return m, nil
}

// Table returns the table (or collection) name.
func (m *Model) Table() string { return m.def.Table }

// PrimaryKey returns the primary key field name.
func (m *Model) PrimaryKey() string { return m.def.PrimaryKey }

func (m *Model) requireAdapter() error {
	if m.sql == nil && m.doc == nil {
		return errs.New(errs.ErrKindInvalidInput, "model: database adapter not set")
	}
	return nil
}

// toCond accepts either a condition map or a bare primary key value.
func (m *Model) toCond(cond any) Cond {
	switch c := cond.(type) {
	case nil:
		return Cond{}
	case Cond:
		return c
	default:
		return Cond{m.def.PrimaryKey: c}
	}
}

// withDefaultFilter injects the not-deleted predicate for soft-delete
// Models unless the caller already constrains the deleted-at field.
func (m *Model) withDefaultFilter(cond Cond) Cond {
	if !m.def.SoftDelete {
		return cond
	}
	if _, ok := cond[m.def.DeletedAtField]; ok {
		return cond
	}
	out := make(Cond, len(cond)+1)
	for k, v := range cond {
		out[k] = v
	}
	out[m.def.DeletedAtField] = nil
	return out
}

// Validate runs the full field pipeline over data without touching the
// database. It reports the first failing rule as a ValidationError.
func (m *Model) Validate(data Cond) error {
	rec := m.def.Schema.prepare(data, true)
	return m.def.Schema.validate(rec, true)
}

// Find returns the single record matching cond, which may be a
// condition map or a bare primary key value. Soft-deleted records are
// excluded. Missing records yield a not-found error.
func (m *Model) Find(ctx context.Context, cond any, projection ...string) (*Instance, error) {
	if err := m.requireAdapter(); err != nil {
		return nil, err
	}
	c := m.withDefaultFilter(m.toCond(cond))

	if m.doc != nil {
		opts := &database.FindOptions{Projection: projection}
		doc, err := m.doc.FindOne(ctx, m.def.Table, conditionFilter(c), opts)
		if err != nil {
			return nil, err
		}
		return m.loadedInstance(doc), nil
	}

	b := database.NewBuilder(m.sql).Select(projection...).From(m.def.Table)
	if frag, params := conditionSQL(c); frag != "" {
		b.Where(frag, params...)
	}
	row, err := b.Limit(1).ExecuteOne(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errs.Newf(errs.ErrKindNotFound, "model: no %s record matched", m.def.Table)
	}
	return m.loadedInstance(row), nil
}

// FindOne is Find constrained to a condition map.
func (m *Model) FindOne(ctx context.Context, cond Cond, projection ...string) (*Instance, error) {
	return m.Find(ctx, cond, projection...)
}

// FindByID is Find with primary key shorthand.
func (m *Model) FindByID(ctx context.Context, id any, projection ...string) (*Instance, error) {
	return m.Find(ctx, Cond{m.def.PrimaryKey: id}, projection...)
}

// FindAll returns every record matching cond. Unlike Find there is no
// automatic soft-delete filter; bulk callers constrain explicitly.
func (m *Model) FindAll(ctx context.Context, cond Cond, opts *QueryOptions) ([]*Instance, error) {
	if err := m.requireAdapter(); err != nil {
		return nil, err
	}

	if m.doc != nil {
		var fo *database.FindOptions
		if opts != nil {
			fo = &database.FindOptions{
				Projection: opts.Projection,
				Sort:       opts.Sort,
				Limit:      opts.Limit,
				Skip:       opts.Offset,
			}
		}
		docs, err := m.doc.Find(ctx, m.def.Table, conditionFilter(cond), fo)
		if err != nil {
			return nil, err
		}
		return m.loadedInstances(docs), nil
	}

	var projection []string
	if opts != nil {
		projection = opts.Projection
	}
	b := database.NewBuilder(m.sql).Select(projection...).From(m.def.Table)
	if frag, params := conditionSQL(cond); frag != "" {
		b.Where(frag, params...)
	}
	if opts != nil {
		for _, s := range opts.Sort {
			b.OrderBy(s.Field, database.SortDirection(s.Desc))
		}
		if opts.Limit > 0 {
			b.Limit(int(opts.Limit))
		}
		if opts.Offset > 0 {
			b.Offset(int(opts.Offset))
		}
	}
	rows, err := b.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return m.loadedInstances(rows), nil
}

// Count returns the number of records matching cond.
func (m *Model) Count(ctx context.Context, cond Cond) (int64, error) {
	if err := m.requireAdapter(); err != nil {
		return 0, err
	}

	if m.doc != nil {
		return m.doc.Count(ctx, m.def.Table, conditionFilter(cond))
	}

	b := database.NewBuilder(m.sql)
	b.Select().From(m.def.Table)
	if frag, params := conditionSQL(cond); frag != "" {
		b.Where(frag, params...)
	}
	sql := "SELECT COUNT(*) AS n FROM (" + b.ToSQL() + ") AS sub"
	rows, err := m.sql.Query(ctx, sql, b.Params()...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := toInt(rows[0]["n"])
	return n, nil
}

// Exists reports whether any record matches cond.
func (m *Model) Exists(ctx context.Context, cond Cond) (bool, error) {
	n, err := m.Count(ctx, cond)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Distinct returns the distinct values of field across matching records.
func (m *Model) Distinct(ctx context.Context, field string, cond Cond) ([]any, error) {
	if err := m.requireAdapter(); err != nil {
		return nil, err
	}

	if m.doc != nil {
		return m.doc.Distinct(ctx, m.def.Table, field, conditionFilter(cond))
	}

	frag, params := conditionSQL(cond)
	sql := "SELECT DISTINCT " + database.QuoteIdent(field) + " FROM " + database.QuoteIdent(m.def.Table)
	if frag != "" {
		sql += " WHERE " + frag
	}
	rows, err := m.sql.Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(rows))
	for i, row := range rows {
		values[i] = row[field]
	}
	return values, nil
}

// Aggregate runs a raw pipeline. Available on document backends only.
func (m *Model) Aggregate(ctx context.Context, pipeline []database.Record) ([]database.Record, error) {
	if err := m.requireAdapter(); err != nil {
		return nil, err
	}
	if m.doc == nil {
		return nil, errs.New(errs.ErrKindUnsupported, "model: aggregate requires a document backend")
	}
	return m.doc.Aggregate(ctx, m.def.Table, pipeline)
}

// Paginate returns page (1-based) of pageSize records matching cond,
// along with the total count and page arithmetic.
func (m *Model) Paginate(ctx context.Context, cond Cond, page, pageSize int, opts *QueryOptions) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	total, err := m.Count(ctx, cond)
	if err != nil {
		return nil, err
	}

	po := QueryOptions{}
	if opts != nil {
		po = *opts
	}
	po.Limit = int64(pageSize)
	po.Offset = int64((page - 1) * pageSize)

	data, err := m.FindAll(ctx, cond, &po)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &Page{
		Data:       data,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Create validates and inserts one record, firing the create hooks, and
// returns the persisted instance with its primary key populated.
func (m *Model) Create(ctx context.Context, data Cond) (*Instance, error) {
	if err := m.requireAdapter(); err != nil {
		return nil, err
	}

	inst := m.newInstance(m.def.Schema.prepare(data, true))

	if err := runHooks(ctx, inst, m.def.Hooks.BeforeValidate); err != nil {
		return nil, err
	}
	if err := m.def.Schema.validate(inst.data, true); err != nil {
		return nil, err
	}
	if err := runHooks(ctx, inst, m.def.Hooks.AfterValidate); err != nil {
		return nil, err
	}

	if m.def.Timestamps {
		now := time.Now().UTC()
		inst.data[m.def.CreatedAtField] = now
		inst.data[m.def.UpdatedAtField] = now
	}

	if err := runHooks(ctx, inst, m.def.Hooks.BeforeCreate, m.def.Hooks.BeforeSave); err != nil {
		return nil, err
	}

	if err := m.insert(ctx, inst); err != nil {
		return nil, err
	}
	inst.persisted = true
	inst.dirty = Cond{}

	if err := runHooks(ctx, inst, m.def.Hooks.AfterCreate, m.def.Hooks.AfterSave); err != nil {
		return nil, err
	}
	return inst, nil
}

func (m *Model) insert(ctx context.Context, inst *Instance) error {
	if m.doc != nil {
		res, err := m.doc.Execute(ctx, database.OpInsert, m.def.Table, nil, inst.data, nil)
		if err != nil {
			return err
		}
		if res.InsertedID != nil {
			inst.data[m.def.PrimaryKey] = res.InsertedID
		}
		return nil
	}

	b := database.NewBuilder(m.sql).InsertInto(m.def.Table, m.persistable(inst.data))
	if m.sql.Driver() == database.DriverPostgres {
		// LastInsertId is not available through pgx, so fetch the key
		// with RETURNING instead.
		sql := b.ToSQL() + " RETURNING " + database.QuoteIdent(m.def.PrimaryKey)
		rows, err := m.sql.Query(ctx, sql, b.Params()...)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			inst.data[m.def.PrimaryKey] = rows[0][m.def.PrimaryKey]
		}
		return nil
	}

	res, err := b.ExecuteUpdate(ctx)
	if err != nil {
		return err
	}
	if _, ok := inst.data[m.def.PrimaryKey]; !ok && res.InsertID > 0 {
		inst.data[m.def.PrimaryKey] = res.InsertID
	}
	return nil
}

// CreateMany inserts records one at a time so every record gets the
// full pipeline and hook treatment. The first failure aborts the batch;
// earlier inserts are not rolled back (wrap in Transaction for that).
func (m *Model) CreateMany(ctx context.Context, records []Cond) ([]*Instance, error) {
	out := make([]*Instance, 0, len(records))
	for _, rec := range records {
		inst, err := m.Create(ctx, rec)
		if err != nil {
			return out, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Update finds the record matching cond, applies data through the field
// pipeline and update hooks, persists the changed fields, and returns
// the updated instance.
func (m *Model) Update(ctx context.Context, cond any, data Cond) (*Instance, error) {
	inst, err := m.Find(ctx, cond)
	if err != nil {
		return nil, err
	}

	changes := m.def.Schema.prepare(data, false)
	inst.applyChanges(changes)

	if err := runHooks(ctx, inst, m.def.Hooks.BeforeValidate); err != nil {
		return nil, err
	}
	if err := m.def.Schema.validate(inst.dirty, false); err != nil {
		return nil, err
	}
	if err := runHooks(ctx, inst, m.def.Hooks.AfterValidate); err != nil {
		return nil, err
	}

	if m.def.Timestamps {
		inst.Set(m.def.UpdatedAtField, time.Now().UTC())
	}

	if err := runHooks(ctx, inst, m.def.Hooks.BeforeUpdate, m.def.Hooks.BeforeSave); err != nil {
		return nil, err
	}

	if err := m.persistChanges(ctx, inst); err != nil {
		return nil, err
	}

	if err := runHooks(ctx, inst, m.def.Hooks.AfterUpdate, m.def.Hooks.AfterSave); err != nil {
		return nil, err
	}
	return inst, nil
}

func (m *Model) persistChanges(ctx context.Context, inst *Instance) error {
	if len(inst.dirty) == 0 {
		return nil
	}
	pk := inst.data[m.def.PrimaryKey]
	if pk == nil {
		return errs.New(errs.ErrKindInvalidInput, "model: cannot update a record without a primary key")
	}

	if m.doc != nil {
		_, err := m.doc.Execute(ctx, database.OpUpdate, m.def.Table, Cond{m.def.PrimaryKey: pk}, inst.dirty, nil)
		if err != nil {
			return err
		}
		inst.dirty = Cond{}
		return nil
	}

	_, err := database.NewBuilder(m.sql).
		Update(m.def.Table, m.persistable(inst.dirty)).
		Where(database.QuoteIdent(m.def.PrimaryKey)+" = ?", pk).
		ExecuteUpdate(ctx)
	if err != nil {
		return err
	}
	inst.dirty = Cond{}
	return nil
}

// UpdateMany applies data to every record matching cond and returns the
// number of records changed. Hooks do not fire and soft-deleted records
// are not excluded; this is a bulk operation.
func (m *Model) UpdateMany(ctx context.Context, cond Cond, data Cond) (int64, error) {
	if err := m.requireAdapter(); err != nil {
		return 0, err
	}

	changes := m.def.Schema.prepare(data, false)
	if err := m.def.Schema.validate(changes, false); err != nil {
		return 0, err
	}
	if m.def.Timestamps {
		changes[m.def.UpdatedAtField] = time.Now().UTC()
	}

	if m.doc != nil {
		res, err := m.doc.Execute(ctx, database.OpUpdateMany, m.def.Table, conditionFilter(cond), changes, nil)
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount, nil
	}

	b := database.NewBuilder(m.sql).Update(m.def.Table, m.persistable(changes))
	if frag, params := conditionSQL(cond); frag != "" {
		b.Where(frag, params...)
	}
	res, err := b.ExecuteUpdate(ctx)
	if err != nil {
		return 0, err
	}
	return res.AffectedRows, nil
}

// Delete removes the record matching cond. With SoftDelete enabled the
// record is stamped instead of removed and stays reachable through
// bulk queries that override the deleted-at filter.
func (m *Model) Delete(ctx context.Context, cond any) error {
	inst, err := m.Find(ctx, cond)
	if err != nil {
		return err
	}

	if err := runHooks(ctx, inst, m.def.Hooks.BeforeDelete); err != nil {
		return err
	}

	pk := inst.data[m.def.PrimaryKey]
	if m.def.SoftDelete {
		inst.Set(m.def.DeletedAtField, time.Now().UTC())
		if err := m.persistChanges(ctx, inst); err != nil {
			return err
		}
	} else if err := m.remove(ctx, Cond{m.def.PrimaryKey: pk}, false); err != nil {
		return err
	}

	return runHooks(ctx, inst, m.def.Hooks.AfterDelete)
}

// DeleteMany removes every record matching cond and returns the count.
// Soft-delete stamps instead of removing. Already soft-deleted records
// are not excluded from the match; callers filter explicitly.
func (m *Model) DeleteMany(ctx context.Context, cond Cond) (int64, error) {
	if err := m.requireAdapter(); err != nil {
		return 0, err
	}

	if m.def.SoftDelete {
		return m.UpdateMany(ctx, cond, Cond{m.def.DeletedAtField: time.Now().UTC()})
	}

	if m.doc != nil {
		res, err := m.doc.Execute(ctx, database.OpDeleteMany, m.def.Table, conditionFilter(cond), nil, nil)
		if err != nil {
			return 0, err
		}
		return res.DeletedCount, nil
	}

	b := database.NewBuilder(m.sql).DeleteFrom(m.def.Table)
	if frag, params := conditionSQL(cond); frag != "" {
		b.Where(frag, params...)
	}
	res, err := b.ExecuteUpdate(ctx)
	if err != nil {
		return 0, err
	}
	return res.AffectedRows, nil
}

// remove hard-deletes matching records regardless of SoftDelete.
func (m *Model) remove(ctx context.Context, cond Cond, many bool) error {
	if m.doc != nil {
		op := database.OpDelete
		if many {
			op = database.OpDeleteMany
		}
		_, err := m.doc.Execute(ctx, op, m.def.Table, conditionFilter(cond), nil, nil)
		return err
	}

	b := database.NewBuilder(m.sql).DeleteFrom(m.def.Table)
	if frag, params := conditionSQL(cond); frag != "" {
		b.Where(frag, params...)
	}
	_, err := b.ExecuteUpdate(ctx)
	return err
}

// Upsert inserts a record matching match merged with data, or updates
// the existing match with data. The match keys the operation; document
// backends use a native atomic upsert, SQL backends find-then-write.
func (m *Model) Upsert(ctx context.Context, match Cond, data Cond) (*Instance, error) {
	if err := m.requireAdapter(); err != nil {
		return nil, err
	}

	if m.doc != nil {
		changes := m.def.Schema.prepare(data, false)
		if err := m.def.Schema.validate(changes, false); err != nil {
			return nil, err
		}
		if m.def.Timestamps {
			changes[m.def.UpdatedAtField] = time.Now().UTC()
		}
		doc, err := m.doc.FindOneAndUpdate(ctx, m.def.Table, conditionFilter(match), changes, true)
		if err != nil {
			return nil, err
		}
		return m.loadedInstance(doc), nil
	}

	existing, err := m.Find(ctx, match)
	switch {
	case err == nil:
		return m.Update(ctx, Cond{m.def.PrimaryKey: existing.data[m.def.PrimaryKey]}, data)
	case errs.IsNotFound(err):
		merged := make(Cond, len(match)+len(data))
		for k, v := range match {
			merged[k] = v
		}
		for k, v := range data {
			merged[k] = v
		}
		return m.Create(ctx, merged)
	default:
		return nil, err
	}
}

// FindOneAndUpdate applies data to the first record matching cond and
// returns the post-update instance.
func (m *Model) FindOneAndUpdate(ctx context.Context, cond Cond, data Cond) (*Instance, error) {
	if err := m.requireAdapter(); err != nil {
		return nil, err
	}

	if m.doc != nil {
		changes := m.def.Schema.prepare(data, false)
		if err := m.def.Schema.validate(changes, false); err != nil {
			return nil, err
		}
		if m.def.Timestamps {
			changes[m.def.UpdatedAtField] = time.Now().UTC()
		}
		doc, err := m.doc.FindOneAndUpdate(ctx, m.def.Table, conditionFilter(m.withDefaultFilter(cond)), changes, false)
		if err != nil {
			return nil, err
		}
		return m.loadedInstance(doc), nil
	}

	return m.Update(ctx, cond, data)
}

// FindOneAndDelete removes the first record matching cond and returns
// it. Soft delete does not apply; the record is physically removed.
func (m *Model) FindOneAndDelete(ctx context.Context, cond Cond) (*Instance, error) {
	if err := m.requireAdapter(); err != nil {
		return nil, err
	}

	if m.doc != nil {
		doc, err := m.doc.FindOneAndDelete(ctx, m.def.Table, conditionFilter(m.withDefaultFilter(cond)))
		if err != nil {
			return nil, err
		}
		return m.loadedInstance(doc), nil
	}

	inst, err := m.Find(ctx, cond)
	if err != nil {
		return nil, err
	}
	if err := m.remove(ctx, Cond{m.def.PrimaryKey: inst.data[m.def.PrimaryKey]}, false); err != nil {
		return nil, err
	}
	return inst, nil
}

// Increment adds delta to field on every record matching cond.
func (m *Model) Increment(ctx context.Context, cond Cond, field string, delta float64) error {
	if err := m.requireAdapter(); err != nil {
		return err
	}

	if m.doc != nil {
		_, err := m.doc.Execute(ctx, database.OpUpdateMany, m.def.Table, conditionFilter(cond),
			database.Record{"$inc": database.Record{field: delta}}, nil)
		return err
	}

	ident := database.QuoteIdent(field)
	sql := "UPDATE " + database.QuoteIdent(m.def.Table) + " SET " + ident + " = " + ident + " + ?"
	params := []any{delta}
	if frag, condParams := conditionSQL(cond); frag != "" {
		sql += " WHERE " + frag
		params = append(params, condParams...)
	}
	_, err := m.sql.Execute(ctx, sql, params...)
	return err
}

// Decrement subtracts delta from field on every record matching cond.
func (m *Model) Decrement(ctx context.Context, cond Cond, field string, delta float64) error {
	return m.Increment(ctx, cond, field, -delta)
}

// persistable prepares a record for a SQL write: container values are
// serialized to JSON text since drivers cannot bind maps or slices.
func (m *Model) persistable(data Cond) database.Record {
	out := make(database.Record, len(data))
	for k, v := range data {
		switch v.(type) {
		case map[string]any, []any:
			if encoded, err := json.Marshal(v); err == nil {
				out[k] = string(encoded)
				continue
			}
		}
		out[k] = v
	}
	return out
}
