package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianweb/meridian/internal/database"
	"github.com/meridianweb/meridian/internal/database/sqlite"
	"github.com/meridianweb/meridian/internal/errs"
)

func newSQLiteAdapter(t *testing.T, ddl ...string) *sqlite.Adapter {
	t.Helper()

	a := sqlite.New(&database.Config{Driver: database.DriverSQLite, Database: ":memory:"})
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	for _, stmt := range ddl {
		_, err := a.Execute(context.Background(), stmt)
		require.NoError(t, err)
	}
	return a
}

func userDDL() string {
	return `
		CREATE TABLE users (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			name      TEXT,
			email     TEXT,
			age       REAL,
			status    TEXT,
			createdAt DATETIME,
			updatedAt DATETIME,
			deletedAt DATETIME
		)`
}

func newUserModel(t *testing.T, def Definition) *Model {
	t.Helper()

	if def.Table == "" {
		def.Table = "users"
	}
	m, err := New(def, newSQLiteAdapter(t, userDDL()))
	require.NoError(t, err)
	return m
}

func baseUserSchema() Schema {
	return Schema{
		"name":  {Type: TypeString, Required: true},
		"email": {Type: TypeString, Pattern: `^[^@]+@[^@]+$`},
		"age":   {Type: TypeNumber, Min: Float(0), Max: Float(150)},
	}
}

func TestModel_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema(), Timestamps: true})

	created, err := m.Create(ctx, Cond{"name": "Alice", "email": "a@x.com", "age": 30})
	require.NoError(t, err)
	assert.True(t, created.IsPersisted())
	require.NotNil(t, created.PrimaryKey())
	assert.NotNil(t, created.Get("createdAt"))
	assert.NotNil(t, created.Get("updatedAt"))

	found, err := m.Find(ctx, created.PrimaryKey())
	require.NoError(t, err)
	assert.Equal(t, "Alice", found.Get("name"))
	assert.Equal(t, "a@x.com", found.Get("email"))
	assert.NotNil(t, found.Get("createdAt"))
}

func TestModel_FindMissingIsNotFound(t *testing.T) {
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	_, err := m.Find(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestModel_CreateValidationFailure(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	_, err := m.Create(ctx, Cond{"email": "a@x.com"})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Field)

	// Nothing was written.
	n, err := m.Count(ctx, Cond{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModel_ValidateNamesBadField(t *testing.T) {
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	err := m.Validate(Cond{"name": "Alice", "age": 200})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "age", ve.Field)
}

func TestModel_DateRoundTrip(t *testing.T) {
	ctx := context.Background()
	schema := baseUserSchema()
	schema["createdAt"] = Field{Type: TypeDate}
	m := newUserModel(t, Definition{Schema: schema})

	created, err := m.Create(ctx, Cond{"name": "Alice", "createdAt": "2025-06-01T12:00:00Z"})
	require.NoError(t, err)

	ts, ok := created.Get("createdAt").(time.Time)
	require.True(t, ok, "ISO string must come back as time.Time")
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), ts.UTC())
}

func TestModel_Update(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema(), Timestamps: true})

	created, err := m.Create(ctx, Cond{"name": "Alice", "email": "a@x.com"})
	require.NoError(t, err)

	updated, err := m.Update(ctx, created.PrimaryKey(), Cond{"name": "Alicia"})
	require.NoError(t, err)
	assert.Equal(t, "Alicia", updated.Get("name"))

	found, err := m.Find(ctx, created.PrimaryKey())
	require.NoError(t, err)
	assert.Equal(t, "Alicia", found.Get("name"))
	assert.Equal(t, "a@x.com", found.Get("email"), "untouched fields survive")
}

func TestModel_UpdateMany(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	for _, name := range []string{"a", "b", "c"} {
		_, err := m.Create(ctx, Cond{"name": name, "age": 10})
		require.NoError(t, err)
	}

	n, err := m.UpdateMany(ctx, Cond{"age": database.Record{"$lt": 18}}, Cond{"age": 20})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestModel_SoftDelete(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema(), SoftDelete: true})

	created, err := m.Create(ctx, Cond{"name": "Alice"})
	require.NoError(t, err)
	id := created.PrimaryKey()

	require.NoError(t, m.Delete(ctx, id))

	// Gone from default single-record lookup.
	_, err = m.Find(ctx, id)
	assert.True(t, errs.IsNotFound(err))

	// Still reachable through bulk queries, which do not auto-filter.
	all, err := m.FindAll(ctx, Cond{}, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].Get("deletedAt"))

	// And explicitly via a deleted-at override.
	stamped, err := m.FindAll(ctx, Cond{"deletedAt": database.Record{"$ne": nil}}, nil)
	require.NoError(t, err)
	assert.Len(t, stamped, 1)
}

func TestModel_HardDelete(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	created, err := m.Create(ctx, Cond{"name": "Alice"})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, created.PrimaryKey()))

	n, err := m.Count(ctx, Cond{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModel_DeleteManyHard(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	for i := 0; i < 4; i++ {
		_, err := m.Create(ctx, Cond{"name": fmt.Sprintf("u%d", i), "age": i * 10})
		require.NoError(t, err)
	}

	n, err := m.DeleteMany(ctx, Cond{"age": database.Record{"$gte": 20}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := m.Count(ctx, Cond{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)
}

func TestModel_Paginate(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	for i := 0; i < 25; i++ {
		_, err := m.Create(ctx, Cond{"name": fmt.Sprintf("user-%02d", i)})
		require.NoError(t, err)
	}

	page, err := m.Paginate(ctx, Cond{}, 2, 10, &QueryOptions{
		Sort: []database.SortField{{Field: "id"}},
	})
	require.NoError(t, err)

	assert.Len(t, page.Data, 10)
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.PageSize)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, "user-10", page.Data[0].Get("name"))
}

func TestModel_CountExistsDistinct(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	for _, u := range []Cond{
		{"name": "Alice", "status": "active"},
		{"name": "Bob", "status": "active"},
		{"name": "Carol", "status": "banned"},
	} {
		_, err := m.Create(ctx, u)
		require.NoError(t, err)
	}

	n, err := m.Count(ctx, Cond{"status": "active"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err := m.Exists(ctx, Cond{"name": "Carol"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Exists(ctx, Cond{"name": "Dave"})
	require.NoError(t, err)
	assert.False(t, ok)

	statuses, err := m.Distinct(ctx, "status", Cond{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"active", "banned"}, statuses)
}

func TestModel_AggregateUnsupportedOnSQL(t *testing.T) {
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	_, err := m.Aggregate(context.Background(), []database.Record{{"$match": database.Record{}}})
	require.Error(t, err)
	assert.True(t, errs.IsUnsupported(err))
}

func TestModel_UpsertSQL(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	first, err := m.Upsert(ctx, Cond{"email": "a@x.com"}, Cond{"name": "Alice", "email": "a@x.com"})
	require.NoError(t, err)
	id := first.PrimaryKey()

	second, err := m.Upsert(ctx, Cond{"email": "a@x.com"}, Cond{"name": "Bob", "email": "a@x.com"})
	require.NoError(t, err)

	assert.Equal(t, id, second.PrimaryKey(), "second upsert updates the same row")
	assert.Equal(t, "Bob", second.Get("name"))

	n, err := m.Count(ctx, Cond{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestModel_FindOneAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	_, err := m.Create(ctx, Cond{"name": "Alice"})
	require.NoError(t, err)

	gone, err := m.FindOneAndDelete(ctx, Cond{"name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", gone.Get("name"))

	n, err := m.Count(ctx, Cond{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModel_Increment(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	created, err := m.Create(ctx, Cond{"name": "Alice", "age": 30})
	require.NoError(t, err)

	require.NoError(t, m.Increment(ctx, Cond{"id": created.PrimaryKey()}, "age", 5))
	require.NoError(t, m.Decrement(ctx, Cond{"id": created.PrimaryKey()}, "age", 2))

	found, err := m.Find(ctx, created.PrimaryKey())
	require.NoError(t, err)
	assert.Equal(t, float64(33), found.Get("age"))
}

func TestModel_HookOrder(t *testing.T) {
	ctx := context.Background()
	var order []string
	mark := func(name string) Hook {
		return func(ctx context.Context, inst *Instance) error {
			order = append(order, name)
			return nil
		}
	}

	m := newUserModel(t, Definition{
		Schema: baseUserSchema(),
		Hooks: Hooks{
			BeforeValidate: mark("beforeValidate"),
			AfterValidate:  mark("afterValidate"),
			BeforeCreate:   mark("beforeCreate"),
			BeforeUpdate:   mark("beforeUpdate"),
			BeforeDelete:   mark("beforeDelete"),
			BeforeSave:     mark("beforeSave"),
			AfterCreate:    mark("afterCreate"),
			AfterUpdate:    mark("afterUpdate"),
			AfterDelete:    mark("afterDelete"),
			AfterSave:      mark("afterSave"),
		},
	})

	created, err := m.Create(ctx, Cond{"name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"beforeValidate", "afterValidate", "beforeCreate", "beforeSave",
		"afterCreate", "afterSave",
	}, order)

	order = nil
	_, err = m.Update(ctx, created.PrimaryKey(), Cond{"name": "Alicia"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"beforeValidate", "afterValidate", "beforeUpdate", "beforeSave",
		"afterUpdate", "afterSave",
	}, order)

	order = nil
	require.NoError(t, m.Delete(ctx, created.PrimaryKey()))
	assert.Equal(t, []string{"beforeDelete", "afterDelete"}, order)
}

func TestModel_BeforeHookMutationPersists(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{
		Schema: baseUserSchema(),
		Hooks: Hooks{
			BeforeCreate: func(ctx context.Context, inst *Instance) error {
				inst.Set("status", "fresh")
				return nil
			},
		},
	})

	created, err := m.Create(ctx, Cond{"name": "Alice"})
	require.NoError(t, err)

	found, err := m.Find(ctx, created.PrimaryKey())
	require.NoError(t, err)
	assert.Equal(t, "fresh", found.Get("status"))
}

func TestModel_HookErrorAborts(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("nope")
	m := newUserModel(t, Definition{
		Schema: baseUserSchema(),
		Hooks: Hooks{
			BeforeCreate: func(ctx context.Context, inst *Instance) error { return boom },
		},
	})

	_, err := m.Create(ctx, Cond{"name": "Alice"})
	require.ErrorIs(t, err, boom)

	n, err := m.Count(ctx, Cond{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModel_Scopes(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{
		Schema: baseUserSchema(),
		Scopes: map[string]func() Cond{
			"active": func() Cond { return Cond{"status": "active"} },
		},
	})

	for _, u := range []Cond{
		{"name": "Alice", "status": "active"},
		{"name": "Bob", "status": "active"},
		{"name": "Carol", "status": "banned"},
	} {
		_, err := m.Create(ctx, u)
		require.NoError(t, err)
	}

	scoped, err := m.Scope("active")
	require.NoError(t, err)

	n, err := scoped.Count(ctx, Cond{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Caller conditions merge over the scope filter.
	rows, err := scoped.FindAll(ctx, Cond{"name": "Alice"}, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Caller wins on key collision.
	banned, err := scoped.FindAll(ctx, Cond{"status": "banned"}, nil)
	require.NoError(t, err)
	assert.Len(t, banned, 1)

	_, err = m.Scope("missing")
	assert.Error(t, err)
}

func TestModel_Virtuals(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{
		Schema: baseUserSchema(),
		Virtuals: map[string]func(*Instance) any{
			"display": func(i *Instance) any {
				return fmt.Sprintf("%v <%v>", i.Get("name"), i.Get("email"))
			},
		},
	})

	created, err := m.Create(ctx, Cond{"name": "Alice", "email": "a@x.com"})
	require.NoError(t, err)

	assert.Equal(t, "Alice <a@x.com>", created.Get("display"))
	assert.Contains(t, created.ToMap(), "display")
	assert.NotContains(t, created.Data(), "display", "virtuals are not stored")

	// Recomputed on every access.
	created.Set("email", "alice@y.org")
	assert.Equal(t, "Alice <alice@y.org>", created.Get("display"))
}

func TestInstance_SaveAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	created, err := m.Create(ctx, Cond{"name": "Alice"})
	require.NoError(t, err)

	created.Set("name", "Alicia")
	require.NoError(t, created.Save(ctx))

	found, err := m.Find(ctx, created.PrimaryKey())
	require.NoError(t, err)
	assert.Equal(t, "Alicia", found.Get("name"))

	require.NoError(t, found.Delete(ctx))
	_, err = m.Find(ctx, created.PrimaryKey())
	assert.True(t, errs.IsNotFound(err))
}

func TestModel_Relationships(t *testing.T) {
	ctx := context.Background()
	a := newSQLiteAdapter(t, userDDL(), `
		CREATE TABLE posts (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			userId INTEGER,
			title  TEXT
		)`)

	users, err := New(Definition{Table: "users", Schema: baseUserSchema()}, a)
	require.NoError(t, err)
	posts, err := New(Definition{Table: "posts", Schema: Schema{
		"title":  {Type: TypeString, Required: true},
		"userId": {Type: TypeBigInt},
	}}, a)
	require.NoError(t, err)

	alice, err := users.Create(ctx, Cond{"name": "Alice"})
	require.NoError(t, err)

	for _, title := range []string{"first", "second"} {
		_, err := posts.Create(ctx, Cond{"title": title, "userId": alice.PrimaryKey()})
		require.NoError(t, err)
	}

	// hasMany: all posts pointing at alice.
	alicePosts, err := alice.HasMany(ctx, posts, "userId")
	require.NoError(t, err)
	assert.Len(t, alicePosts, 2)

	// hasOne: the first matching post.
	one, err := alice.HasOne(ctx, posts, "userId")
	require.NoError(t, err)
	assert.NotNil(t, one)

	// belongsTo: a post's author.
	author, err := alicePosts[0].BelongsTo(ctx, users, "userId")
	require.NoError(t, err)
	assert.Equal(t, "Alice", author.Get("name"))
}

func TestModel_NoAdapter(t *testing.T) {
	m, err := New(Definition{Table: "users", Schema: baseUserSchema()}, nil)
	require.NoError(t, err)

	_, err = m.Find(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestModel_ProjectionLimitsColumns(t *testing.T) {
	ctx := context.Background()
	m := newUserModel(t, Definition{Schema: baseUserSchema()})

	created, err := m.Create(ctx, Cond{"name": "Alice", "email": "a@x.com"})
	require.NoError(t, err)

	found, err := m.Find(ctx, created.PrimaryKey(), "name")
	require.NoError(t, err)
	assert.Equal(t, "Alice", found.Get("name"))
	assert.Nil(t, found.Get("email"))
}
