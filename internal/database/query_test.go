package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder_Select(t *testing.T) {
	tests := []struct {
		name   string
		build  func() *Builder
		sql    string
		params []any
	}{
		{
			name: "select all",
			build: func() *Builder {
				return NewBuilder(nil).Select().From("users")
			},
			sql: `SELECT * FROM "users"`,
		},
		{
			name: "select columns",
			build: func() *Builder {
				return NewBuilder(nil).Select("id", "name").From("users")
			},
			sql: `SELECT "id", "name" FROM "users"`,
		},
		{
			name: "where chains with AND",
			build: func() *Builder {
				return NewBuilder(nil).Select().From("users").
					Where(`"age" > ?`, 18).
					Where(`"active" = ?`, true)
			},
			sql:    `SELECT * FROM "users" WHERE "age" > ? AND "active" = ?`,
			params: []any{18, true},
		},
		{
			name: "or where",
			build: func() *Builder {
				return NewBuilder(nil).Select().From("users").
					Where(`"role" = ?`, "admin").
					OrWhere(`"role" = ?`, "owner")
			},
			sql:    `SELECT * FROM "users" WHERE "role" = ? OR "role" = ?`,
			params: []any{"admin", "owner"},
		},
		{
			name: "or where without prior where starts the clause",
			build: func() *Builder {
				return NewBuilder(nil).Select().From("users").
					OrWhere(`"role" = ?`, "admin")
			},
			sql:    `SELECT * FROM "users" WHERE "role" = ?`,
			params: []any{"admin"},
		},
		{
			name: "join order limit offset",
			build: func() *Builder {
				return NewBuilder(nil).Select("u.id").From("users").
					LeftJoin("orders", `"orders"."user_id" = "users"."id"`).
					OrderBy("created_at", Desc).
					OrderBy("id", Asc).
					Limit(10).
					Offset(20)
			},
			sql: `SELECT "u.id" FROM "users" LEFT JOIN "orders" ON "orders"."user_id" = "users"."id"` +
				` ORDER BY "created_at" DESC, "id" ASC LIMIT 10 OFFSET 20`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.build()
			assert.Equal(t, tt.sql, b.ToSQL())
			assert.Equal(t, tt.params, b.Params())
		})
	}
}

func TestBuilder_InsertDeterministic(t *testing.T) {
	b := NewBuilder(nil).InsertInto("users", Record{
		"name":  "Alice",
		"email": "a@x.com",
		"age":   30,
	})

	// Columns come out sorted regardless of map iteration order.
	assert.Equal(t, `INSERT INTO "users" ("age", "email", "name") VALUES (?, ?, ?)`, b.ToSQL())
	assert.Equal(t, []any{30, "a@x.com", "Alice"}, b.Params())
}

func TestBuilder_Update(t *testing.T) {
	b := NewBuilder(nil).
		Update("users", Record{"name": "Bob", "age": 31}).
		Where(`"id" = ?`, 7)

	assert.Equal(t, `UPDATE "users" SET "age" = ?, "name" = ? WHERE "id" = ?`, b.ToSQL())
	assert.Equal(t, []any{31, "Bob", 7}, b.Params())
}

func TestBuilder_Delete(t *testing.T) {
	b := NewBuilder(nil).DeleteFrom("users").Where(`"id" = ?`, 7)

	assert.Equal(t, `DELETE FROM "users" WHERE "id" = ?`, b.ToSQL())
	assert.Equal(t, []any{7}, b.Params())
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"users"`, QuoteIdent("users"))
	assert.Equal(t, `"weird""name"`, QuoteIdent(`weird"name`))
}
