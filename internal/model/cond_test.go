package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridianweb/meridian/internal/database"
)

func TestConditionSQL(t *testing.T) {
	tests := []struct {
		name   string
		cond   Cond
		frag   string
		params []any
	}{
		{
			name: "empty",
			cond: Cond{},
			frag: "",
		},
		{
			name:   "equality",
			cond:   Cond{"name": "Alice"},
			frag:   `"name" = ?`,
			params: []any{"Alice"},
		},
		{
			name: "nil means IS NULL",
			cond: Cond{"deletedAt": nil},
			frag: `"deletedAt" IS NULL`,
		},
		{
			name:   "fields emitted in sorted order",
			cond:   Cond{"b": 2, "a": 1},
			frag:   `"a" = ? AND "b" = ?`,
			params: []any{1, 2},
		},
		{
			name:   "range operators",
			cond:   Cond{"age": database.Record{"$gte": 18, "$lt": 65}},
			frag:   `"age" >= ? AND "age" < ?`,
			params: []any{18, 65},
		},
		{
			name:   "not equal",
			cond:   Cond{"status": database.Record{"$ne": "archived"}},
			frag:   `"status" != ?`,
			params: []any{"archived"},
		},
		{
			name: "ne nil means IS NOT NULL",
			cond: Cond{"deletedAt": database.Record{"$ne": nil}},
			frag: `"deletedAt" IS NOT NULL`,
		},
		{
			name:   "in list",
			cond:   Cond{"role": database.Record{"$in": []any{"admin", "owner"}}},
			frag:   `"role" IN (?, ?)`,
			params: []any{"admin", "owner"},
		},
		{
			name: "empty in matches nothing",
			cond: Cond{"role": database.Record{"$in": []any{}}},
			frag: "1 = 0",
		},
		{
			name:   "like",
			cond:   Cond{"email": database.Record{"$like": "%@x.com"}},
			frag:   `"email" LIKE ?`,
			params: []any{"%@x.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, params := conditionSQL(tt.cond)
			assert.Equal(t, tt.frag, frag)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestConditionFilter(t *testing.T) {
	t.Run("plain values pass through", func(t *testing.T) {
		out := conditionFilter(Cond{"name": "Alice", "age": database.Record{"$gt": 18}})
		assert.Equal(t, "Alice", out["name"])
		assert.Equal(t, database.Record{"$gt": 18}, out["age"])
	})

	t.Run("like becomes anchored regex", func(t *testing.T) {
		out := conditionFilter(Cond{"email": database.Record{"$like": "%@x.com"}})
		ops := out["email"].(database.Record)
		assert.Equal(t, `^.*@x\.com$`, ops["$regex"])
		assert.Equal(t, "i", ops["$options"])
	})
}

func TestLikeToRegex(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"%son", "^.*son$"},
		{"Al_ce", "^Al.ce$"},
		{"100%", "^100.*$"},
		{"a+b", `^a\+b$`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, likeToRegex(tt.in), tt.in)
	}
}
