package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslatePlaceholders(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no placeholders",
			in:   "SELECT 1",
			want: "SELECT 1",
		},
		{
			name: "single placeholder",
			in:   "SELECT * FROM users WHERE id = ?",
			want: "SELECT * FROM users WHERE id = $1",
		},
		{
			name: "multiple placeholders numbered in order",
			in:   "INSERT INTO users (name, email) VALUES (?, ?)",
			want: "INSERT INTO users (name, email) VALUES ($1, $2)",
		},
		{
			name: "question mark inside single-quoted literal untouched",
			in:   "SELECT * FROM faq WHERE q = 'why?' AND id = ?",
			want: "SELECT * FROM faq WHERE q = 'why?' AND id = $1",
		},
		{
			name: "question mark inside double-quoted identifier untouched",
			in:   `SELECT "odd?col" FROM t WHERE x = ?`,
			want: `SELECT "odd?col" FROM t WHERE x = $1`,
		},
		{
			name: "escaped quote inside literal",
			in:   "SELECT * FROM t WHERE s = 'it''s?' AND id = ?",
			want: "SELECT * FROM t WHERE s = 'it''s?' AND id = $1",
		},
		{
			name: "many placeholders",
			in:   "VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			want: "VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TranslatePlaceholders(tt.in))
		})
	}
}

func TestBuildDSN(t *testing.T) {
	t.Run("from discrete fields", func(t *testing.T) {
		dsn := buildDSN(testConfig())
		assert.Equal(t, "host=db.internal port=5433 user=app password=secret dbname=appdb sslmode=require", dsn)
	})

	t.Run("defaults port and sslmode", func(t *testing.T) {
		cfg := testConfig()
		cfg.Port = 0
		cfg.SSLMode = ""
		dsn := buildDSN(cfg)
		assert.Contains(t, dsn, "port=5432")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("uri wins", func(t *testing.T) {
		cfg := testConfig()
		cfg.URI = "postgres://u:p@h:5432/db"
		assert.Equal(t, cfg.URI, buildDSN(cfg))
	})
}
