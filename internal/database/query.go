package database

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/meridianweb/meridian/internal/errs"
)

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

// Builder accumulates a single SQL statement plus a positional parameter
// list through chained calls, then executes it through a SQLAdapter.
//
// Condition strings passed to Where/OrWhere/Join are caller-supplied SQL
// fragments with ? placeholders. Values must always travel through args,
// never be interpolated into the fragment. The builder offers no injection
// protection beyond parameterization.
//
// Usage:
//
//	rows, err := database.NewBuilder(db).
//	    Select("id", "name", "email").
//	    From("users").
//	    Where("active = ?", true).
//	    OrderBy("created_at", database.Desc).
//	    Limit(20).
//	    Execute(ctx)
type Builder struct {
	adapter  SQLAdapter
	sql      strings.Builder
	params   []any
	hasWhere bool
}

// NewBuilder starts an empty Builder bound to the given adapter.
// The adapter may be nil when the builder is used only via ToSQL/Params.
func NewBuilder(adapter SQLAdapter) *Builder {
	return &Builder{adapter: adapter}
}

// Select begins a SELECT statement. With no columns, SELECT * is used.
func (b *Builder) Select(columns ...string) *Builder {
	cols := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = QuoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}
	b.sql.WriteString("SELECT " + cols)
	return b
}

// From names the table for a SELECT.
func (b *Builder) From(table string) *Builder {
	b.sql.WriteString(" FROM " + QuoteIdent(table))
	return b
}

// Where appends a condition fragment. The first call starts the WHERE
// clause; subsequent calls append with AND.
func (b *Builder) Where(cond string, args ...any) *Builder {
	return b.condition("AND", cond, args)
}

// OrWhere appends a condition fragment with OR (or starts the WHERE
// clause when none exists yet).
func (b *Builder) OrWhere(cond string, args ...any) *Builder {
	return b.condition("OR", cond, args)
}

func (b *Builder) condition(conjunction, cond string, args []any) *Builder {
	if b.hasWhere {
		b.sql.WriteString(" " + conjunction + " " + cond)
	} else {
		b.sql.WriteString(" WHERE " + cond)
		b.hasWhere = true
	}
	b.params = append(b.params, args...)
	return b
}

// Join appends a plain JOIN clause.
func (b *Builder) Join(table, on string) *Builder {
	return b.join("JOIN", table, on)
}

// InnerJoin appends an INNER JOIN clause.
func (b *Builder) InnerJoin(table, on string) *Builder {
	return b.join("INNER JOIN", table, on)
}

// LeftJoin appends a LEFT JOIN clause.
func (b *Builder) LeftJoin(table, on string) *Builder {
	return b.join("LEFT JOIN", table, on)
}

// RightJoin appends a RIGHT JOIN clause.
func (b *Builder) RightJoin(table, on string) *Builder {
	return b.join("RIGHT JOIN", table, on)
}

func (b *Builder) join(kind, table, on string) *Builder {
	b.sql.WriteString(" " + kind + " " + QuoteIdent(table) + " ON " + on)
	return b
}

// OrderBy appends an ORDER BY clause for the given column and direction.
func (b *Builder) OrderBy(column string, dir SortDirection) *Builder {
	d := "ASC"
	if dir == Desc {
		d = "DESC"
	}
	if strings.Contains(b.sql.String(), " ORDER BY ") {
		b.sql.WriteString(", " + QuoteIdent(column) + " " + d)
	} else {
		b.sql.WriteString(" ORDER BY " + QuoteIdent(column) + " " + d)
	}
	return b
}

// Limit caps the number of rows returned.
func (b *Builder) Limit(n int) *Builder {
	b.sql.WriteString(" LIMIT " + strconv.Itoa(n))
	return b
}

// Offset skips the first n rows (for pagination).
func (b *Builder) Offset(n int) *Builder {
	b.sql.WriteString(" OFFSET " + strconv.Itoa(n))
	return b
}

// InsertInto begins an INSERT statement for the given data.
// Columns are emitted in sorted order so the statement is deterministic.
func (b *Builder) InsertInto(table string, data Record) *Builder {
	cols := sortedKeys(data)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
		marks[i] = "?"
		b.params = append(b.params, data[c])
	}
	fmt.Fprintf(&b.sql, "INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return b
}

// Update begins an UPDATE statement for the given data.
// Chain Where afterwards to scope the update.
func (b *Builder) Update(table string, data Record) *Builder {
	cols := sortedKeys(data)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = QuoteIdent(c) + " = ?"
		b.params = append(b.params, data[c])
	}
	fmt.Fprintf(&b.sql, "UPDATE %s SET %s", QuoteIdent(table), strings.Join(sets, ", "))
	return b
}

// DeleteFrom begins a DELETE statement. Chain Where afterwards.
func (b *Builder) DeleteFrom(table string) *Builder {
	b.sql.WriteString("DELETE FROM " + QuoteIdent(table))
	return b
}

// ToSQL returns the accumulated SQL text (for introspection and tests).
func (b *Builder) ToSQL() string {
	return b.sql.String()
}

// Params returns the accumulated positional parameters.
func (b *Builder) Params() []any {
	return b.params
}

// Execute runs the statement and returns all rows.
func (b *Builder) Execute(ctx context.Context) ([]Record, error) {
	if b.adapter == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "query builder: no adapter bound")
	}
	return b.adapter.Query(ctx, b.sql.String(), b.params...)
}

// ExecuteOne runs the statement and returns the first row, or nil when
// the result set is empty.
func (b *Builder) ExecuteOne(ctx context.Context) (Record, error) {
	rows, err := b.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ExecuteUpdate runs the statement as a mutation.
func (b *Builder) ExecuteUpdate(ctx context.Context) (ExecResult, error) {
	if b.adapter == nil {
		return ExecResult{}, errs.New(errs.ErrKindInvalidInput, "query builder: no adapter bound")
	}
	return b.adapter.Execute(ctx, b.sql.String(), b.params...)
}

// QuoteIdent wraps a SQL identifier in double-quotes (ANSI standard).
// This safely handles reserved words and mixed-case names. The MySQL
// adapter enables ANSI_QUOTES so double-quoted identifiers work there too.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sortedKeys(m Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
