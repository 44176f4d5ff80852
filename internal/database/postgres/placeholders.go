package postgres

import (
	"strconv"
	"strings"
)

// TranslatePlaceholders rewrites ? placeholders into the $1, $2, …
// positional syntax Postgres requires. Question marks inside single-quoted
// string literals, double-quoted identifiers, and dollar-quoted strings
// are left untouched.
func TranslatePlaceholders(sql string) string {
	if !strings.Contains(sql, "?") {
		return sql
	}

	var out strings.Builder
	out.Grow(len(sql) + 8)

	n := 0
	inSingle := false
	inDouble := false

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case inSingle:
			out.WriteByte(ch)
			if ch == '\'' {
				// '' escapes a quote inside the literal.
				if i+1 < len(sql) && sql[i+1] == '\'' {
					out.WriteByte('\'')
					i++
				} else {
					inSingle = false
				}
			}
		case inDouble:
			out.WriteByte(ch)
			if ch == '"' {
				inDouble = false
			}
		case ch == '\'':
			inSingle = true
			out.WriteByte(ch)
		case ch == '"':
			inDouble = true
			out.WriteByte(ch)
		case ch == '?':
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
		default:
			out.WriteByte(ch)
		}
	}

	return out.String()
}
