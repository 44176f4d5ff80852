package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/meridianweb/meridian/internal/database"
)

// Cond is a query condition: plain values mean equality, and nested
// operator maps ($gt, $gte, $lt, $lte, $ne, $in, $like) express range,
// inequality, membership, and pattern predicates. The same Cond renders
// to a SQL WHERE fragment or a MongoDB filter depending on the backend.
type Cond = database.Record

// conditionSQL renders cond into a WHERE fragment with ? placeholders.
// Fields and operators are emitted in sorted order so the generated SQL
// is deterministic. An empty cond yields an empty fragment.
func conditionSQL(cond Cond) (string, []any) {
	if len(cond) == 0 {
		return "", nil
	}

	var clauses []string
	var params []any

	fields := make([]string, 0, len(cond))
	for k := range cond {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	for _, field := range fields {
		ident := database.QuoteIdent(field)
		value := cond[field]

		ops, isOps := value.(database.Record)
		if !isOps {
			if value == nil {
				clauses = append(clauses, ident+" IS NULL")
			} else {
				clauses = append(clauses, ident+" = ?")
				params = append(params, value)
			}
			continue
		}

		opNames := make([]string, 0, len(ops))
		for op := range ops {
			opNames = append(opNames, op)
		}
		sort.Strings(opNames)

		for _, op := range opNames {
			arg := ops[op]
			switch op {
			case "$gt":
				clauses = append(clauses, ident+" > ?")
				params = append(params, arg)
			case "$gte":
				clauses = append(clauses, ident+" >= ?")
				params = append(params, arg)
			case "$lt":
				clauses = append(clauses, ident+" < ?")
				params = append(params, arg)
			case "$lte":
				clauses = append(clauses, ident+" <= ?")
				params = append(params, arg)
			case "$ne":
				if arg == nil {
					clauses = append(clauses, ident+" IS NOT NULL")
				} else {
					clauses = append(clauses, ident+" != ?")
					params = append(params, arg)
				}
			case "$like":
				clauses = append(clauses, ident+" LIKE ?")
				params = append(params, arg)
			case "$in":
				values := toAnySlice(arg)
				if len(values) == 0 {
					// IN over an empty set matches nothing.
					clauses = append(clauses, "1 = 0")
					continue
				}
				placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
				clauses = append(clauses, fmt.Sprintf("%s IN (%s)", ident, placeholders))
				params = append(params, values...)
			default:
				// Unknown operators degrade to equality on the raw map
				// value so bad input surfaces as a query error, not a
				// silent full-table match.
				clauses = append(clauses, ident+" = ?")
				params = append(params, arg)
			}
		}
	}

	return strings.Join(clauses, " AND "), params
}

// conditionFilter renders cond into a MongoDB filter document. $like
// patterns are rewritten into anchored $regex equivalents.
func conditionFilter(cond Cond) database.Record {
	out := make(database.Record, len(cond))
	for field, value := range cond {
		ops, isOps := value.(database.Record)
		if !isOps {
			out[field] = value
			continue
		}

		converted := make(database.Record, len(ops))
		for op, arg := range ops {
			if op == "$like" {
				if pattern, ok := arg.(string); ok {
					converted["$regex"] = likeToRegex(pattern)
					converted["$options"] = "i"
					continue
				}
			}
			converted[op] = arg
		}
		out[field] = converted
	}
	return out
}

// likeToRegex converts a SQL LIKE pattern into an anchored regular
// expression: % becomes .*, _ becomes ., everything else is escaped.
func likeToRegex(pattern string) string {
	var re strings.Builder
	re.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			re.WriteString(".*")
		case '_':
			re.WriteString(".")
		default:
			re.WriteString(regexpEscape(r))
		}
	}
	re.WriteString("$")
	return re.String()
}

func regexpEscape(r rune) string {
	if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
		return `\` + string(r)
	}
	return string(r)
}

func toAnySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case nil:
		return nil
	default:
		return []any{v}
	}
}
