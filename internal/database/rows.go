package database

import "github.com/meridianweb/meridian/internal/errs"

// Rows is an abstraction over a SQL result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// ScanRows reads all rows from the result set and returns them as Records,
// where each key is the column name and each value the Go-native
// representation of the DB value.
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRows always closes the Rows; callers do not need to call Close().
func ScanRows(rows Rows) ([]Record, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	result := make([]Record, 0)

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}

		row := make(Record, len(columns))
		for i, col := range columns {
			// database/sql hands back []byte for text columns on some
			// drivers; normalize to string so records compare cleanly.
			if b, ok := dest[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = dest[i]
			}
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}

	return result, nil
}
