package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/meridianweb/meridian/internal/database"
)

// ValidationError reports the first failing rule during field
// processing. It is distinct from database-layer errors so callers can
// tell bad input apart from backend failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on field %q: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// prepare runs the write-side half of the field pipeline over data:
// defaults (full writes only), Set transforms, and type coercion.
// Uncoercible values pass through unchanged; validation is a separate
// step so before-validate hooks can run in between.
func (s Schema) prepare(data database.Record, full bool) database.Record {
	out := make(database.Record, len(data))
	for k, v := range data {
		out[k] = v
	}

	for _, name := range sortedFieldNames(s) {
		field := s[name]
		value, present := out[name]

		if !present || value == nil {
			if full && field.Default != nil {
				value = applyDefault(field.Default)
				out[name] = value
				present = value != nil
			}
			if !present || value == nil {
				continue
			}
		}

		if field.Set != nil {
			value = field.Set(value)
		}
		out[name] = coerce(field.Type, value)
	}
	return out
}

// validate checks every schema rule against data. With full=false
// (updates) missing fields are skipped, including required ones.
func (s Schema) validate(data database.Record, full bool) error {
	for _, name := range sortedFieldNames(s) {
		field := s[name]
		value, present := data[name]
		missing := !present || value == nil

		if missing {
			if full && field.Required {
				return &ValidationError{Field: name, Message: "is required"}
			}
			continue
		}

		if err := validateField(name, field, value); err != nil {
			return err
		}
	}
	return nil
}

// coerceRecord runs read-side coercion so values loaded from a backend
// (driver strings, unix timestamps) come back as their declared types.
func (s Schema) coerceRecord(data database.Record) database.Record {
	for name, field := range s {
		if v, ok := data[name]; ok && v != nil {
			data[name] = coerce(field.Type, v)
		}
	}
	return data
}

func sortedFieldNames(s Schema) []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func applyDefault(d any) any {
	if fn, ok := d.(func() any); ok {
		return fn()
	}
	return d
}

// coerce converts value to the declared type where a sensible
// conversion exists. Values that cannot be converted are returned
// unchanged; the validation step reports them.
func coerce(t FieldType, value any) any {
	switch t {
	case TypeString, TypeText:
		switch v := value.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case fmt.Stringer:
			return v.String()
		case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
			return fmt.Sprintf("%v", v)
		}

	case TypeNumber, TypeDecimal:
		if f, ok := toFloat(value); ok {
			return f
		}

	case TypeBigInt:
		if i, ok := toInt(value); ok {
			return i
		}

	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		case int, int32, int64:
			i, _ := toInt(v)
			return i != 0
		}

	case TypeDate, TypeTimestamp:
		switch v := value.(type) {
		case time.Time:
			return v
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if ts, err := time.Parse(layout, v); err == nil {
					return ts
				}
			}
		case int64:
			return time.UnixMilli(v)
		case float64:
			return time.UnixMilli(int64(v))
		}

	case TypeUUID:
		switch v := value.(type) {
		case uuid.UUID:
			return v.String()
		case string:
			return v
		}

	case TypeJSON:
		switch v := value.(type) {
		case string:
			var decoded any
			if err := json.Unmarshal([]byte(v), &decoded); err == nil {
				return decoded
			}
		case []byte:
			var decoded any
			if err := json.Unmarshal(v, &decoded); err == nil {
				return decoded
			}
		}

	case TypeBinary:
		switch v := value.(type) {
		case []byte:
			return v
		case string:
			return []byte(v)
		}
	}
	return value
}

func validateField(name string, field Field, value any) error {
	fail := func(format string, args ...any) error {
		return &ValidationError{Field: name, Message: fmt.Sprintf(format, args...)}
	}

	switch field.Type {
	case TypeString, TypeText:
		s, ok := value.(string)
		if !ok {
			return fail("expected a string, got %T", value)
		}
		if field.MinLength != nil && len(s) < *field.MinLength {
			return fail("must be at least %d characters", *field.MinLength)
		}
		if field.MaxLength != nil && len(s) > *field.MaxLength {
			return fail("must be at most %d characters", *field.MaxLength)
		}
		if field.Pattern != "" {
			re, err := regexp.Compile(field.Pattern)
			if err != nil {
				return fail("invalid pattern: %v", err)
			}
			if !re.MatchString(s) {
				return fail("does not match pattern %s", field.Pattern)
			}
		}

	case TypeNumber, TypeDecimal, TypeBigInt:
		f, ok := toFloat(value)
		if !ok {
			return fail("expected a number, got %T", value)
		}
		if field.Min != nil && f < *field.Min {
			return fail("must be at least %v", *field.Min)
		}
		if field.Max != nil && f > *field.Max {
			return fail("must be at most %v", *field.Max)
		}

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fail("expected a boolean, got %T", value)
		}

	case TypeDate, TypeTimestamp:
		if _, ok := value.(time.Time); !ok {
			return fail("expected a date, got %T", value)
		}

	case TypeUUID:
		s, ok := value.(string)
		if !ok {
			return fail("expected a UUID string, got %T", value)
		}
		if _, err := uuid.Parse(s); err != nil {
			return fail("is not a valid UUID")
		}

	case TypeArray:
		if _, ok := value.([]any); !ok {
			return fail("expected an array, got %T", value)
		}

	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return fail("expected an object, got %T", value)
		}
	}

	if len(field.Enum) > 0 && !enumContains(field.Enum, value) {
		return fail("must be one of %v", field.Enum)
	}

	if field.Validate != nil {
		if err := field.Validate(value); err != nil {
			if _, ok := err.(*ValidationError); ok {
				return err
			}
			return fail("%v", err)
		}
	}
	return nil
}

func enumContains(enum []any, value any) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
		ef, eok := toFloat(e)
		vf, vok := toFloat(value)
		if eok && vok && ef == vf {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
