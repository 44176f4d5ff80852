// Package model is a thin ORM over the database adapters. A Model is
// declared as a Definition (table, schema descriptor, hooks, scopes,
// virtual fields) and exposes a uniform query surface across SQL and
// document backends.
package model

import (
	"github.com/google/uuid"
)

// FieldType tags a schema field with its declared storage type.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeBoolean   FieldType = "boolean"
	TypeDate      FieldType = "date"
	TypeArray     FieldType = "array"
	TypeObject    FieldType = "object"
	TypeJSON      FieldType = "json"
	TypeEnum      FieldType = "enum"
	TypeUUID      FieldType = "uuid"
	TypeText      FieldType = "text"
	TypeBigInt    FieldType = "bigint"
	TypeDecimal   FieldType = "decimal"
	TypeTimestamp FieldType = "timestamp"
	TypeBinary    FieldType = "binary"
	TypeAny       FieldType = "any"
)

// Field describes one schema field: its type, constraints, and optional
// transforms. The zero value is an unconstrained TypeAny field.
type Field struct {
	Type     FieldType
	Required bool

	// Default fills a missing value on create. A func() any default is
	// invoked per record; any other value is used as-is.
	Default any

	// Enum lists the allowed values. Checked for every type, not just
	// TypeEnum.
	Enum []any

	// Min and Max bound numeric values (inclusive).
	Min *float64
	Max *float64

	// MinLength and MaxLength bound string length in bytes.
	MinLength *int
	MaxLength *int

	// Pattern is a regular expression the string value must match.
	Pattern string

	// Validate is a custom predicate, run after the built-in rules.
	Validate func(value any) error

	// Set transforms the value before coercion on create/update.
	Set func(value any) any

	// Get transforms the stored value on Instance.Get.
	Get func(value any) any
}

// Schema maps field names to their descriptors.
type Schema map[string]Field

// Float returns a pointer for Field.Min / Field.Max literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer for Field.MinLength / Field.MaxLength literals.
func Int(v int) *int { return &v }

// NewUUID is a Field.Default generator for TypeUUID fields.
func NewUUID() any { return uuid.NewString() }
