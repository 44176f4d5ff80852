package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrKindNotFound, "no user matched")

	assert.Equal(t, ErrKindNotFound, err.Kind)
	assert.Equal(t, "[not_found] no user matched", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestNewf(t *testing.T) {
	err := Newf(ErrKindInvalidInput, "unknown scope %q", "active")
	assert.Contains(t, err.Error(), `"active"`)
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrKindConnectionFailed, "postgres: connect failed", cause)

	assert.Contains(t, err.Error(), "postgres: connect failed")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
		want      bool
	}{
		{"not found", New(ErrKindNotFound, "x"), IsNotFound, true},
		{"not found mismatch", New(ErrKindTimeout, "x"), IsNotFound, false},
		{"timeout", New(ErrKindTimeout, "x"), IsTimeout, true},
		{"connection failed", New(ErrKindConnectionFailed, "x"), IsConnectionFailed, true},
		{"not connected", New(ErrKindNotConnected, "x"), IsNotConnected, true},
		{"query failed", New(ErrKindQueryFailed, "x"), IsQueryFailed, true},
		{"transaction", New(ErrKindTransaction, "x"), IsTransaction, true},
		{"invalid input", New(ErrKindInvalidInput, "x"), IsInvalidInput, true},
		{"unsupported", New(ErrKindUnsupported, "x"), IsUnsupported, true},
		{"plain error is unknown", errors.New("x"), IsNotFound, false},
		{"nil error", nil, IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.predicate(tt.err))
		})
	}
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	inner := New(ErrKindNotFound, "no row")
	outer := fmt.Errorf("loading profile: %w", inner)

	assert.True(t, IsNotFound(outer))
}

func TestErrorsAs(t *testing.T) {
	err := Wrap(ErrKindQueryFailed, "mysql: execute failed", errors.New("syntax error"))

	var e *Error
	require.ErrorAs(t, error(err), &e)
	assert.Equal(t, ErrKindQueryFailed, e.Kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "not_found", ErrKindNotFound.String())
	assert.NotEmpty(t, ErrKindUnknown.String())
}
