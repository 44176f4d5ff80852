package model

import (
	"context"

	"github.com/meridianweb/meridian/internal/errs"
)

// Scoped is a mini query surface bound to one named scope. Caller
// conditions are merged over the scope's filter, with the caller
// winning on key collision.
type Scoped struct {
	model  *Model
	filter Cond
}

// Scope binds the named scope. Unknown names fail rather than silently
// matching everything.
func (m *Model) Scope(name string) (*Scoped, error) {
	fn, ok := m.def.Scopes[name]
	if !ok {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "model: unknown scope %q on %s", name, m.def.Table)
	}
	return &Scoped{model: m, filter: fn()}, nil
}

func (s *Scoped) merge(cond Cond) Cond {
	out := make(Cond, len(s.filter)+len(cond))
	for k, v := range s.filter {
		out[k] = v
	}
	for k, v := range cond {
		out[k] = v
	}
	return out
}

// FindAll returns every record matching the scope plus cond.
func (s *Scoped) FindAll(ctx context.Context, cond Cond, opts *QueryOptions) ([]*Instance, error) {
	return s.model.FindAll(ctx, s.merge(cond), opts)
}

// Find returns the single record matching the scope plus cond.
func (s *Scoped) Find(ctx context.Context, cond Cond) (*Instance, error) {
	return s.model.Find(ctx, s.merge(cond))
}

// Count returns the number of records matching the scope plus cond.
func (s *Scoped) Count(ctx context.Context, cond Cond) (int64, error) {
	return s.model.Count(ctx, s.merge(cond))
}
