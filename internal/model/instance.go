package model

import (
	"context"

	"github.com/meridianweb/meridian/internal/errs"
)

// Instance is one record bound to its Model. It tracks which fields
// changed since it was loaded so Save only writes the delta.
type Instance struct {
	model     *Model
	data      Cond
	dirty     Cond
	persisted bool
}

// newInstance wraps unpersisted data (pre-insert).
func (m *Model) newInstance(data Cond) *Instance {
	return &Instance{model: m, data: data, dirty: Cond{}}
}

// loadedInstance wraps a record read from the backend, running the
// read-side coercion pass so declared types come back as Go values.
func (m *Model) loadedInstance(record Cond) *Instance {
	return &Instance{
		model:     m,
		data:      m.def.Schema.coerceRecord(record),
		dirty:     Cond{},
		persisted: true,
	}
}

func (m *Model) loadedInstances(records []Cond) []*Instance {
	out := make([]*Instance, len(records))
	for i, r := range records {
		out[i] = m.loadedInstance(r)
	}
	return out
}

// Get returns the value of field. Virtual fields are recomputed on
// every call; stored fields pass through their Get transform when the
// schema declares one.
func (i *Instance) Get(field string) any {
	if virt, ok := i.model.def.Virtuals[field]; ok {
		return virt(i)
	}
	value := i.data[field]
	if f, ok := i.model.def.Schema[field]; ok && f.Get != nil {
		return f.Get(value)
	}
	return value
}

// Set assigns field and marks it dirty.
func (i *Instance) Set(field string, value any) {
	i.data[field] = value
	i.dirty[field] = value
}

// applyChanges merges a processed change set, marking each field dirty.
func (i *Instance) applyChanges(changes Cond) {
	for k, v := range changes {
		i.Set(k, v)
	}
}

// Data returns a copy of the stored fields. Virtuals are not included.
func (i *Instance) Data() Cond {
	out := make(Cond, len(i.data))
	for k, v := range i.data {
		out[k] = v
	}
	return out
}

// ToMap returns the stored fields plus every virtual, computed now.
func (i *Instance) ToMap() map[string]any {
	out := i.Data()
	for name, virt := range i.model.def.Virtuals {
		out[name] = virt(i)
	}
	return out
}

// PrimaryKey returns the record's primary key value, or nil before the
// first save.
func (i *Instance) PrimaryKey() any {
	return i.data[i.model.def.PrimaryKey]
}

// IsPersisted reports whether the record is backed by a row/document.
func (i *Instance) IsPersisted() bool { return i.persisted }

// Save persists the instance: an insert for new records, otherwise an
// update of the dirty fields. Hooks fire through the Model's Create and
// Update paths.
func (i *Instance) Save(ctx context.Context) error {
	m := i.model
	if !i.persisted {
		saved, err := m.Create(ctx, i.data)
		if err != nil {
			return err
		}
		i.data = saved.data
		i.dirty = Cond{}
		i.persisted = true
		return nil
	}

	if len(i.dirty) == 0 {
		return nil
	}
	updated, err := m.Update(ctx, Cond{m.def.PrimaryKey: i.PrimaryKey()}, i.dirty)
	if err != nil {
		return err
	}
	i.data = updated.data
	i.dirty = Cond{}
	return nil
}

// Delete removes this record through the Model's delete path (soft
// delete applies when the Model declares it).
func (i *Instance) Delete(ctx context.Context) error {
	pk := i.PrimaryKey()
	if pk == nil {
		return errs.New(errs.ErrKindInvalidInput, "model: cannot delete an unpersisted record")
	}
	return i.model.Delete(ctx, pk)
}

// BelongsTo fetches the owning record: related's ownerKey (its primary
// key when empty) must equal this instance's foreignKey value. Every
// call issues a fresh query; there is no relation cache.
func (i *Instance) BelongsTo(ctx context.Context, related *Model, foreignKey string, ownerKey ...string) (*Instance, error) {
	key := related.def.PrimaryKey
	if len(ownerKey) > 0 && ownerKey[0] != "" {
		key = ownerKey[0]
	}
	fk := i.data[foreignKey]
	if fk == nil {
		return nil, errs.Newf(errs.ErrKindNotFound, "model: %s has no %s value", i.model.def.Table, foreignKey)
	}
	return related.Find(ctx, Cond{key: fk})
}

// HasOne fetches the single related record whose foreignKey equals this
// instance's localKey (its primary key when empty).
func (i *Instance) HasOne(ctx context.Context, related *Model, foreignKey string, localKey ...string) (*Instance, error) {
	return related.Find(ctx, Cond{foreignKey: i.localValue(localKey)})
}

// HasMany fetches all related records whose foreignKey equals this
// instance's localKey (its primary key when empty).
func (i *Instance) HasMany(ctx context.Context, related *Model, foreignKey string, localKey ...string) ([]*Instance, error) {
	return related.FindAll(ctx, Cond{foreignKey: i.localValue(localKey)}, nil)
}

func (i *Instance) localValue(localKey []string) any {
	key := i.model.def.PrimaryKey
	if len(localKey) > 0 && localKey[0] != "" {
		key = localKey[0]
	}
	return i.data[key]
}
