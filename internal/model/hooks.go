package model

import "context"

// Hook receives the in-flight instance and may mutate it. Mutations
// made by before-hooks are merged into the data that gets persisted;
// mutations by after-hooks are visible on the returned instance. A hook
// error aborts the operation and propagates unchanged.
type Hook func(ctx context.Context, inst *Instance) error

// Hooks declares the lifecycle callbacks of a Model. All are optional.
// Firing order around a mutation is: BeforeValidate, AfterValidate,
// Before{Create,Update,Delete}, BeforeSave, the adapter call,
// After{Create,Update,Delete}, AfterSave.
type Hooks struct {
	BeforeValidate Hook
	AfterValidate  Hook

	BeforeCreate Hook
	BeforeUpdate Hook
	BeforeDelete Hook
	BeforeSave   Hook

	AfterCreate Hook
	AfterUpdate Hook
	AfterDelete Hook
	AfterSave   Hook
}

func runHooks(ctx context.Context, inst *Instance, hooks ...Hook) error {
	for _, h := range hooks {
		if h == nil {
			continue
		}
		if err := h(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}
