// Package core is the built-in "module" dispatch component
// (original_source/control/src/sto_module.c's namespace): every op it
// exposes is a transparent Alias into the real owning component, giving
// spec.md §6's own example envelope ("module":"scst") and §8 scenario 5's
// alias-resolution test a concrete, exercised target.
package core

import "github.com/dhamidi/storectl/internal/dispatch"

// AliasTable names, per object, which (component, object) pair and op
// names the "module" namespace redirects to.
type AliasTable struct {
	Object          string
	TargetComponent string
	TargetObject    string
	Ops             []string
}

// Component builds the "module" dispatch.Component from a set of alias
// tables, one per object it should expose.
func Component(tables ...AliasTable) dispatch.Component {
	objects := make(map[string]*dispatch.ObjectOps, len(tables))
	for _, t := range tables {
		ops := make([]*dispatch.Operation, 0, len(t.Ops))
		for _, op := range t.Ops {
			ops = append(ops, &dispatch.Operation{
				Name:           op,
				Kind:           dispatch.Alias,
				AliasComponent: t.TargetComponent,
				AliasObject:    t.TargetObject,
			})
		}
		objects[t.Object] = dispatch.NewObjectOps(ops...)
	}
	return dispatch.NewComponent("module", false, objects)
}
