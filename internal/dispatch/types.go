// Package dispatch implements the component → object → operation namespace
// (spec.md §4.D.1): a process-wide registry of components, each owning a
// string-keyed map of objects, each owning a string-keyed map of named
// operations. Plain operations carry a pipeline template and an optional
// params schema; Alias operations transparently re-target another
// (component, object) pair under the same operation name.
package dispatch

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/dhamidi/storectl/internal/pipeline"
	"github.com/dhamidi/storectl/internal/stohash"
)

// OpKind distinguishes a real operation from a transparent redirect.
type OpKind int

const (
	Plain OpKind = iota
	Alias
)

// ParamType is the semantic type of a decoded parameter field.
type ParamType int

const (
	StringParam ParamType = iota
	Int32Param
	Uint32Param
	BoolParam
)

// ParamDescriptor describes one field of an operation's ops-params schema.
type ParamDescriptor struct {
	Name        string
	Description string
	Type        ParamType
	Optional    bool
}

// Ctx is the typed pipeline context every dispatched request runs with: the
// request-params value built by an operation's ReqParamsConstructor, an
// opaque priv slot for step-local state, and the response plumbing. This is
// the generics realization of spec.md §9's "opaque priv/ctx buffers → typed
// generics" note — Params and Priv are `any` here (not type-parameterized)
// because the registry itself must hold heterogeneous operations; each
// operation's own step closures type-assert Ctx.Params/Priv back to its
// concrete type, which is the idiomatic Go shape for a dynamic plugin-style
// registry where the set of concrete types isn't known until request time.
type Ctx struct {
	Params any
	Priv   any

	// RequestID correlates this dispatch with its obslog lines and audit
	// entry; set once by Dispatcher.runAsync when the request is built.
	RequestID uuid.UUID

	// RenderOverride, if set by a step, entirely replaces the template's
	// default response renderer (spec.md §11 / the original tree-walk
	// request's info_json override pattern).
	RenderOverride func(ctx *Ctx) (json.RawMessage, error)
}

// Step is a pipeline step parameterized over Ctx.
type Step = pipeline.Step[*Ctx]

// RequestTemplate is the static description an operation dispatches into: a
// fixed step list and a default response renderer.
type RequestTemplate struct {
	Steps    []Step
	Response func(ctx *Ctx) (json.RawMessage, error)
}

// DefaultResponse is the renderer used when a template doesn't supply one:
// spec.md §4.D.6's `{"status": "OK"}`.
func DefaultResponse(ctx *Ctx) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"status": "OK"})
}

// Operation is one named entry in an object's ops table.
type Operation struct {
	Name string
	Kind OpKind

	// Plain fields.
	ParamsSchema         []ParamDescriptor
	Template             *RequestTemplate
	ReqParamsConstructor func(opsParams map[string]json.RawMessage) (any, error)

	// Alias fields.
	AliasComponent string
	AliasObject    string
}

// ObjectOps is the per-object operation table a Component returns for a
// given object name. Backed by stohash.ShashMap rather than a plain map:
// operation-name lookup is exactly the hashed-correlation concern spec.md
// §4.A prescribes a hash map for, and every dispatch looks one up per
// inbound request.
type ObjectOps struct {
	ops *stohash.ShashMap[*Operation]
}

// NewObjectOps builds an ObjectOps table from a fixed set of operations,
// keyed by their own Name.
func NewObjectOps(ops ...*Operation) *ObjectOps {
	oo := &ObjectOps{ops: stohash.NewShashMap[*Operation](uint32(len(ops)) + 1)}
	for _, op := range ops {
		oo.ops.Add(op.Name, op)
	}
	return oo
}

// Lookup returns the named operation, if any.
func (oo *ObjectOps) Lookup(name string) (*Operation, bool) {
	return oo.ops.Lookup(name)
}

// Component is a top-level namespace on the inbound envelope (e.g.
// "module", "subsystem"). Internal components are reachable only from
// within the process (e.g. for req_core_submit-style nested dispatch), not
// from external inbound callers.
type Component interface {
	Name() string
	Internal() bool
	Object(name string) (*ObjectOps, bool)
}
