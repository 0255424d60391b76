// Package pipeline implements the cooperative, single-reactor scheduler
// that drives one request at a time through an ordered list of actions,
// with automatic LIFO rollback of completed actions when a later one
// fails. It is a direct translation of control/src/lib/sto_pipeline.c's
// algorithm, generalized over a typed context (spec.md §9's "opaque priv/ctx
// buffers → typed generics" note) instead of sized zeroed byte buffers.
package pipeline

import "math"

// StepKind distinguishes the three ways a template entry can behave.
type StepKind int

const (
	// Basic actions call an arbitrary function of the pipeline; completion
	// is signaled by a call to Pipeline.StepNext, which may happen
	// synchronously inside the action function or later from a callback
	// (an outbound RPC response, a nested pipeline's completion, ...).
	Basic StepKind = iota
	// Constructor actions return an int directly: 0 re-queues the same
	// action at the head of the queue (call it again, e.g. to enqueue the
	// next item of a collection); Finished drops it and advances; any
	// other value drops it and fails the pipeline with that value.
	Constructor
	// Terminator marks the end of a static step list; AddSteps stops
	// appending at the first Terminator it sees.
	Terminator
)

// Finished is the sentinel a Constructor action returns to signal it is
// done producing steps.
const Finished = math.MaxInt32

// ActionFunc is a step's forward or rollback behavior. For Basic and
// rollback actions the return value is ignored — the action must call
// Pipeline.StepNext itself, synchronously or later. For Constructor actions
// the return value is interpreted directly by the engine.
type ActionFunc[C any] func(p *Pipeline[C]) int

// Step is a declarative template entry, the unit operations are built from.
type Step[C any] struct {
	Kind     StepKind
	Action   ActionFunc[C]
	Rollback ActionFunc[C]
}

// action is the runtime instance of a Step inside a pipeline.
type action[C any] struct {
	kind     StepKind
	fn       ActionFunc[C]
	rollback *action[C]
}

func newAction[C any](s Step[C]) *action[C] {
	a := &action[C]{kind: s.Kind, fn: s.Action}
	if s.Rollback != nil {
		a.rollback = &action[C]{kind: Basic, fn: s.Rollback}
	}
	return a
}

// Pipeline is the owning state machine for one in-progress request. The
// zero value is not usable; construct with New.
type Pipeline[C any] struct {
	Ctx C

	engine *Engine[C]

	actionQueue     []*action[C]
	actionQueueTodo []*action[C]
	rollbackStack   []*action[C]
	curRollback     *action[C]
	lastForward     *action[C]

	err        int
	returncode int
	rollback   bool

	// AutoRelease mirrors spec.md's auto_release flag; Go's GC makes the
	// "release" step a no-op beyond dropping references, so the engine
	// never reads this field: the completion callback is invoked whatever
	// its value.
	AutoRelease bool

	done func(p *Pipeline[C], returncode int)
}

// New allocates a pipeline bound to engine, with the given initial context
// value and completion callback.
func New[C any](engine *Engine[C], ctx C, done func(p *Pipeline[C], returncode int)) *Pipeline[C] {
	return &Pipeline[C]{
		Ctx:         ctx,
		engine:      engine,
		done:        done,
		AutoRelease: true,
	}
}

// AddSteps appends a Terminator-terminated list to the pipeline's static
// action queue. Setup-time use only — call before the pipeline is ever run.
func (p *Pipeline[C]) AddSteps(steps ...Step[C]) {
	for _, s := range steps {
		if s.Kind == Terminator {
			break
		}
		p.actionQueue = append(p.actionQueue, newAction(s))
	}
}

// InsertStep prepends a single step to the pending-insertion list. Runtime
// use from within an action; takes effect atomically once that action
// returns control to the engine.
func (p *Pipeline[C]) InsertStep(s Step[C]) {
	p.actionQueueTodo = append([]*action[C]{newAction(s)}, p.actionQueueTodo...)
}

// QueueStep inserts a step and immediately signals success, equivalent to
// InsertStep followed by StepNext(0).
func (p *Pipeline[C]) QueueStep(s Step[C]) {
	p.InsertStep(s)
	p.StepNext(0)
}

// StepNext records the current step's result and re-queues the pipeline on
// its engine for its next tick. Safe to call from any goroutine (e.g. an
// outbound RPC's response handler); the engine serializes all pipeline
// state transitions onto its own driving goroutine.
func (p *Pipeline[C]) StepNext(rc int) {
	p.err = rc
	p.engine.enqueue(p)
}

// Returncode returns the latched final result. Only meaningful once the
// completion callback has fired.
func (p *Pipeline[C]) Returncode() int {
	return p.returncode
}

// InRollback reports whether the pipeline has switched to unwinding
// completed actions.
func (p *Pipeline[C]) InRollback() bool {
	return p.rollback
}

func (p *Pipeline[C]) mergeTodo() {
	if len(p.actionQueueTodo) == 0 {
		return
	}
	// actionQueueTodo accumulates with the most-recently-inserted step at
	// its head (InsertStep prepends); merging it reversed onto the head of
	// actionQueue preserves the original insertion order once both are
	// read front-to-back.
	merged := make([]*action[C], 0, len(p.actionQueueTodo)+len(p.actionQueue))
	for i := len(p.actionQueueTodo) - 1; i >= 0; i-- {
		merged = append(merged, p.actionQueueTodo[i])
	}
	p.actionQueue = append(merged, p.actionQueue...)
	p.actionQueueTodo = nil
}

func (p *Pipeline[C]) finish() {
	if p.err != 0 && !p.rollback {
		p.returncode = p.err
		p.err = 0
		if len(p.rollbackStack) > 0 {
			p.rollback = true
		}
		p.StepNext(0)
		return
	}

	if p.done != nil {
		p.done(p, p.returncode)
	}
}
