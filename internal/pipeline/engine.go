package pipeline

import "sync"

// Engine is the per-reactor scheduler: a queue of pipelines waiting to be
// polled. Each tick drains the whole queue and drives exactly one action
// per pipeline, matching control/src/lib/sto_pipeline.c's
// pipeline_action_poll: take-all-then-drive-one-each, never more than one
// action per pipeline per tick.
type Engine[C any] struct {
	mu    sync.Mutex
	queue []*Pipeline[C]
}

// NewEngine constructs an empty engine.
func NewEngine[C any]() *Engine[C] {
	return &Engine[C]{}
}

func (e *Engine[C]) enqueue(p *Pipeline[C]) {
	e.mu.Lock()
	e.queue = append(e.queue, p)
	e.mu.Unlock()
}

// Run submits a freshly built pipeline to the engine for its first tick.
func (e *Engine[C]) Run(p *Pipeline[C]) {
	e.enqueue(p)
}

// Tick drains every pipeline currently queued and drives one action on
// each. It returns true if any pipeline was driven (the SPDK source's
// SPDK_POLLER_BUSY) or false if the queue was empty (SPDK_POLLER_IDLE).
func (e *Engine[C]) Tick() bool {
	e.mu.Lock()
	batch := e.queue
	e.queue = nil
	e.mu.Unlock()

	if len(batch) == 0 {
		return false
	}

	for _, p := range batch {
		e.driveOneAction(p)
	}
	return true
}

func (e *Engine[C]) driveOneAction(p *Pipeline[C]) {
	if p.err != 0 {
		p.finish()
		return
	}

	var a *action[C]
	if !p.rollback {
		if len(p.actionQueue) == 0 {
			p.finish()
			return
		}
		a = p.actionQueue[0]
		p.actionQueue = p.actionQueue[1:]

		// Rollback bookkeeping only happens when a genuinely new forward
		// action becomes current. A Constructor action that re-queues
		// itself (0 return) is popped again every tick but is not a new
		// action — skipping the shuffle for it means its paired rollback
		// (if any) is pushed onto rollback_stack exactly once, when a
		// different forward action (a step it inserted, or the step after
		// it) next becomes current, not on every intermediate tick.
		if a != p.lastForward {
			if p.curRollback != nil {
				p.rollbackStack = append([]*action[C]{p.curRollback}, p.rollbackStack...)
			}
			p.curRollback = a.rollback
			a.rollback = nil
			p.lastForward = a
		}
	} else {
		if len(p.rollbackStack) == 0 {
			p.finish()
			return
		}
		a = p.rollbackStack[0]
		p.rollbackStack = p.rollbackStack[1:]
	}

	switch a.kind {
	case Constructor:
		rc := a.fn(p)
		switch rc {
		case 0:
			p.actionQueue = append([]*action[C]{a}, p.actionQueue...)
			e.enqueue(p)
		case Finished:
			p.StepNext(0)
		default:
			p.StepNext(rc)
		}
	default: // Basic, and rollback actions (always stored with kind Basic)
		a.fn(p)
	}

	p.mergeTodo()
}
