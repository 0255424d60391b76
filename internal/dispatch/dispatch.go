package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dhamidi/storectl/internal/fallible"
	"github.com/dhamidi/storectl/internal/obslog"
	"github.com/dhamidi/storectl/internal/pipeline"
	"github.com/dhamidi/storectl/internal/stoerr"
)

// maxAliasDepth bounds iterative alias resolution (spec.md §4.D.1 step 3 /
// §9's cycle-guard note: "≥ 4 suffices in practice").
const maxAliasDepth = 4

// FailureBody is the structured envelope a failed dispatch renders.
type FailureBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Msg    string `json:"msg"`
}

// Recorder is notified once per completed dispatch, after the pipeline has
// finished and before the response is rendered. internal/audit implements
// this to keep its dispatch log append-only and decoupled from the
// dispatch package itself.
type Recorder interface {
	RecordDispatch(componentName, objectName, opName string, returncode int, requestID uuid.UUID, d time.Duration)
}

// Dispatcher owns the registry and the shared engine every dispatched
// request runs its pipeline on.
type Dispatcher struct {
	registry *Registry
	engine   *pipeline.Engine[*Ctx]
	recorder Recorder
	logger   *obslog.Logger
}

// New builds a Dispatcher sharing one engine across every dispatched
// request, matching spec.md §5's single-reactor-goroutine model.
func New(registry *Registry, engine *pipeline.Engine[*Ctx]) *Dispatcher {
	return &Dispatcher{registry: registry, engine: engine}
}

// SetRecorder attaches r so every future dispatch is recorded after it
// completes. Passing nil disables recording.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// SetLogger attaches l so every future dispatch logs one line per request,
// correlated via ctx.RequestID. Passing nil disables logging.
func (d *Dispatcher) SetLogger(l *obslog.Logger) {
	d.logger = l
}

// resolved is what component/object/operation lookup (steps 1-3) settles
// on: the operation itself plus the final (component, object) names it
// resolved to, after following any alias chain.
type resolved struct {
	op            *Operation
	componentName string
	objectName    string
}

// resolve implements spec.md §4.D.1 steps 1-3: component lookup, object
// lookup, operation lookup, with iterative alias re-entry bounded at
// maxAliasDepth. It returns a fallible.Result rather than a plain (T,
// error) pair because the alias loop threads the in-flight result through
// more than one re-entry before a caller ever unwraps it (SPEC_FULL.md
// §4.B's stated reservation for this type).
func (d *Dispatcher) resolve(componentName, objectName, opName string, allowInternal bool) fallible.Result[*resolved] {
	for depth := 0; ; depth++ {
		if depth >= maxAliasDepth {
			return fallible.Err[*resolved](stoerr.InvalidArgumentf("dispatch: alias chain exceeds depth %d resolving %s/%s/%s", maxAliasDepth, componentName, objectName, opName))
		}

		comp, ok := d.registry.Find(componentName, allowInternal)
		if !ok {
			return fallible.Err[*resolved](stoerr.NotFoundf("dispatch: unknown component %q", componentName))
		}

		obj, ok := comp.Object(objectName)
		if !ok {
			return fallible.Err[*resolved](stoerr.NotFoundf("dispatch: unknown object %q in component %q", objectName, componentName))
		}

		op, ok := obj.Lookup(opName)
		if !ok {
			return fallible.Err[*resolved](stoerr.NotFoundf("dispatch: unknown op %q on %s/%s", opName, componentName, objectName))
		}

		if op.Kind != Alias {
			return fallible.Ok(&resolved{op: op, componentName: componentName, objectName: objectName})
		}

		componentName, objectName = op.AliasComponent, op.AliasObject
		// opName is unchanged: an alias re-targets (component, object),
		// not the op name itself (spec.md §4.D.1 step 3).
	}
}

// envelope is the decoded shape of an inbound request: {<component>:
// <object>, "op": <op>, ...rest}. Component field order in the source JSON
// is not load-bearing here — the component key is identified by matching
// against the registry's known names, not by position.
type envelope map[string]json.RawMessage

// splitEnvelope finds which registered component the envelope names, and
// returns the object name, op name, and the remaining fields as ops-params.
func splitEnvelope(env envelope, componentNames []string) (componentName, objectName, opName string, opsParams map[string]json.RawMessage, err error) {
	opRaw, ok := env["op"]
	if !ok {
		err = stoerr.InvalidArgumentf("dispatch: envelope missing \"op\" field")
		return
	}
	if err = json.Unmarshal(opRaw, &opName); err != nil {
		err = stoerr.InvalidArgumentf("dispatch: \"op\" field is not a string: %v", err)
		return
	}

	found := false
	for _, name := range componentNames {
		raw, ok := env[name]
		if !ok {
			continue
		}
		if found {
			err = stoerr.InvalidArgumentf("dispatch: envelope names more than one component")
			return
		}
		found = true
		componentName = name
		if unmarshalErr := json.Unmarshal(raw, &objectName); unmarshalErr != nil {
			err = stoerr.InvalidArgumentf("dispatch: component field %q is not a string: %v", name, unmarshalErr)
			return
		}
	}
	if !found {
		err = stoerr.InvalidArgumentf("dispatch: envelope names no known component")
		return
	}

	opsParams = make(map[string]json.RawMessage, len(env))
	for k, v := range env {
		if k == "op" || k == componentName {
			continue
		}
		opsParams[k] = v
	}
	return
}

// decodeAndResolve implements steps 1-3: decode the inbound envelope and
// resolve it to a concrete operation, following any alias chain.
func (d *Dispatcher) decodeAndResolve(raw json.RawMessage, allowInternal bool) (*resolved, map[string]json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, stoerr.InvalidArgumentf("dispatch: malformed envelope: %v", err)
	}

	componentName, objectName, opName, opsParams, err := splitEnvelope(env, d.registry.Names())
	if err != nil {
		return nil, nil, err
	}

	res, err := d.resolve(componentName, objectName, opName, allowInternal).Unwrap()
	if err != nil {
		return nil, nil, err
	}

	return res, opsParams, nil
}

// validateParams implements spec.md §4.D.1 step 5's schema-driven decode:
// every required descriptor must be present, and every present field must
// decode as its declared type, before ReqParamsConstructor ever sees the
// envelope.
func validateParams(schema []ParamDescriptor, opsParams map[string]json.RawMessage) error {
	for _, pd := range schema {
		raw, ok := opsParams[pd.Name]
		if !ok {
			if pd.Optional {
				continue
			}
			return stoerr.InvalidArgumentf("dispatch: missing required param %q", pd.Name)
		}
		switch pd.Type {
		case StringParam:
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return stoerr.InvalidArgumentf("dispatch: param %q is not a string: %v", pd.Name, err)
			}
		case Int32Param:
			var v int32
			if err := json.Unmarshal(raw, &v); err != nil {
				return stoerr.InvalidArgumentf("dispatch: param %q is not an int32: %v", pd.Name, err)
			}
		case Uint32Param:
			var v uint32
			if err := json.Unmarshal(raw, &v); err != nil {
				return stoerr.InvalidArgumentf("dispatch: param %q is not a uint32: %v", pd.Name, err)
			}
		case BoolParam:
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return stoerr.InvalidArgumentf("dispatch: param %q is not a bool: %v", pd.Name, err)
			}
		}
	}
	return nil
}

// Dispatch implements spec.md §4.D.1 in full: decode the envelope, resolve
// the operation (with alias re-entry), build a fresh request, parse params,
// and run it to completion. Dispatch itself blocks until the pipeline's
// completion callback fires; callers that need non-blocking behavior should
// run it in its own goroutine (the engine and the pipelines it drives are
// not otherwise goroutine-bound).
func (d *Dispatcher) Dispatch(raw json.RawMessage, allowInternal bool) (json.RawMessage, error) {
	res, opsParams, err := d.decodeAndResolve(raw, allowInternal)
	if err != nil {
		return d.renderFailure(err), nil
	}
	return d.run(res, opsParams)
}

// run is the blocking entry point steps 4-6 use when the caller itself is
// not running on the reactor goroutine (e.g. a server connection handler):
// it waits for runAsync's completion callback before returning.
func (d *Dispatcher) run(res *resolved, opsParams map[string]json.RawMessage) (json.RawMessage, error) {
	type outcome struct {
		resp json.RawMessage
		err  error
	}
	done := make(chan outcome, 1)
	d.runAsync(res, opsParams, func(resp json.RawMessage, err error) {
		done <- outcome{resp, err}
	})
	o := <-done
	return o.resp, o.err
}

// runAsync implements steps 4-6 without ever blocking the calling goroutine:
// it builds the request, validates and parses params, runs the pipeline,
// and invokes onDone from the pipeline's own completion callback once the
// reactor has driven it to completion. This matters for SubmitNested: the
// calling step's Action runs synchronously on the single reactor goroutine
// (internal/pipeline.Engine.driveOneAction calls it directly, never via
// `go`), so a nested call that blocked on a channel here would deadlock
// waiting on the only goroutine that could ever unblock it.
func (d *Dispatcher) runAsync(res *resolved, opsParams map[string]json.RawMessage, onDone func(json.RawMessage, error)) {
	op := res.op
	ctx := &Ctx{RequestID: uuid.New()}
	start := time.Now()

	if len(op.ParamsSchema) > 0 {
		if err := validateParams(op.ParamsSchema, opsParams); err != nil {
			onDone(d.renderFailure(err), nil)
			return
		}
	}

	if op.ReqParamsConstructor != nil {
		params, err := op.ReqParamsConstructor(opsParams)
		if err != nil {
			onDone(d.renderFailure(err), nil)
			return
		}
		ctx.Params = params
		// Go's defer/GC closes the per-field deinit gap spec.md §9 flags
		// against the C source's manual free() bookkeeping: there is no
		// separate release step because ctx.Params is owned by ctx alone
		// and goes out of scope with it.
	}

	tmpl := op.Template
	if tmpl == nil {
		onDone(d.renderFailure(stoerr.InvalidArgumentf("dispatch: op %q has no request template", op.Name)), nil)
		return
	}

	p := pipeline.New(d.engine, ctx, func(_ *pipeline.Pipeline[*Ctx], returncode int) {
		if d.recorder != nil {
			d.recorder.RecordDispatch(res.componentName, res.objectName, op.Name, returncode, ctx.RequestID, time.Since(start))
		}
		d.logDispatch(res, op.Name, ctx.RequestID, returncode, time.Since(start))

		if returncode != 0 {
			onDone(d.renderFailure(stoerr.FromErrno(returncode, "dispatch: op %q failed", op.Name)), nil)
			return
		}

		if ctx.RenderOverride != nil {
			onDone(ctx.RenderOverride(ctx))
			return
		}
		if tmpl.Response != nil {
			onDone(tmpl.Response(ctx))
			return
		}
		onDone(DefaultResponse(ctx))
	})
	p.AddSteps(tmpl.Steps...)

	d.engine.Run(p)
}

func (d *Dispatcher) logDispatch(res *resolved, opName string, requestID uuid.UUID, returncode int, dur time.Duration) {
	if d.logger == nil {
		return
	}
	rl := d.logger.WithRequestID(requestID)
	if returncode != 0 {
		rl.Errorf(stoerr.FromErrno(returncode, "dispatch failed"), "dispatch %s/%s/%s returncode=%d duration=%s", res.componentName, res.objectName, opName, returncode, dur)
		return
	}
	rl.Infof("dispatch %s/%s/%s ok duration=%s", res.componentName, res.objectName, opName, dur)
}

func (d *Dispatcher) renderFailure(err error) json.RawMessage {
	msg := err.Error()
	kind := "error"
	if se, ok := stoerr.As(err); ok {
		kind = se.Kind.String()
	}
	body, marshalErr := json.Marshal(FailureBody{Status: "FAILED", Error: kind, Msg: msg})
	if marshalErr != nil {
		// json.Marshal of a fixed-shape struct with only string fields
		// cannot fail; this is here only to satisfy the compiler.
		return json.RawMessage(fmt.Sprintf(`{"status":"FAILED","error":"error","msg":%q}`, msg))
	}
	return body
}

// SubmitNested re-enters the dispatcher from within a running step, the
// req_core_submit analogue (spec.md §4.D.4): it submits a fresh inbound
// envelope and invokes onDone once it completes, without ever blocking the
// calling step. It is internal-aware since nested submission is itself an
// in-process caller. Blocking here would deadlock: the calling step's own
// Action is running synchronously on the single reactor goroutine, the only
// goroutine that can ever drive the nested pipeline to completion.
func (d *Dispatcher) SubmitNested(raw json.RawMessage, onDone func(json.RawMessage, error)) {
	res, opsParams, err := d.decodeAndResolve(raw, true)
	if err != nil {
		onDone(d.renderFailure(err), nil)
		return
	}
	d.runAsync(res, opsParams, onDone)
}
