package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dhamidi/storectl/internal/pipeline"
	"github.com/dhamidi/storectl/internal/rpcpool"
)

// fakeSender is an OutboundSender that answers every Send synchronously
// with a canned result, used so dispatch-level tests don't need a real
// executor sidecar.
type fakeSender struct {
	result json.RawMessage
	err    error
	calls  []string
}

func (f *fakeSender) Send(method string, params any, onResponse rpcpool.ResponseHandler) error {
	f.calls = append(f.calls, method)
	onResponse(f.result, f.err)
	return nil
}

func newTestDispatcher() (*Dispatcher, *Registry, *pipeline.Engine[*Ctx]) {
	engine := pipeline.NewEngine[*Ctx]()
	registry := NewRegistry()
	d := New(registry, engine)
	go func() {
		for {
			if !engine.Tick() {
				time.Sleep(time.Millisecond)
			}
		}
	}()
	return d, registry, engine
}

func writeOp(sender *fakeSender) *Operation {
	return &Operation{
		Name: "write",
		Kind: Plain,
		ReqParamsConstructor: func(opsParams map[string]json.RawMessage) (any, error) {
			var filepath string
			if raw, ok := opsParams["filepath"]; ok {
				_ = json.Unmarshal(raw, &filepath)
			}
			return filepath, nil
		},
		Template: &RequestTemplate{
			Steps: []Step{
				{
					Kind: pipeline.Basic,
					Action: func(p *pipeline.Pipeline[*Ctx]) int {
						filepath := p.Ctx.Params.(string)
						_ = sender.Send("writefile", map[string]any{"filepath": filepath}, func(_ json.RawMessage, err error) {
							if err != nil {
								p.StepNext(-14)
								return
							}
							p.StepNext(0)
						})
						return 0
					},
				},
				{Kind: pipeline.Terminator},
			},
		},
	}
}

func TestDispatchSimpleWrite(t *testing.T) {
	d, registry, _ := newTestDispatcher()
	sender := &fakeSender{result: json.RawMessage(`{"returncode":0}`)}

	registry.Register(NewComponent("module", false, map[string]*ObjectOps{
		"scst": NewObjectOps(writeOp(sender)),
	}))

	raw := json.RawMessage(`{"module":"scst","op":"write","filepath":"/tmp/x"}`)
	resp, err := d.Dispatch(raw, false)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"OK"}`, string(resp))
	require.Equal(t, []string{"writefile"}, sender.calls)
}

func TestDispatchUnknownComponent(t *testing.T) {
	d, _, _ := newTestDispatcher()
	raw := json.RawMessage(`{"bogus":"scst","op":"write"}`)
	resp, err := d.Dispatch(raw, false)
	require.NoError(t, err)

	var body FailureBody
	require.NoError(t, json.Unmarshal(resp, &body))
	require.Equal(t, "FAILED", body.Status)
}

func TestDispatchAliasResolvesToSameResponse(t *testing.T) {
	d, registry, _ := newTestDispatcher()
	sender := &fakeSender{result: json.RawMessage(`{"returncode":0}`)}

	registry.Register(NewComponent("module", false, map[string]*ObjectOps{
		"scst": NewObjectOps(writeOp(sender)),
	}))
	registry.Register(NewComponent("subsystem", false, map[string]*ObjectOps{
		"scst": NewObjectOps(&Operation{
			Name:           "write",
			Kind:           Alias,
			AliasComponent: "module",
			AliasObject:    "scst",
		}),
	}))

	direct, err := d.Dispatch(json.RawMessage(`{"module":"scst","op":"write","filepath":"/tmp/x"}`), false)
	require.NoError(t, err)

	aliased, err := d.Dispatch(json.RawMessage(`{"subsystem":"scst","op":"write","filepath":"/tmp/x"}`), false)
	require.NoError(t, err)

	var directBody, aliasedBody map[string]any
	require.NoError(t, json.Unmarshal(direct, &directBody))
	require.NoError(t, json.Unmarshal(aliased, &aliasedBody))
	if diff := cmp.Diff(directBody, aliasedBody); diff != "" {
		t.Errorf("alias-resolved response differs from direct response (-direct +aliased):\n%s", diff)
	}
}

func TestDispatchAliasCycleIsRejected(t *testing.T) {
	d, registry, _ := newTestDispatcher()

	registry.Register(NewComponent("a", false, map[string]*ObjectOps{
		"obj": NewObjectOps(&Operation{Name: "op", Kind: Alias, AliasComponent: "b", AliasObject: "obj"}),
	}))
	registry.Register(NewComponent("b", false, map[string]*ObjectOps{
		"obj": NewObjectOps(&Operation{Name: "op", Kind: Alias, AliasComponent: "a", AliasObject: "obj"}),
	}))

	resp, err := d.Dispatch(json.RawMessage(`{"a":"obj","op":"op"}`), false)
	require.NoError(t, err)

	var body FailureBody
	require.NoError(t, json.Unmarshal(resp, &body))
	require.Equal(t, "FAILED", body.Status)
	require.Equal(t, "InvalidArgument", body.Error)
}

func TestDispatchInternalComponentHiddenFromExternalCallers(t *testing.T) {
	d, registry, _ := newTestDispatcher()
	sender := &fakeSender{result: json.RawMessage(`{"returncode":0}`)}

	registry.Register(NewComponent("module", true, map[string]*ObjectOps{
		"scst": NewObjectOps(writeOp(sender)),
	}))

	resp, err := d.Dispatch(json.RawMessage(`{"module":"scst","op":"write","filepath":"/tmp/x"}`), false)
	require.NoError(t, err)
	var body FailureBody
	require.NoError(t, json.Unmarshal(resp, &body))
	require.Equal(t, "FAILED", body.Status)

	resp, err = d.Dispatch(json.RawMessage(`{"module":"scst","op":"write","filepath":"/tmp/x"}`), true)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"OK"}`, string(resp))
}

type fakeRecorder struct {
	calls []string
}

func (r *fakeRecorder) RecordDispatch(componentName, objectName, opName string, returncode int, requestID uuid.UUID, d time.Duration) {
	r.calls = append(r.calls, componentName+"/"+objectName+"/"+opName)
}

func TestDispatchRecordsCompletedDispatchUnderResolvedNames(t *testing.T) {
	d, registry, _ := newTestDispatcher()
	sender := &fakeSender{result: json.RawMessage(`{"returncode":0}`)}
	rec := &fakeRecorder{}
	d.SetRecorder(rec)

	registry.Register(NewComponent("module", false, map[string]*ObjectOps{
		"scst": NewObjectOps(writeOp(sender)),
	}))
	registry.Register(NewComponent("subsystem", false, map[string]*ObjectOps{
		"scst": NewObjectOps(&Operation{
			Name:           "write",
			Kind:           Alias,
			AliasComponent: "module",
			AliasObject:    "scst",
		}),
	}))

	_, err := d.Dispatch(json.RawMessage(`{"subsystem":"scst","op":"write","filepath":"/tmp/x"}`), false)
	require.NoError(t, err)

	require.Equal(t, []string{"module/scst/write"}, rec.calls)
}

func TestSubmitNestedFromRunningStepDoesNotDeadlock(t *testing.T) {
	d, registry, _ := newTestDispatcher()
	sender := &fakeSender{result: json.RawMessage(`{"returncode":0}`)}

	registry.Register(NewComponent("module", false, map[string]*ObjectOps{
		"scst": NewObjectOps(writeOp(sender)),
	}))

	nestedCh := make(chan struct {
		resp json.RawMessage
		err  error
	}, 1)

	op := &Operation{
		Name: "bridge",
		Kind: Plain,
		Template: &RequestTemplate{
			Steps: []Step{
				{
					Kind: pipeline.Basic,
					Action: func(p *pipeline.Pipeline[*Ctx]) int {
						d.SubmitNested(json.RawMessage(`{"module":"scst","op":"write","filepath":"/tmp/x"}`), func(resp json.RawMessage, err error) {
							nestedCh <- struct {
								resp json.RawMessage
								err  error
							}{resp, err}
						})
						p.StepNext(0)
						return 0
					},
				},
				{Kind: pipeline.Terminator},
			},
		},
	}
	registry.Register(NewComponent("bridge", false, map[string]*ObjectOps{
		"scst": NewObjectOps(op),
	}))

	resp, err := d.Dispatch(json.RawMessage(`{"bridge":"scst","op":"bridge"}`), false)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"OK"}`, string(resp))

	select {
	case nested := <-nestedCh:
		require.NoError(t, nested.err)
		require.JSONEq(t, `{"status":"OK"}`, string(nested.resp))
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitNested never completed: nested pipeline deadlocked")
	}
}

func TestDispatchParamsSchemaRejectsMissingRequiredField(t *testing.T) {
	d, registry, _ := newTestDispatcher()

	op := &Operation{
		Name: "create",
		Kind: Plain,
		ParamsSchema: []ParamDescriptor{
			{Name: "name", Type: StringParam},
			{Name: "path", Type: StringParam, Optional: true},
		},
		ReqParamsConstructor: func(opsParams map[string]json.RawMessage) (any, error) {
			return opsParams, nil
		},
		Template: &RequestTemplate{
			Steps: []Step{
				{Kind: pipeline.Basic, Action: func(p *pipeline.Pipeline[*Ctx]) int { p.StepNext(0); return 0 }},
				{Kind: pipeline.Terminator},
			},
		},
	}
	registry.Register(NewComponent("module", false, map[string]*ObjectOps{
		"scst": NewObjectOps(op),
	}))

	resp, err := d.Dispatch(json.RawMessage(`{"module":"scst","op":"create"}`), false)
	require.NoError(t, err)

	var body FailureBody
	require.NoError(t, json.Unmarshal(resp, &body))
	require.Equal(t, "FAILED", body.Status)
	require.Equal(t, "InvalidArgument", body.Error)

	resp, err = d.Dispatch(json.RawMessage(`{"module":"scst","op":"create","name":"dev0"}`), false)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"OK"}`, string(resp))
}

func TestDispatchRollbackOnSecondStepSurfacesFailure(t *testing.T) {
	d, registry, _ := newTestDispatcher()

	var trace []string
	op := &Operation{
		Name: "two-step",
		Kind: Plain,
		Template: &RequestTemplate{
			Steps: []Step{
				{
					Kind: pipeline.Basic,
					Action: func(p *pipeline.Pipeline[*Ctx]) int {
						trace = append(trace, "a")
						p.StepNext(0)
						return 0
					},
					Rollback: func(p *pipeline.Pipeline[*Ctx]) int {
						trace = append(trace, "a-rollback")
						p.StepNext(0)
						return 0
					},
				},
				{
					Kind: pipeline.Basic,
					Action: func(p *pipeline.Pipeline[*Ctx]) int {
						trace = append(trace, "b-fails")
						p.StepNext(-5)
						return 0
					},
				},
				{Kind: pipeline.Terminator},
			},
		},
	}

	registry.Register(NewComponent("module", false, map[string]*ObjectOps{
		"scst": NewObjectOps(op),
	}))

	resp, err := d.Dispatch(json.RawMessage(`{"module":"scst","op":"two-step"}`), false)
	require.NoError(t, err)

	var body FailureBody
	require.NoError(t, json.Unmarshal(resp, &body))
	require.Equal(t, "FAILED", body.Status)
	require.Equal(t, []string{"a", "b-fails", "a-rollback"}, trace)
}
