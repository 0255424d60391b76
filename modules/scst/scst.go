// Package scst is the illustrative consumer of the dispatch contract:
// device create, snapshot, and idempotent config restore. It carries no
// unique systems design beyond what internal/pipeline and internal/dispatch
// already prescribe; its job is to exercise that contract end to end,
// including the config persistence round trip.
package scst

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/dhamidi/storectl/internal/config"
	"github.com/dhamidi/storectl/internal/dispatch"
	"github.com/dhamidi/storectl/internal/pipeline"
	"github.com/dhamidi/storectl/internal/stoerr"
)

// Device is one entry of the module's in-memory (and on-disk) state.
type Device struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// State is the whole serialized config file body this module owns.
type State struct {
	Devices []Device `json:"devices"`
}

// Module owns the in-memory device registry and the config.Store that
// persists it. Every mutating operation runs on the single reactor
// goroutine (spec.md §5), so devices needs no locking for that path; mu
// guards against the one exception, a concurrent SubmitNested call from a
// different goroutine.
type Module struct {
	mu      sync.Mutex
	devices map[string]Device
	store   *config.Store[State]
}

// New builds a Module backed by store. Call LoadFromDisk once at startup
// before serving any requests.
func New(store *config.Store[State]) *Module {
	return &Module{devices: make(map[string]Device), store: store}
}

// LoadFromDisk populates the in-memory registry from the config file,
// tolerating a missing file (first run) by starting empty.
func (m *Module) LoadFromDisk() error {
	state, err := m.store.Load()
	if err != nil {
		if se, ok := stoerr.As(err); ok && se.Kind == stoerr.NotFound {
			return nil
		}
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range state.Devices {
		m.devices[d.Name] = d
	}
	return nil
}

func (m *Module) snapshotState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return State{Devices: devices}
}

// Component builds the dispatch.Component this module registers under the
// "subsystem" namespace (spec.md §6's example envelope, "subsystem":"scst").
func (m *Module) Component() dispatch.Component {
	return dispatch.NewComponent("subsystem", false, map[string]*dispatch.ObjectOps{
		"scst": dispatch.NewObjectOps(m.createOp(), m.snapshotOp(), m.restoreFromConfigOp()),
	})
}

type createParams struct {
	Name string
	Path string
}

// decodeCreateParams re-decodes into createParams; the presence of name
// and the type of both fields (path only when present, being optional) are
// already enforced by createOp's ParamsSchema before this ever runs,
// leaving only the business-rule check schema validation doesn't express
// (non-empty name).
func decodeCreateParams(opsParams map[string]json.RawMessage) (any, error) {
	var p createParams
	if raw, ok := opsParams["name"]; ok {
		_ = json.Unmarshal(raw, &p.Name)
	}
	if p.Name == "" {
		return nil, stoerr.InvalidArgumentf("scst: create requires a non-empty name")
	}
	if raw, ok := opsParams["path"]; ok {
		_ = json.Unmarshal(raw, &p.Path)
	}
	return p, nil
}

// createOp registers a device by name, failing AlreadyExists on a
// duplicate, then persists the whole registry.
func (m *Module) createOp() *dispatch.Operation {
	return &dispatch.Operation{
		Name: "create",
		Kind: dispatch.Plain,
		ParamsSchema: []dispatch.ParamDescriptor{
			{Name: "name", Description: "device name", Type: dispatch.StringParam},
			{Name: "path", Description: "backing path", Type: dispatch.StringParam, Optional: true},
		},
		ReqParamsConstructor: decodeCreateParams,
		Template: &dispatch.RequestTemplate{
			Steps: []dispatch.Step{
				m.insertDeviceStep(false),
				config.SaveStep(m.store, m.snapshotState),
				{Kind: pipeline.Terminator},
			},
		},
	}
}

// insertDeviceStep is the shared precheck+insert action used by both
// create and restore-from-config; allowExisting controls whether a
// duplicate name is a hard failure or a no-op (the idempotent-reload
// downgrade spec.md §7 names).
func (m *Module) insertDeviceStep(allowExisting bool) dispatch.Step {
	return dispatch.Step{
		Kind: pipeline.Basic,
		Action: func(p *pipeline.Pipeline[*dispatch.Ctx]) int {
			params := p.Ctx.Params.(createParams)

			m.mu.Lock()
			_, exists := m.devices[params.Name]
			if !exists {
				m.devices[params.Name] = Device{Name: params.Name, Path: params.Path}
			}
			m.mu.Unlock()

			if exists && !allowExisting {
				p.StepNext(-17) // EEXIST, recovered as AlreadyExists by stoerr.FromErrno
				return 0
			}
			p.StepNext(0)
			return 0
		},
	}
}

type snapshotResult struct {
	Devices []Device `json:"devices"`
}

// snapshotOp renders a differently-shaped success body than the default
// {"status":"OK"}, via Ctx.RenderOverride (spec.md §11's supplemented
// response-renderer-override feature).
func (m *Module) snapshotOp() *dispatch.Operation {
	return &dispatch.Operation{
		Name: "snapshot",
		Kind: dispatch.Plain,
		Template: &dispatch.RequestTemplate{
			Steps: []dispatch.Step{
				{
					Kind: pipeline.Basic,
					Action: func(p *pipeline.Pipeline[*dispatch.Ctx]) int {
						state := m.snapshotState()
						p.Ctx.RenderOverride = func(ctx *dispatch.Ctx) (json.RawMessage, error) {
							return json.Marshal(snapshotResult{Devices: state.Devices})
						}
						p.StepNext(0)
						return 0
					},
				},
				{Kind: pipeline.Terminator},
			},
		},
	}
}

type restoreParams struct {
	Devices []Device
}

func decodeRestoreParams(opsParams map[string]json.RawMessage) (any, error) {
	var p restoreParams
	if raw, ok := opsParams["devices"]; ok {
		if err := json.Unmarshal(raw, &p.Devices); err != nil {
			return nil, stoerr.InvalidArgumentf("scst: restore.devices: %v", err)
		}
	}
	return p, nil
}

// restoreFromConfigOp inserts every device listed in the request's
// "devices" param, treating a name that already exists as success
// (spec.md §7's idempotent-reload note), then persists the whole registry.
// Its first step is a Constructor so it can fan out one insert per device
// without a static step per device.
func (m *Module) restoreFromConfigOp() *dispatch.Operation {
	return &dispatch.Operation{
		Name:                 "restore-from-config",
		Kind:                 dispatch.Plain,
		ReqParamsConstructor: decodeRestoreParams,
		Template: &dispatch.RequestTemplate{
			Steps: []dispatch.Step{
				{
					Kind: pipeline.Constructor,
					Action: func(p *pipeline.Pipeline[*dispatch.Ctx]) int {
						params := p.Ctx.Params.(restoreParams)
						for _, d := range params.Devices {
							device := d
							p.InsertStep(dispatch.Step{
								Kind: pipeline.Basic,
								Action: func(p *pipeline.Pipeline[*dispatch.Ctx]) int {
									m.mu.Lock()
									if _, exists := m.devices[device.Name]; !exists {
										m.devices[device.Name] = device
									}
									m.mu.Unlock()
									p.StepNext(0) // AlreadyExists is always downgraded here
									return 0
								},
							})
						}
						return pipeline.Finished
					},
				},
				config.SaveStep(m.store, m.snapshotState),
				{Kind: pipeline.Terminator},
			},
		},
	}
}
