package server

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhamidi/storectl/internal/dispatch"
	"github.com/dhamidi/storectl/internal/obslog"
	"github.com/dhamidi/storectl/internal/pipeline"
	"github.com/dhamidi/storectl/internal/wire"
)

func startTestServer(t *testing.T) (string, *dispatch.Registry) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "storectl.sock")

	engine := pipeline.NewEngine[*dispatch.Ctx]()
	registry := dispatch.NewRegistry()
	d := dispatch.New(registry, engine)
	log := obslog.New(false)

	srv := New(sock, d, engine, log)
	require.NoError(t, srv.Listen())
	t.Cleanup(func() { srv.Close() })

	return sock, registry
}

func TestControlMethodRoundTrip(t *testing.T) {
	sock, registry := startTestServer(t)

	registry.Register(dispatch.NewComponent("module", false, map[string]*dispatch.ObjectOps{
		"scst": dispatch.NewObjectOps(&dispatch.Operation{
			Name: "ping",
			Kind: dispatch.Plain,
			Template: &dispatch.RequestTemplate{
				Steps: []dispatch.Step{
					{Kind: pipeline.Basic, Action: func(p *pipeline.Pipeline[*dispatch.Ctx]) int { p.StepNext(0); return 0 }},
					{Kind: pipeline.Terminator},
				},
			},
		}),
	}))

	conn, err := wire.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	params, _ := json.Marshal(map[string]any{"module": "scst", "op": "ping"})
	require.NoError(t, conn.WriteRequest(wire.Request{JSONRPC: "2.0", Method: "control", Params: params, ID: 1}))

	respCh := make(chan wire.Response, 1)
	go func() {
		resp, err := conn.ReadResponse()
		require.NoError(t, err)
		respCh <- resp
	}()

	select {
	case resp := <-respCh:
		require.Nil(t, resp.Error)
		require.JSONEq(t, `{"status":"OK"}`, string(resp.Result))
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
}

func TestUnknownMethodReturnsJSONRPCError(t *testing.T) {
	sock, _ := startTestServer(t)

	conn, err := wire.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteRequest(wire.Request{JSONRPC: "2.0", Method: "bogus", ID: 1}))

	respCh := make(chan wire.Response, 1)
	go func() {
		resp, err := conn.ReadResponse()
		require.NoError(t, err)
		respCh <- resp
	}()

	select {
	case resp := <-respCh:
		require.NotNil(t, resp.Error)
		require.Equal(t, -32601, resp.Error.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
}
