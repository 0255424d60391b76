// Package server is the inbound side of the control plane: a Unix domain
// socket speaking JSON-RPC 2.0 with a single method, "control", whose
// params are the component/object/op envelope internal/dispatch decodes.
// The wire framing reuses internal/wire, the same codec lineage the
// teacher's mcp/jsonrpc.go used for its ClientCodec, with the roles
// inverted (decode requests, encode responses).
package server

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dhamidi/storectl/internal/dispatch"
	"github.com/dhamidi/storectl/internal/obslog"
	"github.com/dhamidi/storectl/internal/pipeline"
	"github.com/dhamidi/storectl/internal/wire"
)

// controlMethod is the single JSON-RPC method every inbound request uses,
// matching spec.md §6's envelope contract.
const controlMethod = "control"

// Server listens on a Unix socket and dispatches every "control" call
// through a Dispatcher, driving the shared pipeline engine on its own
// goroutine so no inbound connection goroutine ever touches pipeline
// state directly (spec.md §5's single-reactor-goroutine model).
type Server struct {
	socketPath string
	dispatcher *dispatch.Dispatcher
	engine     *pipeline.Engine[*dispatch.Ctx]
	log        *obslog.Logger

	ln net.Listener

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Server bound to socketPath (removed and recreated on Listen
// if it already exists, matching a Unix socket's usual restart behavior).
func New(socketPath string, d *dispatch.Dispatcher, engine *pipeline.Engine[*dispatch.Ctx], log *obslog.Logger) *Server {
	return &Server{socketPath: socketPath, dispatcher: d, engine: engine, log: log, stop: make(chan struct{})}
}

// Listen binds the Unix socket and starts the reactor drive loop and the
// accept loop. It returns once both are running; call Close to shut down.
func (s *Server) Listen() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("server: remove stale socket %s: %w", s.socketPath, err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.socketPath, err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.driveEngine()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Close stops the accept loop, the reactor drive loop, and closes the
// listener.
func (s *Server) Close() error {
	close(s.stop)
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) driveEngine() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if !s.engine.Tick() {
			time.Sleep(time.Millisecond)
		}
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				s.log.Errorf(err, "server: accept")
				return
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()

	conn := wire.NewConn(c)
	for {
		req, err := conn.ReadRequest()
		if err != nil {
			return
		}
		go s.handleRequest(conn, req)
	}
}

func (s *Server) handleRequest(conn *wire.Conn, req wire.Request) {
	if req.Method != controlMethod {
		_ = conn.WriteResponse(wire.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &wire.ErrorObject{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)},
		})
		return
	}

	result, err := s.dispatcher.Dispatch(req.Params, false)
	if err != nil {
		_ = conn.WriteResponse(wire.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &wire.ErrorObject{Code: -32603, Message: err.Error()},
		})
		return
	}

	_ = conn.WriteResponse(wire.Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(result)})
}
