// Package rpcpool implements the outbound JSON-RPC client pool every
// pipeline step uses to reach the executor sidecar: a fixed set of
// persistent connections, integer request-id correlation, a FIFO overflow
// queue for requests beyond the connection count, and a poll loop that
// demultiplexes responses back to their callers. Algorithm unchanged from
// control/src/sto_client.c and spec.md §4.C; the id→pending-request
// correlation here is a real hash map (internal/stohash) where the C source
// left a TODO and used a flat linked-list scan instead.
package rpcpool

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/dhamidi/storectl/internal/stoerr"
	"github.com/dhamidi/storectl/internal/stohash"
	"github.com/dhamidi/storectl/internal/wire"
)

// MaxConns is the fixed number of persistent connections the pool maintains
// to the executor sidecar.
const MaxConns = 64

// ResponseHandler is invoked at most once per sent request, either with the
// decoded result or with a non-nil error (transport failure or a JSON-RPC
// error object in the response). It is not invoked for a request whose Send
// returned an error, nor for one still outstanding when the pool is closed.
type ResponseHandler func(result json.RawMessage, err error)

// pendingRequest is one in-flight or queued outbound call.
type pendingRequest struct {
	id         int32
	method     string
	params     json.RawMessage
	onResponse ResponseHandler
}

type connSlot struct {
	idx  int
	conn *wire.Conn
}

type polledResponse struct {
	slot *connSlot
	resp wire.Response
	err  error
}

// Pool owns the fixed connection set, the id correlation map, and the
// overflow queue. The zero value is not usable; construct with Connect.
type Pool struct {
	mu       sync.Mutex
	free     []*connSlot
	busy     map[*connSlot]*pendingRequest
	seq      int32
	pending  *stohash.ShashMap[*pendingRequest]
	overflow []*pendingRequest

	responses chan polledResponse
	closed    bool
}

// Connect dials MaxConns persistent connections to addr (a Unix domain
// socket path in practice) eagerly, matching spec.md §4.C's connect
// contract.
func Connect(network, addr string) (*Pool, error) {
	p := &Pool{
		busy:      make(map[*connSlot]*pendingRequest),
		pending:   stohash.NewShashMap[*pendingRequest](MaxConns * 2),
		responses: make(chan polledResponse, MaxConns),
	}

	for i := 0; i < MaxConns; i++ {
		c, err := wire.Dial(network, addr)
		if err != nil {
			p.closeConnections()
			return nil, fmt.Errorf("rpcpool: connect %s: %w", addr, err)
		}
		slot := &connSlot{idx: i, conn: c}
		p.free = append(p.free, slot)
		go p.readLoop(slot)
	}

	return p, nil
}

func (p *Pool) readLoop(slot *connSlot) {
	for {
		resp, err := slot.conn.ReadResponse()
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		p.responses <- polledResponse{slot: slot, resp: resp, err: err}
		if err != nil {
			return
		}
	}
}

func idKey(id int32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return string(b[:])
}

// Send allocates a pendingRequest with the next sequence id (wrapping
// math.MaxInt32 → 0), binds it to a free connection if one exists or
// enqueues it in the overflow queue otherwise, and transmits it. Send
// returns once the request has been queued or transmitted, not once it
// completes; completion is reported later via onResponse.
func (p *Pool) Send(method string, params any, onResponse ResponseHandler) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return stoerr.OutOfMemoryf("rpcpool: marshal params: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return stoerr.TransportErrorf("rpcpool: send on closed pool")
	}

	id := p.nextID()
	req := &pendingRequest{id: id, method: method, params: raw, onResponse: onResponse}
	p.pending.Add(idKey(id), req)

	if len(p.free) > 0 {
		slot := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.busy[slot] = req
		return p.transmit(slot, req)
	}

	p.overflow = append(p.overflow, req)
	return nil
}

func (p *Pool) nextID() int32 {
	for {
		next := p.seq
		if p.seq == math.MaxInt32 {
			p.seq = 0
		} else {
			p.seq++
		}
		if _, live := p.pending.Lookup(idKey(next)); !live {
			return next
		}
		// The freshly-wrapped id collided with one still in flight
		// (spec.md §9's flagged risk); keep advancing rather than
		// silently reusing a live id.
	}
}

func (p *Pool) transmit(slot *connSlot, req *pendingRequest) error {
	wireReq := wire.Request{JSONRPC: "2.0", Method: req.method, Params: req.params, ID: req.id}
	if err := slot.conn.WriteRequest(wireReq); err != nil {
		return stoerr.TransportErrorf("rpcpool: write request: %v", err)
	}
	return nil
}

// PollOnce drains every response currently buffered (non-blocking) and
// dispatches each to its handler, matching spec.md §4.C's poll algorithm.
// It returns the number of responses processed.
func (p *Pool) PollOnce() int {
	n := 0
	for {
		select {
		case pr := <-p.responses:
			p.handleResponse(pr)
			n++
		default:
			return n
		}
	}
}

func (p *Pool) handleResponse(pr polledResponse) {
	p.mu.Lock()

	if pr.err != nil {
		// Transport-level read failure: fail whatever this connection was
		// carrying and drop the slot; it is not returned to free.
		req := p.busy[pr.slot]
		delete(p.busy, pr.slot)
		if req != nil {
			p.pending.Remove(idKey(req.id))
		}
		p.mu.Unlock()
		if req != nil {
			req.onResponse(nil, stoerr.TransportErrorf("rpcpool: read response: %v", pr.err))
		}
		return
	}

	req, found := p.pending.Lookup(idKey(pr.resp.ID))
	if found {
		p.pending.Remove(idKey(pr.resp.ID))
	}
	delete(p.busy, pr.slot)

	var next *pendingRequest
	if len(p.overflow) > 0 {
		next = p.overflow[0]
		p.overflow = p.overflow[1:]
		p.busy[pr.slot] = next
	} else {
		p.free = append(p.free, pr.slot)
	}
	p.mu.Unlock()

	if next != nil {
		if err := p.transmit(pr.slot, next); err != nil {
			next.onResponse(nil, err)
		}
	}

	if !found {
		return
	}
	if pr.resp.Error != nil {
		req.onResponse(nil, stoerr.ExecutorErrorf("rpcpool: executor error: %s", pr.resp.Error.Message))
		return
	}
	req.onResponse(pr.resp.Result, nil)
}

// Close stops accepting new work, closes every connection, and abandons any
// outstanding correlations (spec.md §4.C: "on close, outstanding
// correlations are abandoned").
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.closeConnections()
}

func (p *Pool) closeConnections() {
	p.mu.Lock()
	slots := append([]*connSlot{}, p.free...)
	for slot := range p.busy {
		slots = append(slots, slot)
	}
	p.mu.Unlock()
	for _, slot := range slots {
		_ = slot.conn.Close()
	}
}
