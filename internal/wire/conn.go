package wire

import (
	"encoding/json"
	"net"
	"sync"
)

// Conn is a single JSON-RPC 2.0 transport over a net.Conn (a Unix domain
// socket in practice). Reads and writes are serialized independently so one
// goroutine can read responses while another writes requests.
type Conn struct {
	netConn net.Conn
	dec     *json.Decoder

	writeMu sync.Mutex
	enc     *json.Encoder
}

// NewConn wraps an already-established connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		netConn: c,
		dec:     json.NewDecoder(c),
		enc:     json.NewEncoder(c),
	}
}

// Dial connects to address over the given network ("unix" in practice).
func Dial(network, address string) (*Conn, error) {
	c, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

// WriteRequest writes one request document. Safe for concurrent use with
// ReadResponse, not with another concurrent WriteRequest/WriteResponse.
func (c *Conn) WriteRequest(req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(req)
}

// WriteResponse writes one response document.
func (c *Conn) WriteResponse(resp Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(resp)
}

// ReadResponse blocks until the next response document arrives.
func (c *Conn) ReadResponse() (Response, error) {
	var resp Response
	err := c.dec.Decode(&resp)
	return resp, err
}

// ReadRequest blocks until the next request document arrives.
func (c *Conn) ReadRequest() (Request, error) {
	var req Request
	err := c.dec.Decode(&req)
	return req, err
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.netConn.Close()
}
