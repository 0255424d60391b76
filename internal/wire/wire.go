// Package wire defines the JSON-RPC 2.0 message shapes shared by the
// outbound client pool (internal/rpcpool, talking to the executor sidecar)
// and the inbound server (internal/server, talking to control-plane
// clients). It is adapted from the teacher's net/rpc-based ClientCodec
// (mcp/jsonrpc.go): same wire framing, but built directly over
// json.Encoder/Decoder instead of net/rpc's synchronous Client.Call, since
// both the pool and the server need non-blocking, many-in-flight semantics
// that a blocking RPC client can't express.
package wire

import "encoding/json"

// Request is one JSON-RPC 2.0 request object. ID is int32 to match
// spec.md's outbound id discipline (monotonic counter wrapping
// math.MaxInt32 → 0), unlike the teacher's uint64 sequence numbers.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      int32           `json:"id"`
}

// Response is one JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      int32           `json:"id"`
}

// ErrorObject is a JSON-RPC 2.0 error object.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return e.Message
}

// EncodeRequest marshals method/params/id into a Request document.
func EncodeRequest(method string, params any, id int32) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req := Request{JSONRPC: "2.0", Method: method, Params: raw, ID: id}
	return json.Marshal(req)
}
