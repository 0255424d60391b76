package dispatch

import (
	"encoding/json"

	"github.com/dhamidi/storectl/internal/rpcpool"
)

// OutboundSender is the subset of *rpcpool.Pool an operation's steps need
// to reach the executor sidecar. Modules depend on this interface, not the
// concrete pool, so their steps can be tested against a fake sender with no
// real Unix socket involved.
type OutboundSender interface {
	Send(method string, params any, onResponse rpcpool.ResponseHandler) error
}

var _ OutboundSender = (*rpcpool.Pool)(nil)
