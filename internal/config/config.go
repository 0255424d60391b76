// Package config implements the single-JSON-file state persistence every
// consumer domain module uses (spec.md §6): read the whole file via
// "readfile" on startup, rewrite it whole via "writefile" with
// O_CREATE|O_TRUNC|O_SYNC after every mutating dispatch.
package config

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"time"

	"github.com/dhamidi/storectl/internal/dispatch"
	"github.com/dhamidi/storectl/internal/executor"
	"github.com/dhamidi/storectl/internal/pipeline"
	"github.com/dhamidi/storectl/internal/stoerr"
)

// OutboundSender is the subset of rpcpool.Pool (or executor.FakeExecutor)
// config needs: the ability to issue an outbound "readfile"/"writefile"
// call and be told the result. Reusing dispatch.OutboundSender rather than
// redeclaring an identical interface keeps both packages pointed at the
// one real method set rpcpool.Pool and executor.FakeExecutor share.
type OutboundSender = dispatch.OutboundSender

// Store is a single JSON-file-backed persistence point for a T-shaped
// domain state tree. The zero value is not usable; construct with New.
type Store[T any] struct {
	sender OutboundSender
	path   string
}

// New binds a Store to path, read and written through sender.
func New[T any](sender OutboundSender, path string) *Store[T] {
	return &Store[T]{sender: sender, path: path}
}

// Load reads the whole file (size 0: the executor stats it first) and
// decodes it as T. Intended for one-shot use at startup, before the
// reactor's poll loop is driving anything else — it blocks the calling
// goroutine until the outbound call completes, polling the sender itself
// if it exposes PollOnce (as *rpcpool.Pool does).
func (s *Store[T]) Load() (T, error) {
	var zero T

	raw, err := blockingSend(s.sender, "readfile", executor.ReadFileRequest{Filepath: s.path, Size: 0})
	if err != nil {
		return zero, err
	}

	var resp executor.ReadFileResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return zero, stoerr.InvalidArgumentf("config: decode readfile response: %v", err)
	}
	if resp.Returncode != 0 {
		return zero, stoerr.NotFoundf("config: readfile %q returned %d", s.path, resp.Returncode)
	}

	buf, err := base64.StdEncoding.DecodeString(resp.Buf)
	if err != nil {
		return zero, stoerr.InvalidArgumentf("config: readfile buf is not base64: %v", err)
	}

	var state T
	if err := json.Unmarshal(buf, &state); err != nil {
		return zero, stoerr.InvalidArgumentf("config: decode state: %v", err)
	}
	return state, nil
}

// Save serializes state and rewrites the file whole via
// O_CREATE|O_TRUNC|O_SYNC, the same blocking pattern as Load. Mutating
// dispatch steps that need to rewrite the file without blocking the
// reactor goroutine should use SaveStep instead.
func (s *Store[T]) Save(state T) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return stoerr.OutOfMemoryf("config: marshal state: %v", err)
	}

	req := executor.WriteFileRequest{
		Filepath: s.path,
		Oflag:    os.O_CREATE | os.O_TRUNC | os.O_WRONLY | os.O_SYNC,
		Buf:      base64.StdEncoding.EncodeToString(raw),
	}

	respRaw, err := blockingSend(s.sender, "writefile", req)
	if err != nil {
		return err
	}

	var resp executor.WriteFileResponse
	if err := json.Unmarshal(respRaw, &resp); err != nil {
		return stoerr.InvalidArgumentf("config: decode writefile response: %v", err)
	}
	if resp.Returncode != 0 {
		return stoerr.ExecutorErrorf("config: writefile %q returned %d", s.path, resp.Returncode)
	}
	return nil
}

// SaveStep builds a pipeline step that rewrites the config file the
// non-blocking way: it calls stateFn when the step actually runs (not when
// the template is built, so it always persists the state as of that
// request) and issues the outbound writefile call, completing the step
// from the response callback. This is the shape every mutating operation
// in modules/scst composes as its final step.
func SaveStep[T any](s *Store[T], stateFn func() T) dispatch.Step {
	return dispatch.Step{
		Kind: pipeline.Basic,
		Action: func(p *pipeline.Pipeline[*dispatch.Ctx]) int {
			raw, err := json.Marshal(stateFn())
			if err != nil {
				p.StepNext(-12)
				return 0
			}
			req := executor.WriteFileRequest{
				Filepath: s.path,
				Oflag:    os.O_CREATE | os.O_TRUNC | os.O_WRONLY | os.O_SYNC,
				Buf:      base64.StdEncoding.EncodeToString(raw),
			}
			err = s.sender.Send("writefile", req, func(result json.RawMessage, sendErr error) {
				if sendErr != nil {
					p.StepNext(-14)
					return
				}
				var resp executor.WriteFileResponse
				if decErr := json.Unmarshal(result, &resp); decErr != nil || resp.Returncode != 0 {
					p.StepNext(-14)
					return
				}
				p.StepNext(0)
			})
			if err != nil {
				p.StepNext(-14)
			}
			return 0
		},
	}
}

// poller is implemented by *rpcpool.Pool; Store.Load/Save call it in a
// tight loop with a short sleep so startup can block on the outbound round
// trip even before the reactor's own drive loop exists yet.
type poller interface {
	PollOnce() int
}

func blockingSend(sender OutboundSender, method string, params any) (json.RawMessage, error) {
	done := make(chan struct{})
	var result json.RawMessage
	var callErr error

	if err := sender.Send(method, params, func(r json.RawMessage, err error) {
		result = r
		callErr = err
		close(done)
	}); err != nil {
		return nil, err
	}

	p, hasPoller := sender.(poller)
	for {
		select {
		case <-done:
			return result, callErr
		default:
		}
		if hasPoller {
			if p.PollOnce() == 0 {
				time.Sleep(time.Millisecond)
			}
		} else {
			<-done
			return result, callErr
		}
	}
}
