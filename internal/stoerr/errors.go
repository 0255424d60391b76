// Package stoerr names the eight error kinds the control plane's dispatch
// and pipeline layers distinguish between, plus whether each one triggers a
// pipeline rollback when it surfaces mid-request.
package stoerr

import "fmt"

// Kind classifies a control-plane error for dispatch/rollback decisions. It
// is not a full error type by itself; wrap it in StoError.
type Kind int

const (
	// InvalidArgument covers envelope/params-schema violations, unknown
	// operations, and alias cycles. Surfaced to the caller; never triggers
	// rollback (it occurs before a pipeline exists).
	InvalidArgument Kind = iota
	// NotInitialized means the inbound request arrived before components
	// finished registering. Surfaced as EAGAIN.
	NotInitialized
	// OutOfMemory covers any allocation failure during dispatch, decode, or
	// pipeline setup.
	OutOfMemory
	// TransportError means the outbound connection pool is unusable or a
	// send failed at the transport layer. Triggers rollback.
	TransportError
	// ExecutorError means the executor sidecar responded with a non-zero
	// returncode or a JSON-RPC error object. Triggers rollback.
	ExecutorError
	// StepFailure is any pipeline action's non-zero return not otherwise
	// categorized. Triggers rollback.
	StepFailure
	// AlreadyExists means an operation's precheck step found a duplicate
	// object. Downgraded to success during idempotent config restore.
	AlreadyExists
	// NotFound means an operation's precheck step found no such object.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotInitialized:
		return "NotInitialized"
	case OutOfMemory:
		return "OutOfMemory"
	case TransportError:
		return "TransportError"
	case ExecutorError:
		return "ExecutorError"
	case StepFailure:
		return "StepFailure"
	case AlreadyExists:
		return "AlreadyExists"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// TriggersRollback reports whether an error of this kind, surfacing from
// within a pipeline action, should switch the pipeline to rollback mode.
func (k Kind) TriggersRollback() bool {
	switch k {
	case TransportError, ExecutorError, StepFailure:
		return true
	default:
		return false
	}
}

// StoError is the concrete error type carrying a Kind, the POSIX-style
// negative errno this surfaces as on the wire, a human message, and an
// optional wrapped cause.
type StoError struct {
	Kind  Kind
	Errno int
	Msg   string
	Cause error
}

func (e *StoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *StoError) Unwrap() error {
	return e.Cause
}

func newf(kind Kind, errno int, format string, args ...any) *StoError {
	return &StoError{Kind: kind, Errno: errno, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf builds an InvalidArgument error, errno -EINVAL (-22).
func InvalidArgumentf(format string, args ...any) *StoError {
	return newf(InvalidArgument, -22, format, args...)
}

// NotInitializedf builds a NotInitialized error, errno -EAGAIN (-11).
func NotInitializedf(format string, args ...any) *StoError {
	return newf(NotInitialized, -11, format, args...)
}

// OutOfMemoryf builds an OutOfMemory error, errno -ENOMEM (-12).
func OutOfMemoryf(format string, args ...any) *StoError {
	return newf(OutOfMemory, -12, format, args...)
}

// TransportErrorf builds a TransportError, errno -EFAULT (-14).
func TransportErrorf(format string, args ...any) *StoError {
	return newf(TransportError, -14, format, args...)
}

// ExecutorErrorf builds an ExecutorError, errno -EFAULT (-14), matching
// spec.md §4.C: a response carrying an error object is reported generically.
func ExecutorErrorf(format string, args ...any) *StoError {
	return newf(ExecutorError, -14, format, args...)
}

// StepFailuref builds a StepFailure carrying whatever errno the action
// itself returned.
func StepFailuref(errno int, format string, args ...any) *StoError {
	return newf(StepFailure, errno, format, args...)
}

// AlreadyExistsf builds an AlreadyExists error, errno -EEXIST (-17).
func AlreadyExistsf(format string, args ...any) *StoError {
	return newf(AlreadyExists, -17, format, args...)
}

// NotFoundf builds a NotFound error, errno -ENOENT (-2).
func NotFoundf(format string, args ...any) *StoError {
	return newf(NotFound, -2, format, args...)
}

// KindFromErrno recovers the most specific Kind a pipeline step's raw
// returncode can mean, for the handful of errnos that are unambiguous
// (AlreadyExists, NotFound, and the three dispatch-time kinds). Any other
// value is reported as the catch-all StepFailure, since a Basic action's
// int return carries no kind tag of its own — only spec.md's reserved
// errno values round-trip back to a specific Kind.
func KindFromErrno(errno int) Kind {
	switch errno {
	case -17:
		return AlreadyExists
	case -2:
		return NotFound
	case -22:
		return InvalidArgument
	case -11:
		return NotInitialized
	case -12:
		return OutOfMemory
	default:
		return StepFailure
	}
}

// FromErrno builds a StoError whose Kind is recovered via KindFromErrno,
// used at the dispatch boundary to turn a pipeline step's raw int
// returncode back into a classified error.
func FromErrno(errno int, format string, args ...any) *StoError {
	return newf(KindFromErrno(errno), errno, format, args...)
}

// As reports whether err is a *StoError and returns it.
func As(err error) (*StoError, bool) {
	se, ok := err.(*StoError)
	if ok {
		return se, true
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return As(u.Unwrap())
	}
	return nil, false
}
