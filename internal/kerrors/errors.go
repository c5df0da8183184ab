// Package kerrors provides typed error handling for the kernel simulator
// and SFSS server: an ErrorKind enum plus a wrapping error type that
// supports errors.Is/As.
package kerrors

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure.
type ErrorKind int

const (
	// ErrPermission means SFSS denied a request based on the owner/path
	// prefix rule.
	ErrPermission ErrorKind = iota
	// ErrNotFound means path resolution failed.
	ErrNotFound
	// ErrOffsetOOB means a read was attempted past end of file.
	ErrOffsetOOB
	// ErrIO means any other host filesystem failure.
	ErrIO
	// ErrUnknownMessage means an SFP message kind was not recognised.
	ErrUnknownMessage
	// ErrQueueFull means a wait queue overflowed (internal only).
	ErrQueueFull
	// ErrInvalidState means an operation was attempted from a state that
	// does not allow it (e.g. a reply for a PCB that is not BLOCKED).
	ErrInvalidState
	// ErrInvalidConfig means a configuration value was invalid.
	ErrInvalidConfig
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrPermission:
		return "permission denied"
	case ErrNotFound:
		return "not found"
	case ErrOffsetOOB:
		return "offset out of bounds"
	case ErrIO:
		return "I/O error"
	case ErrUnknownMessage:
		return "unknown message"
	case ErrQueueFull:
		return "queue full"
	case ErrInvalidState:
		return "invalid state"
	case ErrInvalidConfig:
		return "invalid config"
	default:
		return "unknown error"
	}
}

// SfpError is a classified failure, carried internally as a tagged
// result and only collapsed to the overloaded wire integer
// (offset/path_len/nrnames) at the serialization boundary.
type SfpError struct {
	// Op is the operation that failed (e.g. "read", "write", "listdir").
	Op string
	// Kind classifies the failure.
	Kind ErrorKind
	// Detail gives additional human-readable context.
	Detail string
	// Err is the underlying error, if any.
	Err error
}

// Error returns the error message.
func (e *SfpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SfpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is a *SfpError of the same Kind.
func (e *SfpError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*SfpError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an SfpError with the given kind and detail.
func New(kind ErrorKind, op, detail string) *SfpError {
	return &SfpError{Op: op, Kind: kind, Detail: detail}
}

// Wrap wraps an underlying error with a kind and operation.
func Wrap(err error, kind ErrorKind, op string) *SfpError {
	return &SfpError{Op: op, Kind: kind, Err: err}
}

// Status collapses e to the SFP wire status code for its Kind.
func (e *SfpError) Status() int32 { return Status(e.Kind) }

// Status maps an ErrorKind to the SFP wire status code carried in the
// overloaded offset/path_len/nrnames field. Unmapped kinds collapse to
// the generic I/O code.
func Status(kind ErrorKind) int32 {
	switch kind {
	case ErrPermission:
		return -1
	case ErrNotFound:
		return -2
	case ErrOffsetOOB:
		return -3
	case ErrUnknownMessage:
		return -100
	default:
		return -4
	}
}

// Re-exported for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
