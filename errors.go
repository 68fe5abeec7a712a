package main

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an outgoing call is requested while
	// the session is in any state other than Connected.
	ErrNotConnected = errors.New("session is not connected")

	// ErrDisposed is returned by any method invoked after the owning
	// component has been torn down.
	ErrDisposed = errors.New("component is disposed")
)

// InvalidStateTransitionError reports an action requested in a call state
// that forbids it. It is returned synchronously, before any side effect.
type InvalidStateTransitionError struct {
	Action string
	From   CallState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s from %s", e.Action, e.From)
}

// ConnectionFailureError wraps a signaling handshake failure. It is recorded
// on the connection-state stream as StateError; callers that also receive it
// directly may treat it as informational.
type ConnectionFailureError struct {
	Err error
}

func (e *ConnectionFailureError) Error() string {
	return fmt.Sprintf("connection failure: %v", e.Err)
}

func (e *ConnectionFailureError) Unwrap() error { return e.Err }

// NativeReportFailureError wraps a failed telephony-UI bridge call. These are
// logged and degrade to best-effort; only the answer path escalates one into
// a terminal native report.
type NativeReportFailureError struct {
	Op  string
	Err error
}

func (e *NativeReportFailureError) Error() string {
	return fmt.Sprintf("native %s report failed: %v", e.Op, e.Err)
}

func (e *NativeReportFailureError) Unwrap() error { return e.Err }

// UnknownCallStateError reports a signaling-SDK state string that has no
// mapping onto the call state machine. Unknown states are dropped with an
// error instead of being coerced into Ringing.
type UnknownCallStateError struct {
	Raw string
}

func (e *UnknownCallStateError) Error() string {
	return fmt.Sprintf("unknown signaling call state %q", e.Raw)
}
