package main

import "context"

// CallEndReason tells the native UI why a call left the screen.
type CallEndReason int

const (
	EndReasonRemoteEnded CallEndReason = iota
	EndReasonFailed
	EndReasonUnanswered
	EndReasonAnsweredElsewhere
)

func (r CallEndReason) String() string {
	switch r {
	case EndReasonRemoteEnded:
		return "remote-ended"
	case EndReasonFailed:
		return "failed"
	case EndReasonUnanswered:
		return "unanswered"
	case EndReasonAnsweredElsewhere:
		return "answered-elsewhere"
	default:
		return "unknown"
	}
}

// BridgeEventKind enumerates events the native telephony-UI service emits.
type BridgeEventKind int

const (
	// BridgeStart confirms an outgoing native session started. Informational
	// only; the signaling call is already in flight.
	BridgeStart BridgeEventKind = iota
	// BridgeAnswer reports the user answered on the system call screen.
	BridgeAnswer
	// BridgeEnd reports the user ended or declined on the system call screen.
	BridgeEnd
	// BridgePushReceived reports a push-announced call the native layer
	// already presented before any signaling connection existed.
	BridgePushReceived
)

// BridgeEvent carries one native telephony-UI action. Platforms can deliver
// the same action more than once; consumers must deduplicate.
type BridgeEvent struct {
	Kind     BridgeEventKind
	NativeID string
	Payload  *PushPayload
}

// TelephonyBridge is the contract of the native telephony-UI service. All
// methods are best-effort from the core's point of view: a failure is wrapped
// in NativeReportFailureError, logged, and never aborts the underlying
// signaling action except on the answer path.
type TelephonyBridge interface {
	// Available reports whether a native telephony UI exists on this
	// platform. When false the core drives the signaling SDK directly.
	Available() bool

	StartOutgoingCall(ctx context.Context, nativeID, handle, displayName string) error
	ReportIncomingCall(ctx context.Context, nativeID, handle, displayName string) error
	AnswerCall(ctx context.Context, nativeID string) error
	EndCall(ctx context.Context, nativeID string) error
	ReportCallConnected(ctx context.Context, nativeID string) error
	ReportCallEnded(ctx context.Context, nativeID string, reason CallEndReason) error
	UpdateCall(ctx context.Context, nativeID, handle, displayName string) error
	GetActiveCalls(ctx context.Context) ([]string, error)

	// Events delivers native user actions in arrival order.
	Events() <-chan BridgeEvent
}
