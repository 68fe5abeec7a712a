package main

import "context"

// PushPayload carries the call metadata delivered through the push path. It
// may arrive before any signaling connection exists and is applied to a
// freshly built client before its handshake, because the handshake needs the
// call metadata to be available at connect time.
type PushPayload struct {
	CallID       string
	CallerName   string
	CallerNumber string
	Metadata     map[string]string
}

// InviteInfo is the decoded invite that accompanies an incoming or
// reattached signaling call.
type InviteInfo struct {
	CallID         string
	CallerName     string
	CallerNumber   string
	Headers        map[string]string
	PushOriginated bool
}

// CallOptions parameterizes an outgoing signaling call.
type CallOptions struct {
	Destination  string
	CallerName   string
	CallerNumber string
	Headers      map[string]string
}

// SignalingConfig selects the credential material for one client instance.
// Either Username/Password or Token is set, never both.
type SignalingConfig struct {
	Username    string
	Password    string
	Token       string
	Domain      string
	DeviceToken string
}

// SignalingEventKind enumerates events emitted by a SignalingClient.
type SignalingEventKind int

const (
	// EventReady signals a completed handshake.
	EventReady SignalingEventKind = iota
	// EventClientError signals a failed handshake or a fatal client error.
	EventClientError
	// EventIncomingCall signals a new incoming call.
	EventIncomingCall
	// EventReattachedCall signals an in-progress call being re-associated
	// with this process after a network interruption.
	EventReattachedCall
	// EventCallState carries a raw per-call state change.
	EventCallState
)

// SignalingEvent is the single event type a SignalingClient emits. Which
// fields are set depends on Kind: Call/Invite for incoming and reattached
// calls, CallID/State for state changes, Err for client errors.
type SignalingEvent struct {
	Kind   SignalingEventKind
	Call   SignalingCall
	Invite *InviteInfo
	CallID string
	State  string
	Err    error
}

// SignalingClient is the contract the signaling SDK collaborator must
// satisfy. Exactly one client exists at a time and it is owned exclusively
// by the SessionManager.
type SignalingClient interface {
	// Connect performs the handshake. ApplyPushPayload must have been
	// called first when push-derived call metadata exists.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// NewCall originates an outgoing call.
	NewCall(ctx context.Context, opts CallOptions) (SignalingCall, error)

	// ApplyPushPayload hands the client push-derived call metadata. Valid
	// before and after Connect.
	ApplyPushPayload(p PushPayload)

	EnablePush(ctx context.Context, deviceToken string) error
	DisablePush(ctx context.Context) error

	// Events delivers all client and per-call events in arrival order.
	Events() <-chan SignalingEvent
}

// SignalingCall is one call handle inside the signaling SDK.
type SignalingCall interface {
	ID() string
	Answer(ctx context.Context, headers map[string]string) error
	Hangup(ctx context.Context, headers map[string]string) error
	Hold(ctx context.Context) error
	Unhold(ctx context.Context) error
	Mute(ctx context.Context) error
	Unmute(ctx context.Context) error
	SendDTMF(ctx context.Context, digits string) error

	CallerName() string
	CallerNumber() string

	// PushOriginated reports whether the invite behind this handle was
	// announced through the push path.
	PushOriginated() bool
}

// callStateFromSignaling maps a raw SDK state string onto the call state
// machine. The mapping is exhaustive; an unrecognized state yields an
// UnknownCallStateError and the event is dropped by the caller.
func callStateFromSignaling(raw string) (CallState, error) {
	switch raw {
	case "calling", "incoming", "ringing", "early":
		return CallRinging, nil
	case "connecting", "answering":
		return CallConnecting, nil
	case "confirmed", "active":
		return CallActive, nil
	case "held":
		return CallHeld, nil
	case "disconnected", "ended":
		return CallEnded, nil
	case "failed":
		return CallFailed, nil
	default:
		return CallRinging, &UnknownCallStateError{Raw: raw}
	}
}
