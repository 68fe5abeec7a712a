package callkit

// Action describes a user action on the system call screen.
type Action int

const (
	ActionStart Action = iota
	ActionAnswer
	ActionEnd
	ActionPushReceived
)

// Event is one native call-screen action. SessionID identifies the native
// call session; Payload carries push metadata for ActionPushReceived.
type Event struct {
	Action    Action
	SessionID string
	Payload   map[string]string
}

// EndReason mirrors the platform's call-ended reasons.
type EndReason int

const (
	EndReasonRemote EndReason = iota
	EndReasonFailed
	EndReasonUnanswered
	EndReasonAnsweredElsewhere
)

// Service represents the platform telephony-UI provider.
type Service interface {
	// Supported reports whether the platform provides a system call UI.
	Supported() bool

	StartOutgoingCall(sessionID, handle, displayName string) error
	ReportIncomingCall(sessionID, handle, displayName string) error
	AnswerCall(sessionID string) error
	EndCall(sessionID string) error
	ReportConnected(sessionID string) error
	ReportEnded(sessionID string, reason EndReason) error
	UpdateCall(sessionID, handle, displayName string) error
	ActiveCalls() []string

	Events() <-chan Event
	Close()
}

// NewService creates a new telephony-UI service instance.
func NewService() Service {
	return newService()
}
