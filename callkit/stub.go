//go:build !callkit

package callkit

// service is a stub implementation used when the callkit build tag is
// disabled. It reports the platform UI as unsupported; the coordinator then
// drives the signaling SDK directly.
type service struct {
	events chan Event
}

func newService() Service {
	return &service{events: make(chan Event)}
}

func (s *service) Supported() bool { return false }

func (s *service) StartOutgoingCall(sessionID, handle, displayName string) error  { return nil }
func (s *service) ReportIncomingCall(sessionID, handle, displayName string) error { return nil }
func (s *service) AnswerCall(sessionID string) error                              { return nil }
func (s *service) EndCall(sessionID string) error                                 { return nil }
func (s *service) ReportConnected(sessionID string) error                         { return nil }
func (s *service) ReportEnded(sessionID string, reason EndReason) error           { return nil }
func (s *service) UpdateCall(sessionID, handle, displayName string) error         { return nil }
func (s *service) ActiveCalls() []string                                          { return nil }

func (s *service) Events() <-chan Event { return s.events }

func (s *service) Close() {}
