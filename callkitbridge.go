package main

import (
	"context"

	"callbridge/callkit"

	"github.com/sirupsen/logrus"
)

// CallKitBridge adapts the platform callkit service to the telephony bridge
// contract and translates its events.
type CallKitBridge struct {
	svc    callkit.Service
	events chan BridgeEvent
	log    *logrus.Entry
}

func NewCallKitBridge(svc callkit.Service, log *logrus.Entry) *CallKitBridge {
	b := &CallKitBridge{
		svc:    svc,
		events: make(chan BridgeEvent, 16),
		log:    log,
	}
	go b.pump()
	return b
}

func (b *CallKitBridge) pump() {
	for ev := range b.svc.Events() {
		out := BridgeEvent{NativeID: ev.SessionID}
		switch ev.Action {
		case callkit.ActionStart:
			out.Kind = BridgeStart
		case callkit.ActionAnswer:
			out.Kind = BridgeAnswer
		case callkit.ActionEnd:
			out.Kind = BridgeEnd
		case callkit.ActionPushReceived:
			out.Kind = BridgePushReceived
			out.Payload = payloadFromMetadata(ev.Payload)
		default:
			b.log.Warnf("unknown callkit action %d", ev.Action)
			continue
		}
		b.events <- out
	}
}

func payloadFromMetadata(meta map[string]string) *PushPayload {
	if meta == nil {
		return nil
	}
	return &PushPayload{
		CallID:       meta["call_id"],
		CallerName:   meta["caller_name"],
		CallerNumber: meta["caller_number"],
		Metadata:     meta,
	}
}

func (b *CallKitBridge) Available() bool { return b.svc.Supported() }

func (b *CallKitBridge) StartOutgoingCall(ctx context.Context, nativeID, handle, displayName string) error {
	return b.svc.StartOutgoingCall(nativeID, handle, displayName)
}

func (b *CallKitBridge) ReportIncomingCall(ctx context.Context, nativeID, handle, displayName string) error {
	return b.svc.ReportIncomingCall(nativeID, handle, displayName)
}

func (b *CallKitBridge) AnswerCall(ctx context.Context, nativeID string) error {
	return b.svc.AnswerCall(nativeID)
}

func (b *CallKitBridge) EndCall(ctx context.Context, nativeID string) error {
	return b.svc.EndCall(nativeID)
}

func (b *CallKitBridge) ReportCallConnected(ctx context.Context, nativeID string) error {
	return b.svc.ReportConnected(nativeID)
}

func (b *CallKitBridge) ReportCallEnded(ctx context.Context, nativeID string, reason CallEndReason) error {
	return b.svc.ReportEnded(nativeID, endReasonToCallKit(reason))
}

func (b *CallKitBridge) UpdateCall(ctx context.Context, nativeID, handle, displayName string) error {
	return b.svc.UpdateCall(nativeID, handle, displayName)
}

func (b *CallKitBridge) GetActiveCalls(ctx context.Context) ([]string, error) {
	return b.svc.ActiveCalls(), nil
}

func (b *CallKitBridge) Events() <-chan BridgeEvent { return b.events }

func endReasonToCallKit(reason CallEndReason) callkit.EndReason {
	switch reason {
	case EndReasonFailed:
		return callkit.EndReasonFailed
	case EndReasonUnanswered:
		return callkit.EndReasonUnanswered
	case EndReasonAnsweredElsewhere:
		return callkit.EndReasonAnsweredElsewhere
	default:
		return callkit.EndReasonRemote
	}
}
