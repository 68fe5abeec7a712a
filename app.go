package main

import (
	"context"

	"github.com/sirupsen/logrus"
)

// App multiplexes the signaling client, native telephony UI and app
// lifecycle event sources onto one loop, so events for a given call are
// processed in arrival order.
type App struct {
	session   *SessionManager
	registry  *CallRegistry
	telephony *TelephonyUICoordinator
	lifecycle *AppLifecycleCoordinator
	bridge    TelephonyBridge

	lifecycleEvents <-chan AppState
	clientSwap      chan SignalingClient
	log             *logrus.Entry
}

func NewApp(session *SessionManager, registry *CallRegistry, telephony *TelephonyUICoordinator, lifecycle *AppLifecycleCoordinator, bridge TelephonyBridge, lifecycleEvents <-chan AppState, log *logrus.Entry) *App {
	a := &App{
		session:         session,
		registry:        registry,
		telephony:       telephony,
		lifecycle:       lifecycle,
		bridge:          bridge,
		lifecycleEvents: lifecycleEvents,
		clientSwap:      make(chan SignalingClient, 4),
		log:             log,
	}
	session.SetClientListener(func(cl SignalingClient) { a.clientSwap <- cl })
	return a
}

// Start runs the loop until ctx is canceled.
func (a *App) Start(ctx context.Context) error {
	var sigEvents <-chan SignalingEvent
	var bridgeEvents <-chan BridgeEvent
	if a.bridge != nil {
		bridgeEvents = a.bridge.Events()
	}

	for {
		select {
		case cl := <-a.clientSwap:
			sigEvents = cl.Events()
		case ev := <-sigEvents:
			a.handleSignaling(ctx, ev)
		case ev := <-bridgeEvents:
			a.handleBridge(ctx, ev)
		case st := <-a.lifecycleEvents:
			a.lifecycle.HandleTransition(ctx, st)
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) handleSignaling(ctx context.Context, ev SignalingEvent) {
	switch ev.Kind {
	case EventReady:
		a.session.HandleReady()
	case EventClientError:
		a.session.HandleClientError(ev.Err)
	case EventIncomingCall:
		a.registry.HandleIncoming(ev.Call, ev.Invite)
	case EventReattachedCall:
		a.registry.HandleReattached(ev.Call, ev.Invite)
	case EventCallState:
		a.registry.HandleCallState(ev.CallID, ev.State)
	default:
		a.log.Warnf("unknown signaling event %d", ev.Kind)
	}
}

func (a *App) handleBridge(ctx context.Context, ev BridgeEvent) {
	switch ev.Kind {
	case BridgeStart:
		a.telephony.HandleNativeStart(ev.NativeID)
	case BridgeAnswer:
		a.telephony.HandleNativeAnswer(ctx, ev.NativeID)
	case BridgeEnd:
		a.telephony.HandleNativeEnd(ctx, ev.NativeID)
	case BridgePushReceived:
		a.telephony.HandlePushReceived(ctx, ev.NativeID, ev.Payload)
	default:
		a.log.Warnf("unknown bridge event %d", ev.Kind)
	}
}
