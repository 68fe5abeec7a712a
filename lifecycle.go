package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"
)

// AppState is one app lifecycle phase as reported by the platform.
type AppState int

const (
	AppActive AppState = iota
	AppInactive
	AppBackground
)

func (s AppState) String() string {
	switch s {
	case AppActive:
		return "active"
	case AppInactive:
		return "inactive"
	case AppBackground:
		return "background"
	default:
		return "unknown"
	}
}

// AppLifecycleCoordinator decides whether backgrounding should tear down the
// session and drives reconnection when the app returns to the foreground.
type AppLifecycleCoordinator struct {
	session   *SessionManager
	registry  *CallRegistry
	telephony *TelephonyUICoordinator
	push      PushStore
	log       *logrus.Entry

	// graceWindow delays a background disconnect while a pending push-call
	// marker exists, so a just-answered push call's invite can still arrive.
	graceWindow time.Duration

	suppressBackgroundDisconnect *abool.AtomicBool
	handlingForegroundPushCall   *abool.AtomicBool

	mu   sync.Mutex
	prev AppState
}

func NewAppLifecycleCoordinator(session *SessionManager, registry *CallRegistry, telephony *TelephonyUICoordinator, push PushStore, graceWindow time.Duration, log *logrus.Entry) *AppLifecycleCoordinator {
	l := &AppLifecycleCoordinator{
		session:                      session,
		registry:                     registry,
		telephony:                    telephony,
		push:                         push,
		log:                          log,
		graceWindow:                  graceWindow,
		suppressBackgroundDisconnect: abool.New(),
		handlingForegroundPushCall:   abool.New(),
		prev:                         AppActive,
	}
	registry.OnCallsChanged(func(int) { l.ResetFlagsIfIdle() })
	return l
}

// SetSuppressBackgroundDisconnect arms or disarms the suppression flag.
func (l *AppLifecycleCoordinator) SetSuppressBackgroundDisconnect(v bool) {
	l.suppressBackgroundDisconnect.SetTo(v)
}

// SuppressBackgroundDisconnect reports the suppression flag.
func (l *AppLifecycleCoordinator) SuppressBackgroundDisconnect() bool {
	return l.suppressBackgroundDisconnect.IsSet()
}

// HandlingForegroundPushCall reports the foreground-push flag.
func (l *AppLifecycleCoordinator) HandlingForegroundPushCall() bool {
	return l.handlingForegroundPushCall.IsSet()
}

// HandleTransition processes one lifecycle phase change. Inactive is a
// transitional hop on some platforms, so reaching background from any other
// phase triggers the disconnect policy.
func (l *AppLifecycleCoordinator) HandleTransition(ctx context.Context, to AppState) {
	l.mu.Lock()
	from := l.prev
	l.prev = to
	l.mu.Unlock()
	if from == to {
		return
	}
	l.log.Infof("app %s -> %s", from, to)

	switch to {
	case AppBackground:
		l.onBackground(ctx)
	case AppActive:
		l.onForeground(ctx)
	}
}

// onBackground tears the session down unless something still needs it: the
// suppression flag, a live call, or a push call still in flight. A pending
// push-call marker delays the decision by the grace window.
func (l *AppLifecycleCoordinator) onBackground(ctx context.Context) {
	if l.suppressBackgroundDisconnect.IsSet() {
		l.log.Info("background disconnect suppressed by flag")
		return
	}
	if l.registry.HasLiveCall() {
		l.log.Info("keeping session: live call in progress")
		return
	}
	if l.telephony.HasPushCallProcessing() {
		l.log.Info("keeping session: push call still processing")
		return
	}

	if l.push != nil {
		if rec, err := l.push.PendingAction(); err == nil && rec != nil {
			l.log.Infof("pending push-call marker found, delaying disconnect %s", l.graceWindow)
			time.AfterFunc(l.graceWindow, func() { l.disconnectIfIdle(ctx) })
			return
		}
	}
	l.disconnectIfIdle(ctx)
}

func (l *AppLifecycleCoordinator) disconnectIfIdle(ctx context.Context) {
	if l.suppressBackgroundDisconnect.IsSet() || l.registry.HasLiveCall() || l.telephony.HasPushCallProcessing() {
		return
	}
	if err := l.session.Disconnect(ctx); err != nil {
		l.log.Warnf("background disconnect failed: %v", err)
	}
}

// onForeground first drains any pending native push action recorded while
// the app was not running; only if that did not already initiate a
// connection does it attempt stored-credential auto-reconnection.
func (l *AppLifecycleCoordinator) onForeground(ctx context.Context) {
	if l.push != nil {
		rec, err := l.push.PendingAction()
		if err != nil {
			l.log.Warnf("reading pending native action failed: %v", err)
		}
		if rec != nil {
			initiated := l.telephony.HandlePushAction(ctx, rec)
			if err := l.push.ClearPendingAction(); err != nil {
				l.log.Warnf("clearing pending native action failed: %v", err)
			}
			if initiated {
				l.handlingForegroundPushCall.Set()
				return
			}
		}
	}

	if l.session.State() != StateDisconnected {
		return
	}
	if err := l.session.ReconnectFromStored(ctx); err != nil {
		l.log.Infof("foreground auto-reconnect skipped: %v", err)
	}
}

// ResetFlagsIfIdle clears both lifecycle flags, but only once the registry
// tracks zero calls and the telephony coordinator has no in-flight actions.
// Both conditions, so flags are never reset mid-answer.
func (l *AppLifecycleCoordinator) ResetFlagsIfIdle() {
	if l.registry.Count() != 0 || l.telephony.InFlight() != 0 {
		return
	}
	l.suppressBackgroundDisconnect.UnSet()
	l.handlingForegroundPushCall.UnSet()
}
