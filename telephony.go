package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"
)

// TelephonyUICoordinator reconciles three timelines: native telephony-UI
// actions, the signaling call's own lifecycle, and push delivery. It is the
// sole owner of the call↔native-session binding map and the arbiter of
// at-most-once native reporting and at-most-once user-action handling.
type TelephonyUICoordinator struct {
	bridge  TelephonyBridge
	session *SessionManager
	metrics *Metrics
	log     *logrus.Entry

	// connectReportDelay gives the native audio session time to activate
	// before the connected report and the signaling answer.
	connectReportDelay time.Duration

	mu       sync.Mutex
	byNative map[string]string // native session id -> call id
	byCall   map[string]string // call id -> native session id
	calls    map[string]*Call  // call id -> bound call
	detach   map[string]func() // native session id -> state unsubscribe

	// Disjoint guard sets keyed by native session id. Membership is checked
	// at the top of every handler so a duplicate native event is a silent
	// no-op instead of a double execution.
	processing map[string]struct{}
	ended      map[string]struct{}
	connected  map[string]struct{}

	intent     PendingIntent
	pushOrigin *abool.AtomicBool
	cachedPush *PushPayload

	// pendingNativeID remembers the native session of an answer/end that
	// arrived before any call was bound, so the next incoming call adopts
	// that session instead of prompting again.
	pendingNativeID string
}

func NewTelephonyUICoordinator(bridge TelephonyBridge, session *SessionManager, connectReportDelay time.Duration, metrics *Metrics, log *logrus.Entry) *TelephonyUICoordinator {
	return &TelephonyUICoordinator{
		bridge:             bridge,
		session:            session,
		metrics:            metrics,
		log:                log,
		connectReportDelay: connectReportDelay,
		byNative:           map[string]string{},
		byCall:             map[string]string{},
		calls:              map[string]*Call{},
		detach:             map[string]func(){},
		processing:         map[string]struct{}{},
		ended:              map[string]struct{}{},
		connected:          map[string]struct{}{},
		pushOrigin:         abool.New(),
	}
}

// NativeAvailable reports whether a native telephony UI can be driven.
func (t *TelephonyUICoordinator) NativeAvailable() bool {
	return t.bridge != nil && t.bridge.Available()
}

// IsBound reports whether a native binding exists for the call id.
func (t *TelephonyUICoordinator) IsBound(callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byCall[callID]
	return ok
}

// InFlight returns the number of native session ids with an action in
// flight.
func (t *TelephonyUICoordinator) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.processing)
}

// HasPushCallProcessing reports whether a push-originated call is still
// being handled.
func (t *TelephonyUICoordinator) HasPushCallProcessing() bool {
	if t.pushOrigin.IsSet() {
		return true
	}
	return t.InFlight() > 0
}

// HandlePushReceived records a push-announced native call that the platform
// already presented before any signaling connection existed, and routes the
// payload to the session manager.
func (t *TelephonyUICoordinator) HandlePushReceived(ctx context.Context, nativeID string, payload *PushPayload) {
	if payload == nil || payload.CallID == "" {
		t.log.Warn("push event without call metadata, ignoring")
		return
	}
	t.log.Infof("push-announced call %s on native session %s", payload.CallID, nativeID)

	t.mu.Lock()
	t.byNative[nativeID] = payload.CallID
	t.byCall[payload.CallID] = nativeID
	t.cachedPush = payload
	t.mu.Unlock()
	t.pushOrigin.Set()

	if err := t.session.HandlePushNotification(ctx, *payload); err != nil {
		t.log.Warnf("routing push payload failed: %v", err)
	}
}

// OfferIncoming binds a newly registered incoming call. When the binding
// already exists the call arrived through push first: the native prompt is
// already on screen, so no fresh report is issued, the display is updated,
// and any pending intent is consumed. Otherwise a new native session is
// reported.
func (t *TelephonyUICoordinator) OfferIncoming(c *Call) {
	if !t.NativeAvailable() {
		return
	}
	callID := c.ID()

	t.mu.Lock()
	nativeID, bound := t.byCall[callID]
	if bound && nativeID == t.pendingNativeID {
		// the push path had already bound the session the user acted on
		t.pendingNativeID = ""
	}
	if !bound && t.pendingNativeID != "" {
		// a native answer/end outran the invite; adopt its session
		nativeID = t.pendingNativeID
		t.pendingNativeID = ""
		t.byNative[nativeID] = callID
		t.byCall[callID] = nativeID
		bound = true
	}
	if !bound {
		nativeID = uuid.NewString()
		t.byNative[nativeID] = callID
		t.byCall[callID] = nativeID
	}
	t.calls[callID] = c
	t.mu.Unlock()

	t.watch(nativeID, c)

	if bound {
		// push race resolved: the invite caught up with the native call
		if err := t.bridge.UpdateCall(context.Background(), nativeID, c.CallerNumber(), c.CallerName()); err != nil {
			t.log.Warnf("%v", &NativeReportFailureError{Op: "update", Err: err})
		}
		t.consumeIntent(nativeID, c)
		return
	}

	if err := t.bridge.ReportIncomingCall(context.Background(), nativeID, c.CallerNumber(), c.CallerName()); err != nil {
		t.log.Warnf("%v", &NativeReportFailureError{Op: "incoming", Err: err})
		t.removeBinding(nativeID)
		return
	}
	if t.metrics != nil {
		t.metrics.NativeReports.WithLabelValues("incoming").Inc()
	}
	// a reattached call is already active; tell the native UI right away
	if c.State() == CallActive {
		t.reportConnectedOnce(context.Background(), nativeID)
	}
	t.consumeIntent(nativeID, c)
}

// consumeIntent applies an armed pending intent to the call whose invite
// just arrived. Consumed exactly once.
func (t *TelephonyUICoordinator) consumeIntent(nativeID string, c *Call) {
	kind, ok := t.intent.Consume()
	if !ok {
		return
	}
	t.log.Infof("consuming %s intent for call %s", kind, c.ID())
	t.markProcessing(nativeID)
	switch kind {
	case IntentAutoAnswer:
		go t.answerFlow(context.Background(), nativeID, c)
	case IntentAutoEnd:
		go t.endFlow(context.Background(), nativeID, c)
	}
}

// OfferOutgoing starts a native session for an outgoing call. The later
// native start event is informational only; the signaling call is already in
// flight.
func (t *TelephonyUICoordinator) OfferOutgoing(c *Call) {
	if !t.NativeAvailable() {
		return
	}
	callID := c.ID()
	nativeID := uuid.NewString()

	t.mu.Lock()
	t.byNative[nativeID] = callID
	t.byCall[callID] = nativeID
	t.calls[callID] = c
	t.mu.Unlock()

	t.watch(nativeID, c)

	if err := t.bridge.StartOutgoingCall(context.Background(), nativeID, c.Destination(), c.Destination()); err != nil {
		t.log.Warnf("%v", &NativeReportFailureError{Op: "start", Err: err})
		t.removeBinding(nativeID)
		return
	}
	if t.metrics != nil {
		t.metrics.NativeReports.WithLabelValues("outgoing").Inc()
	}
}

// RequestAnswer is the Call's answer delegation: ask the native layer to
// answer, and let its confirmation event drive the signaling answer.
func (t *TelephonyUICoordinator) RequestAnswer(ctx context.Context, c *Call) error {
	nativeID, ok := t.nativeIDFor(c.ID())
	if !ok {
		return c.answerSignaling(ctx, nil)
	}
	if err := t.bridge.AnswerCall(ctx, nativeID); err != nil {
		wrapped := &NativeReportFailureError{Op: "answer", Err: err}
		t.log.Warnf("%v", wrapped)
		// never leave a stuck call on screen
		t.reportEndedOnce(ctx, nativeID, EndReasonFailed)
		t.removeBinding(nativeID)
		return wrapped
	}
	return nil
}

// RequestEnd is the Call's hangup delegation: the native layer owns
// teardown, its end event drives the signaling hangup.
func (t *TelephonyUICoordinator) RequestEnd(ctx context.Context, c *Call) error {
	nativeID, ok := t.nativeIDFor(c.ID())
	if !ok {
		return c.hangupSignaling(ctx, nil)
	}
	if err := t.bridge.EndCall(ctx, nativeID); err != nil {
		wrapped := &NativeReportFailureError{Op: "end", Err: err}
		t.log.Warnf("%v", wrapped)
		// degrade to a direct signaling hangup so the call actually ends
		return c.hangupSignaling(ctx, nil)
	}
	return nil
}

// HandleNativeStart confirms an outgoing native session. Informational only.
func (t *TelephonyUICoordinator) HandleNativeStart(nativeID string) {
	t.log.Debugf("native session %s started", nativeID)
}

// HandleNativeAnswer processes the user answering on the system call screen.
// Without a bound call this is a push-originated answer: a pending intent is
// recorded and a stored-credential reconnection is triggered; the call
// created later consumes the intent.
func (t *TelephonyUICoordinator) HandleNativeAnswer(ctx context.Context, nativeID string) {
	t.mu.Lock()
	if t.isGuardedLocked(nativeID) {
		t.mu.Unlock()
		t.log.Debugf("duplicate native answer for %s ignored", nativeID)
		return
	}
	callID, bound := t.byNative[nativeID]
	c := t.calls[callID]
	if !bound || c == nil {
		t.pendingNativeID = nativeID
		t.mu.Unlock()
		t.log.Infof("native answer for unbound session %s, arming auto-answer", nativeID)
		t.intent.Set(IntentAutoAnswer)
		t.pushOrigin.Set()
		t.reconnectForIntent(ctx)
		return
	}
	if c.State() == CallActive {
		t.mu.Unlock()
		return
	}
	t.processing[nativeID] = struct{}{}
	t.mu.Unlock()

	go t.answerFlow(ctx, nativeID, c)
}

// HandleNativeEnd processes the user ending or declining on the system call
// screen. Without a bound call this is a push-originated rejection.
func (t *TelephonyUICoordinator) HandleNativeEnd(ctx context.Context, nativeID string) {
	t.mu.Lock()
	if _, busy := t.processing[nativeID]; busy {
		t.mu.Unlock()
		t.log.Debugf("duplicate native end for %s ignored", nativeID)
		return
	}
	if _, done := t.ended[nativeID]; done {
		t.mu.Unlock()
		return
	}
	callID, bound := t.byNative[nativeID]
	c := t.calls[callID]
	if !bound || c == nil {
		t.pendingNativeID = nativeID
		t.mu.Unlock()
		t.log.Infof("native end for unbound session %s, arming auto-end", nativeID)
		t.intent.Set(IntentAutoEnd)
		t.pushOrigin.Set()
		// reconnect so the signaling layer can send the decline
		t.reconnectForIntent(ctx)
		return
	}
	t.processing[nativeID] = struct{}{}
	t.mu.Unlock()

	go t.endFlow(ctx, nativeID, c)
}

// HandlePushAction drains a pending native action recorded while the app was
// not running. Returns true when it initiated a connection.
func (t *TelephonyUICoordinator) HandlePushAction(ctx context.Context, rec *PendingNativeAction) bool {
	payload, ok := rec.payload()
	if !ok {
		return false
	}
	switch rec.Action {
	case "answer":
		t.intent.Set(IntentAutoAnswer)
	case "end":
		t.intent.Set(IntentAutoEnd)
	default:
		t.log.Warnf("pending native action %q not recognized", rec.Action)
		return false
	}
	t.pushOrigin.Set()
	if err := t.session.HandlePushNotification(ctx, *payload); err != nil {
		t.log.Warnf("draining pending native action failed: %v", err)
		return false
	}
	return t.session.State() != StateDisconnected
}

// answerFlow runs the full answer sequence for one native session: a short
// deliberate delay for the native audio session, the connected report, then
// the signaling answer. The processing mark is dropped on every exit path so
// at most one answer is ever in flight per session id.
func (t *TelephonyUICoordinator) answerFlow(ctx context.Context, nativeID string, c *Call) {
	defer t.unmarkProcessing(nativeID)

	c.setState(CallConnecting)

	select {
	case <-time.After(t.connectReportDelay):
	case <-ctx.Done():
		return
	}

	if !t.reportConnectedOnce(ctx, nativeID) {
		t.reportEndedOnce(ctx, nativeID, EndReasonFailed)
		t.removeBinding(nativeID)
		return
	}

	if err := c.answerSignaling(ctx, nil); err != nil {
		t.log.Warnf("signaling answer for %s failed: %v", c.ID(), err)
	}
}

// endFlow hangs up the bound call and unconditionally clears the binding, so
// the mapping never leaks.
func (t *TelephonyUICoordinator) endFlow(ctx context.Context, nativeID string, c *Call) {
	defer func() {
		t.unmarkProcessing(nativeID)
		t.removeBinding(nativeID)
	}()

	// the native session is already gone; suppress the terminal report
	t.mu.Lock()
	t.ended[nativeID] = struct{}{}
	t.mu.Unlock()

	if err := c.hangupSignaling(ctx, nil); err != nil {
		t.log.Warnf("signaling hangup for %s failed: %v", c.ID(), err)
	}
}

// watch subscribes to the call's state stream. A connected or terminal
// transition drives exactly one native report, however many times the state
// machine re-emits.
func (t *TelephonyUICoordinator) watch(nativeID string, c *Call) {
	detach := c.OnState(func(s CallState) {
		switch {
		case s == CallActive:
			t.reportConnectedOnce(context.Background(), nativeID)
		case s.IsTerminal():
			t.reportEndedOnce(context.Background(), nativeID, t.reasonFor(nativeID, s))
			t.removeBinding(nativeID)
		}
	})
	t.mu.Lock()
	t.detach[nativeID] = detach
	t.mu.Unlock()
}

// reportConnectedOnce issues the connected report, guarded by membership in
// the connected set. Returns false when the bridge call failed.
func (t *TelephonyUICoordinator) reportConnectedOnce(ctx context.Context, nativeID string) bool {
	t.mu.Lock()
	if _, done := t.connected[nativeID]; done {
		t.mu.Unlock()
		return true
	}
	t.connected[nativeID] = struct{}{}
	t.mu.Unlock()

	if err := t.bridge.ReportCallConnected(ctx, nativeID); err != nil {
		t.log.Warnf("%v", &NativeReportFailureError{Op: "connected", Err: err})
		return false
	}
	if t.metrics != nil {
		t.metrics.NativeReports.WithLabelValues("connected").Inc()
	}
	return true
}

// reportEndedOnce issues the terminal report, guarded by membership in the
// ended set.
func (t *TelephonyUICoordinator) reportEndedOnce(ctx context.Context, nativeID string, reason CallEndReason) {
	t.mu.Lock()
	if _, done := t.ended[nativeID]; done {
		t.mu.Unlock()
		return
	}
	t.ended[nativeID] = struct{}{}
	t.mu.Unlock()

	if err := t.bridge.ReportCallEnded(ctx, nativeID, reason); err != nil {
		t.log.Warnf("%v", &NativeReportFailureError{Op: "ended", Err: err})
		return
	}
	if t.metrics != nil {
		t.metrics.NativeReports.WithLabelValues("ended").Inc()
	}
}

// reasonFor maps a terminal call state onto the native end reason.
func (t *TelephonyUICoordinator) reasonFor(nativeID string, s CallState) CallEndReason {
	if s == CallFailed {
		return EndReasonFailed
	}
	t.mu.Lock()
	_, wasConnected := t.connected[nativeID]
	c := t.calls[t.byNative[nativeID]]
	t.mu.Unlock()
	if !wasConnected && c != nil && c.Direction() == DirectionIncoming {
		return EndReasonUnanswered
	}
	return EndReasonRemoteEnded
}

// removeBinding drops a native session from the binding map and all three
// guard sets atomically and detaches the call subscription. When this was the
// last binding it also resets the push-origin marker, the pending intent and
// the cached push payload.
func (t *TelephonyUICoordinator) removeBinding(nativeID string) {
	t.mu.Lock()
	callID, ok := t.byNative[nativeID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.byNative, nativeID)
	delete(t.byCall, callID)
	delete(t.calls, callID)
	delete(t.processing, nativeID)
	delete(t.ended, nativeID)
	delete(t.connected, nativeID)
	if t.pendingNativeID == nativeID {
		t.pendingNativeID = ""
	}
	detach := t.detach[nativeID]
	delete(t.detach, nativeID)
	last := len(t.byNative) == 0
	t.mu.Unlock()

	if detach != nil {
		detach()
	}
	if last {
		t.pushOrigin.UnSet()
		t.intent.Clear()
		t.mu.Lock()
		t.cachedPush = nil
		t.mu.Unlock()
	}
	t.log.Debugf("binding for native session %s removed", nativeID)
}

func (t *TelephonyUICoordinator) isGuardedLocked(nativeID string) bool {
	if _, ok := t.processing[nativeID]; ok {
		return true
	}
	if _, ok := t.ended[nativeID]; ok {
		return true
	}
	if _, ok := t.connected[nativeID]; ok {
		return true
	}
	return false
}

func (t *TelephonyUICoordinator) markProcessing(nativeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processing[nativeID] = struct{}{}
}

func (t *TelephonyUICoordinator) unmarkProcessing(nativeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.processing, nativeID)
}

func (t *TelephonyUICoordinator) nativeIDFor(callID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byCall[callID]
	return id, ok
}

func (t *TelephonyUICoordinator) reconnectForIntent(ctx context.Context) {
	go func() {
		if err := t.session.ReconnectFromStored(ctx); err != nil {
			t.log.Warnf("stored-credential reconnect failed: %v", err)
		}
	}()
}
