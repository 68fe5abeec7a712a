package main

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// CallRegistry owns the set of live Call instances. It reacts to signaling
// call events, offers every new call to the telephony coordinator, and
// removes calls that reach a terminal state. At most one live Call exists
// per call id at any time.
type CallRegistry struct {
	session   *SessionManager
	telephony *TelephonyUICoordinator
	metrics   *Metrics
	log       *logrus.Entry

	mu      sync.Mutex
	calls   map[string]*Call
	order   []string
	detach  map[string]func()
	changed func(count int)
}

func NewCallRegistry(session *SessionManager, telephony *TelephonyUICoordinator, metrics *Metrics, log *logrus.Entry) *CallRegistry {
	return &CallRegistry{
		session:   session,
		telephony: telephony,
		metrics:   metrics,
		log:       log,
		calls:     map[string]*Call{},
		detach:    map[string]func(){},
	}
}

// OnCallsChanged registers the callback invoked whenever the tracked call
// count changes.
func (r *CallRegistry) OnCallsChanged(fn func(count int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = fn
}

// Count returns the number of tracked calls.
func (r *CallRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Calls returns the tracked calls in registration order.
func (r *CallRegistry) Calls() []*Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Call, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.calls[id])
	}
	return out
}

// Get returns the tracked call for an id.
func (r *CallRegistry) Get(callID string) (*Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	return c, ok
}

// HasLiveCall reports whether any tracked call is non-terminal.
func (r *CallRegistry) HasLiveCall() bool {
	for _, c := range r.Calls() {
		if c.State().IsLive() {
			return true
		}
	}
	return false
}

// ActiveCall derives the current active call: the first call, in
// registration order, whose state is ringing, connecting, active or held.
// Never cached; nil when no call matches.
func (r *CallRegistry) ActiveCall() *Call {
	for _, c := range r.Calls() {
		switch c.State() {
		case CallRinging, CallConnecting, CallActive, CallHeld:
			return c
		}
	}
	return nil
}

// HandleIncoming creates a Call for an incoming signaling event. A second
// incoming event for an already tracked id is a duplicate and is ignored.
func (r *CallRegistry) HandleIncoming(handle SignalingCall, invite *InviteInfo) {
	id := handle.ID()
	r.mu.Lock()
	if _, exists := r.calls[id]; exists {
		r.mu.Unlock()
		r.log.Infof("ignoring duplicate incoming event for call %s", id)
		return
	}
	r.mu.Unlock()

	c := newCall(id, DirectionIncoming, handle, r.telephony, CallRinging, r.log)
	c.callerName, c.callerNumber = resolveCallerIdentity(invite, handle)
	r.register(c)
	r.telephony.OfferIncoming(c)
}

// HandleReattached replaces any tracked Call for the id with a fresh one
// starting directly in active: the media session existed before this
// process attached to it.
func (r *CallRegistry) HandleReattached(handle SignalingCall, invite *InviteInfo) {
	id := handle.ID()
	r.mu.Lock()
	if prior, exists := r.calls[id]; exists {
		if detach := r.detach[id]; detach != nil {
			detach()
		}
		prior.dispose()
		delete(r.calls, id)
		delete(r.detach, id)
		r.removeFromOrderLocked(id)
	}
	r.mu.Unlock()

	c := newCall(id, DirectionIncoming, handle, r.telephony, CallActive, r.log)
	c.callerName, c.callerNumber = resolveCallerIdentity(invite, handle)
	r.register(c)
	r.telephony.OfferIncoming(c)
}

// HandleCallState routes a raw per-call state change onto the call machine.
func (r *CallRegistry) HandleCallState(callID, raw string) {
	c, ok := r.Get(callID)
	if !ok {
		r.log.Debugf("state %q for untracked call %s", raw, callID)
		return
	}
	if err := c.applySignalingState(raw); err != nil {
		r.log.Errorf("call %s: %v", callID, err)
	}
}

// NewCall originates an outgoing call. Requires the session to be connected.
func (r *CallRegistry) NewCall(ctx context.Context, destination, callerName, callerNumber string, headers map[string]string) (*Call, error) {
	if r.session.State() != StateConnected {
		return nil, ErrNotConnected
	}
	client := r.session.Client()
	if client == nil {
		return nil, ErrNotConnected
	}

	handle, err := client.NewCall(ctx, CallOptions{
		Destination:  destination,
		CallerName:   callerName,
		CallerNumber: callerNumber,
		Headers:      headers,
	})
	if err != nil {
		return nil, err
	}

	c := newCall(handle.ID(), DirectionOutgoing, handle, r.telephony, CallRinging, r.log)
	c.destination = destination
	c.callerName = callerName
	c.callerNumber = callerNumber
	r.register(c)
	r.telephony.OfferOutgoing(c)
	return c, nil
}

func (r *CallRegistry) register(c *Call) {
	r.mu.Lock()
	r.calls[c.ID()] = c
	r.order = append(r.order, c.ID())
	count := len(r.calls)
	changed := r.changed
	r.mu.Unlock()

	detach := c.OnState(func(s CallState) {
		if s.IsTerminal() {
			r.remove(c.ID(), s)
		}
	})
	r.mu.Lock()
	r.detach[c.ID()] = detach
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.LiveCalls.Set(float64(count))
	}
	if changed != nil {
		changed(count)
	}
}

func (r *CallRegistry) remove(callID string, final CallState) {
	r.mu.Lock()
	if _, exists := r.calls[callID]; !exists {
		r.mu.Unlock()
		return
	}
	if detach := r.detach[callID]; detach != nil {
		// detaching under our own lock is safe: the call has already
		// snapshotted its listeners for this emission
		detach()
	}
	delete(r.calls, callID)
	delete(r.detach, callID)
	r.removeFromOrderLocked(callID)
	count := len(r.calls)
	changed := r.changed
	r.mu.Unlock()

	r.log.Infof("call %s removed after %s", callID, final)
	if r.metrics != nil {
		r.metrics.LiveCalls.Set(float64(count))
		r.metrics.CallsEnded.WithLabelValues(final.String()).Inc()
	}
	if changed != nil {
		changed(count)
	}
}

func (r *CallRegistry) removeFromOrderLocked(callID string) {
	for i, id := range r.order {
		if id == callID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// resolveCallerIdentity picks the display name and number for an incoming
// call: the invite message wins, then the handle's own caller-id fields,
// then the number anchors the name fallback, then a literal "Unknown".
func resolveCallerIdentity(invite *InviteInfo, handle SignalingCall) (name, number string) {
	if invite != nil {
		name = invite.CallerName
		number = invite.CallerNumber
	}
	if number == "" {
		number = handle.CallerNumber()
	}
	if name == "" {
		name = handle.CallerName()
	}
	if name == "" {
		name = number
	}
	if name == "" {
		name = "Unknown"
	}
	return name, number
}
