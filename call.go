package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// CallState represents states of a coordinated call.
type CallState int

const (
	CallRinging CallState = iota
	CallConnecting
	CallActive
	CallHeld
	CallEnded
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallConnecting:
		return "connecting"
	case CallActive:
		return "active"
	case CallHeld:
		return "held"
	case CallEnded:
		return "ended"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can occur.
func (s CallState) IsTerminal() bool {
	return s == CallEnded || s == CallFailed
}

// IsLive reports whether the call still occupies the user: ringing,
// connecting, active or held.
func (s CallState) IsLive() bool {
	return !s.IsTerminal()
}

// CallDirection indicates who originated the call.
type CallDirection int

const (
	DirectionIncoming CallDirection = iota
	DirectionOutgoing
)

func (d CallDirection) String() string {
	if d == DirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// nativeCallDelegate is the slice of the TelephonyUICoordinator a Call needs:
// when a native telephony UI is available, answer and hangup are delegated to
// it wholesale, because the native layer owns the audio session and its
// confirmation event drives the signaling action.
type nativeCallDelegate interface {
	NativeAvailable() bool
	RequestAnswer(ctx context.Context, c *Call) error
	RequestEnd(ctx context.Context, c *Call) error
}

// Call is the per-call state machine wrapping one signaling call handle. It
// owns all call-scoped mutable state; foreign-component identifiers (native
// session ids) are kept out of it on purpose.
type Call struct {
	id           string
	direction    CallDirection
	destination  string
	callerName   string
	callerNumber string

	mu        sync.Mutex
	state     CallState
	muted     bool
	held      bool
	listeners map[int]func(CallState)
	nextSub   int

	handle SignalingCall
	native nativeCallDelegate
	log    *logrus.Entry

	duration  atomic.Int64 // seconds
	startedAt time.Time
	timerStop chan struct{}
}

func newCall(id string, dir CallDirection, handle SignalingCall, native nativeCallDelegate, initial CallState, log *logrus.Entry) *Call {
	c := &Call{
		id:        id,
		direction: dir,
		state:     initial,
		handle:    handle,
		native:    native,
		listeners: map[int]func(CallState){},
		log:       log.WithField("call", id),
	}
	if initial == CallActive {
		c.startTimerLocked()
	}
	return c
}

func (c *Call) ID() string               { return c.id }
func (c *Call) Direction() CallDirection { return c.direction }
func (c *Call) Destination() string      { return c.destination }
func (c *Call) CallerName() string       { return c.callerName }
func (c *Call) CallerNumber() string     { return c.callerNumber }
func (c *Call) Handle() SignalingCall    { return c.handle }

// DurationSeconds returns the elapsed active time. The timer starts exactly
// once, on the first transition into active, and stops on any terminal
// transition.
func (c *Call) DurationSeconds() int64 { return c.duration.Load() }

func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Call) IsHeld() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// OnState registers a state listener and returns a detach function. The
// stream is deduplicated: an unchanged state is never re-emitted.
func (c *Call) OnState(fn func(CallState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// validCallTransition encodes the state machine:
// ringing → connecting → active ⇄ held, any non-terminal state → ended|failed.
func validCallTransition(from, to CallState) bool {
	if from.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	switch from {
	case CallRinging:
		return to == CallConnecting || to == CallActive
	case CallConnecting:
		return to == CallActive
	case CallActive:
		return to == CallHeld
	case CallHeld:
		return to == CallActive
	default:
		return false
	}
}

// setState applies a transition and notifies listeners outside the lock.
// Invalid or duplicate transitions are dropped.
func (c *Call) setState(to CallState) {
	c.mu.Lock()
	if to == c.state {
		c.mu.Unlock()
		return
	}
	if !validCallTransition(c.state, to) {
		c.log.Warnf("dropping call transition %s -> %s", c.state, to)
		c.mu.Unlock()
		return
	}
	c.log.Infof("call state %s -> %s", c.state, to)
	c.state = to
	c.held = to == CallHeld
	if to == CallActive && c.timerStop == nil {
		c.startTimerLocked()
	}
	if to.IsTerminal() {
		c.stopTimerLocked()
	}
	fns := make([]func(CallState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(to)
	}
}

// applySignalingState maps a raw SDK state onto the machine. Unknown states
// are an error, never a silent fallback.
func (c *Call) applySignalingState(raw string) error {
	to, err := callStateFromSignaling(raw)
	if err != nil {
		return err
	}
	c.setState(to)
	return nil
}

func (c *Call) startTimerLocked() {
	c.startedAt = time.Now()
	stop := make(chan struct{})
	c.timerStop = stop
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.duration.Add(1)
			case <-stop:
				return
			}
		}
	}()
}

func (c *Call) stopTimerLocked() {
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

// dispose detaches listeners and stops the timer without emitting a terminal
// state. Used when a reattached signaling event replaces this instance.
func (c *Call) dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.listeners = map[int]func(CallState){}
}

// Answer accepts a ringing call. With a native telephony UI available the
// whole action is delegated to the coordinator; the native answer event then
// drives the signaling answer. Without one the call moves to connecting and
// the signaling SDK is invoked directly.
func (c *Call) Answer(ctx context.Context, headers map[string]string) error {
	c.mu.Lock()
	if c.state != CallRinging {
		defer c.mu.Unlock()
		return &InvalidStateTransitionError{Action: "answer", From: c.state}
	}
	c.mu.Unlock()

	if c.native != nil && c.native.NativeAvailable() {
		return c.native.RequestAnswer(ctx, c)
	}
	return c.answerSignaling(ctx, headers)
}

// answerSignaling performs the signaling half of an answer. Also called by
// the coordinator once the native layer confirmed the action.
func (c *Call) answerSignaling(ctx context.Context, headers map[string]string) error {
	c.setState(CallConnecting)
	if err := c.handle.Answer(ctx, headers); err != nil {
		c.setState(CallFailed)
		return err
	}
	return nil
}

// Hangup terminates the call from any non-terminal state.
func (c *Call) Hangup(ctx context.Context, headers map[string]string) error {
	c.mu.Lock()
	if c.state.IsTerminal() {
		defer c.mu.Unlock()
		return &InvalidStateTransitionError{Action: "hangup", From: c.state}
	}
	c.mu.Unlock()

	if c.native != nil && c.native.NativeAvailable() {
		return c.native.RequestEnd(ctx, c)
	}
	return c.hangupSignaling(ctx, headers)
}

// hangupSignaling performs the signaling half of a hangup.
func (c *Call) hangupSignaling(ctx context.Context, headers map[string]string) error {
	if err := c.handle.Hangup(ctx, headers); err != nil {
		return err
	}
	c.setState(CallEnded)
	return nil
}

// Hold puts an active call on hold.
func (c *Call) Hold(ctx context.Context) error {
	c.mu.Lock()
	if c.state != CallActive {
		defer c.mu.Unlock()
		return &InvalidStateTransitionError{Action: "hold", From: c.state}
	}
	c.mu.Unlock()

	if err := c.handle.Hold(ctx); err != nil {
		return err
	}
	c.setState(CallHeld)
	return nil
}

// Resume takes a held call off hold.
func (c *Call) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.state != CallHeld {
		defer c.mu.Unlock()
		return &InvalidStateTransitionError{Action: "resume", From: c.state}
	}
	c.mu.Unlock()

	if err := c.handle.Unhold(ctx); err != nil {
		return err
	}
	c.setState(CallActive)
	return nil
}

// Mute silences the microphone. Valid while active or held; the flag flips
// only after the signaling SDK accepted the change.
func (c *Call) Mute(ctx context.Context) error {
	if err := c.requireActiveOrHeld("mute"); err != nil {
		return err
	}
	if err := c.handle.Mute(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.muted = true
	c.mu.Unlock()
	return nil
}

// Unmute re-enables the microphone.
func (c *Call) Unmute(ctx context.Context) error {
	if err := c.requireActiveOrHeld("unmute"); err != nil {
		return err
	}
	if err := c.handle.Unmute(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.muted = false
	c.mu.Unlock()
	return nil
}

// SendDTMF relays DTMF digits over the signaling channel.
func (c *Call) SendDTMF(ctx context.Context, digits string) error {
	if err := c.requireActiveOrHeld("send DTMF"); err != nil {
		return err
	}
	return c.handle.SendDTMF(ctx, digits)
}

func (c *Call) requireActiveOrHeld(action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CallActive && c.state != CallHeld {
		return &InvalidStateTransitionError{Action: action, From: c.state}
	}
	return nil
}
