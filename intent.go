package main

import "sync"

// IntentKind tags the action a pending intent will apply to the next
// incoming call.
type IntentKind int

const (
	// IntentAutoAnswer answers the next incoming call as soon as its
	// signaling invite arrives.
	IntentAutoAnswer IntentKind = iota
	// IntentAutoEnd declines the next incoming call as soon as its
	// signaling invite arrives.
	IntentAutoEnd
)

func (k IntentKind) String() string {
	if k == IntentAutoEnd {
		return "auto-end"
	}
	return "auto-answer"
}

// PendingIntent is a once-consumable record of a native user action that
// arrived before the corresponding signaling call existed. Setting a new
// intent replaces an unconsumed one; consuming succeeds at most once.
type PendingIntent struct {
	mu    sync.Mutex
	kind  IntentKind
	armed bool
}

// Set arms the intent with the given kind, replacing any unconsumed value.
func (p *PendingIntent) Set(kind IntentKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kind = kind
	p.armed = true
}

// Consume returns the armed kind exactly once.
func (p *PendingIntent) Consume() (IntentKind, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed {
		return 0, false
	}
	p.armed = false
	return p.kind, true
}

// Clear drops any unconsumed value.
func (p *PendingIntent) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = false
}

// Armed reports whether an unconsumed value exists.
func (p *PendingIntent) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}
