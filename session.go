package main

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConnectionState represents the session connection machine:
// disconnected → connecting → connected, connecting → error on handshake
// failure, any state → disconnected on explicit logout.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SignalingClientFactory builds one signaling client for the given config.
// Injected so tests can substitute a fake client.
type SignalingClientFactory func(cfg SignalingConfig) (SignalingClient, error)

// SessionManager owns the single underlying signaling client, drives the
// connection state machine, selects credentials for reconnection, and
// pre-processes pending push payloads before the handshake.
type SessionManager struct {
	id      string
	factory SignalingClientFactory
	creds   CredentialStore
	push    PushStore
	metrics *Metrics
	log     *logrus.Entry

	mu           sync.Mutex
	state        ConnectionState
	client       SignalingClient
	activeConfig *SignalingConfig
	pendingPush  *PushPayload
	listeners    map[int]func(ConnectionState)
	nextSub      int
	disposed     bool

	// onClientReplaced lets the app loop start pumping a fresh client's
	// events before its handshake runs.
	onClientReplaced func(SignalingClient)
}

func NewSessionManager(factory SignalingClientFactory, creds CredentialStore, push PushStore, metrics *Metrics, log *logrus.Entry) *SessionManager {
	id := uuid.NewString()
	return &SessionManager{
		id:        id,
		factory:   factory,
		creds:     creds,
		push:      push,
		metrics:   metrics,
		log:       log.WithField("session", id),
		state:     StateDisconnected,
		listeners: map[int]func(ConnectionState){},
	}
}

func (s *SessionManager) ID() string { return s.id }

// SetClientListener registers the callback invoked whenever a new client
// instance is constructed.
func (s *SessionManager) SetClientListener(fn func(SignalingClient)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClientReplaced = fn
}

func (s *SessionManager) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Client returns the current signaling client, or nil before the first
// connect attempt. Read-only access for the registry.
func (s *SessionManager) Client() SignalingClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// OnState registers a connection-state listener and returns a detach func.
func (s *SessionManager) OnState(fn func(ConnectionState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *SessionManager) setState(to ConnectionState) {
	s.mu.Lock()
	if s.state == to {
		s.mu.Unlock()
		return
	}
	s.log.Infof("session state %s -> %s", s.state, to)
	s.state = to
	fns := make([]func(ConnectionState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SessionState.Set(float64(to))
	}
	for _, fn := range fns {
		fn(to)
	}
}

// ConnectWithCredential connects using a username/password pair.
func (s *SessionManager) ConnectWithCredential(ctx context.Context, username, password string) error {
	cfg := SignalingConfig{Username: username, Password: password}
	return s.connect(ctx, cfg)
}

// ConnectWithToken connects using a bearer token.
func (s *SessionManager) ConnectWithToken(ctx context.Context, token string) error {
	cfg := SignalingConfig{Token: token}
	return s.connect(ctx, cfg)
}

// connect tears down any prior client, builds a new one, applies any pending
// push payload, and only then invokes the handshake. The payload must reach
// the client before Connect because the handshake needs push-derived call
// metadata at connect time.
func (s *SessionManager) connect(ctx context.Context, cfg SignalingConfig) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	old := s.client
	s.client = nil
	s.activeConfig = &cfg
	s.mu.Unlock()

	if old != nil {
		if err := old.Disconnect(ctx); err != nil {
			s.log.Warnf("discarding prior client: disconnect failed: %v", err)
		}
	}

	s.setState(StateConnecting)

	if s.push != nil && cfg.DeviceToken == "" {
		if token, err := s.push.DeviceToken(); err == nil && token != "" {
			cfg.DeviceToken = token
		}
	}

	cl, err := s.factory(cfg)
	if err != nil {
		s.setState(StateError)
		return &ConnectionFailureError{Err: err}
	}

	s.mu.Lock()
	s.client = cl
	pending := s.pendingPush
	replaced := s.onClientReplaced
	s.mu.Unlock()

	if pending != nil {
		cl.ApplyPushPayload(*pending)
	}
	if replaced != nil {
		replaced(cl)
	}

	if err := cl.Connect(ctx); err != nil {
		s.setState(StateError)
		return &ConnectionFailureError{Err: err}
	}
	return nil
}

// HandleReady flips the session to connected once the client reports a
// completed handshake, and persists the credential that won.
func (s *SessionManager) HandleReady() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.pendingPush = nil
	cfg := s.activeConfig
	cl := s.client
	s.mu.Unlock()

	s.setState(StateConnected)

	if cfg == nil {
		return
	}
	if s.creds != nil {
		rec := StoredCredential{
			Username:    cfg.Username,
			Password:    cfg.Password,
			Token:       cfg.Token,
			DeviceToken: cfg.DeviceToken,
		}
		if rec.Usable() {
			if err := saveStoredCredential(s.creds, rec); err != nil {
				s.log.Warnf("persisting credential failed: %v", err)
			}
		}
	}
	if cl != nil && cfg.DeviceToken != "" {
		if err := cl.EnablePush(context.Background(), cfg.DeviceToken); err != nil {
			s.log.Warnf("enabling push notifications failed: %v", err)
		}
	}
}

// HandleClientError records a handshake failure on the state stream.
func (s *SessionManager) HandleClientError(err error) {
	s.log.Warnf("signaling client error: %v", err)
	if s.State() == StateConnecting {
		s.setState(StateError)
	}
}

// HandlePushNotification routes an incoming push payload. With a live client
// the payload is applied immediately; without one, stored credentials (if
// any, and only while disconnected) trigger a full connect that will apply
// the retained payload per the pre-handshake ordering; otherwise the payload
// is retained for the next connect attempt.
func (s *SessionManager) HandlePushNotification(ctx context.Context, payload PushPayload) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.client != nil {
		cl := s.client
		s.mu.Unlock()
		cl.ApplyPushPayload(payload)
		return nil
	}
	s.pendingPush = &payload
	state := s.state
	s.mu.Unlock()

	if state != StateDisconnected {
		return nil
	}
	cred, ok := loadStoredCredential(s.creds)
	if !ok {
		s.log.Info("push payload retained: no client and no stored credentials")
		return nil
	}
	return s.connectStored(ctx, cred)
}

// ReconnectFromStored connects using the persisted credential record.
func (s *SessionManager) ReconnectFromStored(ctx context.Context) error {
	cred, ok := loadStoredCredential(s.creds)
	if !ok {
		return ErrNotConnected
	}
	return s.connectStored(ctx, cred)
}

func (s *SessionManager) connectStored(ctx context.Context, cred StoredCredential) error {
	if s.metrics != nil {
		s.metrics.Reconnects.Inc()
	}
	cfg := SignalingConfig{
		Username:    cred.Username,
		Password:    cred.Password,
		Token:       cred.Token,
		DeviceToken: cred.DeviceToken,
	}
	return s.connect(ctx, cfg)
}

// DisablePushNotifications is a no-op unless currently connected.
func (s *SessionManager) DisablePushNotifications(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.state != StateConnected || s.client == nil {
		s.mu.Unlock()
		return nil
	}
	cl := s.client
	s.mu.Unlock()
	return cl.DisablePush(ctx)
}

// Disconnect performs an explicit logout from any state.
func (s *SessionManager) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	old := s.client
	s.client = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Disconnect(ctx); err != nil {
			s.log.Warnf("logout disconnect failed: %v", err)
		}
	}
	s.setState(StateDisconnected)
	return nil
}

// Dispose disconnects best-effort and completes all state streams. Any
// method called afterwards fails with ErrDisposed.
func (s *SessionManager) Dispose(ctx context.Context) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	old := s.client
	s.client = nil
	s.disposed = true
	s.mu.Unlock()

	if old != nil {
		if err := old.Disconnect(ctx); err != nil {
			s.log.Warnf("dispose disconnect failed: %v", err)
		}
	}
	s.setState(StateDisconnected)

	s.mu.Lock()
	s.listeners = map[int]func(ConnectionState){}
	s.mu.Unlock()
}
