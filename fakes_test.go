package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// opTrace records the order of cross-component operations so tests can assert
// sequencing, not just counts.
type opTrace struct {
	mu    sync.Mutex
	items []string
}

func (t *opTrace) add(op string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, op)
}

func (t *opTrace) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.items))
	copy(out, t.items)
	return out
}

type fakeSignalingCall struct {
	id             string
	callerName     string
	callerNumber   string
	pushOriginated bool
	trace          *opTrace

	mu        sync.Mutex
	answered  int
	hungup    int
	held      int
	unheld    int
	muted     int
	unmuted   int
	dtmf      string
	answerErr error
	hangupErr error
	holdErr   error
	muteErr   error
}

func (c *fakeSignalingCall) ID() string           { return c.id }
func (c *fakeSignalingCall) CallerName() string   { return c.callerName }
func (c *fakeSignalingCall) CallerNumber() string { return c.callerNumber }
func (c *fakeSignalingCall) PushOriginated() bool { return c.pushOriginated }

func (c *fakeSignalingCall) Answer(ctx context.Context, headers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return c.answerErr
	}
	c.answered++
	c.trace.add("signaling-answer")
	return nil
}

func (c *fakeSignalingCall) Hangup(ctx context.Context, headers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hangupErr != nil {
		return c.hangupErr
	}
	c.hungup++
	c.trace.add("signaling-hangup")
	return nil
}

func (c *fakeSignalingCall) Hold(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holdErr != nil {
		return c.holdErr
	}
	c.held++
	return nil
}

func (c *fakeSignalingCall) Unhold(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unheld++
	return nil
}

func (c *fakeSignalingCall) Mute(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.muteErr != nil {
		return c.muteErr
	}
	c.muted++
	return nil
}

func (c *fakeSignalingCall) Unmute(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unmuted++
	return nil
}

func (c *fakeSignalingCall) SendDTMF(ctx context.Context, digits string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dtmf += digits
	return nil
}

func (c *fakeSignalingCall) answerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

func (c *fakeSignalingCall) hangupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hungup
}

type fakeSignalingClient struct {
	events chan SignalingEvent
	trace  *opTrace

	mu          sync.Mutex
	applied     []PushPayload
	connects    int
	disconnects int
	connectErr  error
	newCallErr  error
	newCalls    []*fakeSignalingCall
	pushEnabled bool
}

func newFakeSignalingClient() *fakeSignalingClient {
	return &fakeSignalingClient{events: make(chan SignalingEvent, 16)}
}

func (c *fakeSignalingClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connects++
	c.trace.add("connect")
	return nil
}

func (c *fakeSignalingClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *fakeSignalingClient) ApplyPushPayload(p PushPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = append(c.applied, p)
	c.trace.add("apply-push")
}

func (c *fakeSignalingClient) NewCall(ctx context.Context, opts CallOptions) (SignalingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.newCallErr != nil {
		return nil, c.newCallErr
	}
	h := &fakeSignalingCall{id: "out-" + opts.Destination}
	c.newCalls = append(c.newCalls, h)
	return h, nil
}

func (c *fakeSignalingClient) EnablePush(ctx context.Context, deviceToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushEnabled = true
	return nil
}

func (c *fakeSignalingClient) DisablePush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushEnabled = false
	return nil
}

func (c *fakeSignalingClient) Events() <-chan SignalingEvent { return c.events }

func (c *fakeSignalingClient) appliedPayloads() []PushPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PushPayload, len(c.applied))
	copy(out, c.applied)
	return out
}

func (c *fakeSignalingClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// fakeClientFactory builds one fresh fakeSignalingClient per connect attempt
// and remembers every config it was handed.
type fakeClientFactory struct {
	mu       sync.Mutex
	cfgs     []SignalingConfig
	clients  []*fakeSignalingClient
	buildErr error
	trace    *opTrace
}

func (f *fakeClientFactory) factory(cfg SignalingConfig) (SignalingClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	cl := newFakeSignalingClient()
	cl.trace = f.trace
	f.cfgs = append(f.cfgs, cfg)
	f.clients = append(f.clients, cl)
	return cl, nil
}

func (f *fakeClientFactory) built() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeClientFactory) client(i int) *fakeSignalingClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func (f *fakeClientFactory) config(i int) SignalingConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfgs[i]
}

type fakeBridge struct {
	available bool
	events    chan BridgeEvent
	trace     *opTrace

	mu            sync.Mutex
	started       []string
	incoming      []string
	answered      []string
	endedCalls    []string
	connectedIDs  []string
	endedReports  map[string]CallEndReason
	updated       []string
	incomingErr   error
	answerErr     error
	endErr        error
	connectedErr  error
	startErr      error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		available:    true,
		events:       make(chan BridgeEvent, 16),
		endedReports: map[string]CallEndReason{},
	}
}

func (b *fakeBridge) Available() bool { return b.available }

func (b *fakeBridge) StartOutgoingCall(ctx context.Context, nativeID, handle, displayName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	b.started = append(b.started, nativeID)
	return nil
}

func (b *fakeBridge) ReportIncomingCall(ctx context.Context, nativeID, handle, displayName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.incomingErr != nil {
		return b.incomingErr
	}
	b.incoming = append(b.incoming, nativeID)
	return nil
}

func (b *fakeBridge) AnswerCall(ctx context.Context, nativeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.answerErr != nil {
		return b.answerErr
	}
	b.answered = append(b.answered, nativeID)
	return nil
}

func (b *fakeBridge) EndCall(ctx context.Context, nativeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.endErr != nil {
		return b.endErr
	}
	b.endedCalls = append(b.endedCalls, nativeID)
	return nil
}

func (b *fakeBridge) ReportCallConnected(ctx context.Context, nativeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectedErr != nil {
		return b.connectedErr
	}
	b.connectedIDs = append(b.connectedIDs, nativeID)
	b.trace.add("report-connected")
	return nil
}

func (b *fakeBridge) ReportCallEnded(ctx context.Context, nativeID string, reason CallEndReason) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endedReports[nativeID] = reason
	b.trace.add("report-ended")
	return nil
}

func (b *fakeBridge) UpdateCall(ctx context.Context, nativeID, handle, displayName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updated = append(b.updated, nativeID)
	return nil
}

func (b *fakeBridge) GetActiveCalls(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.incoming))
	copy(out, b.incoming)
	return out, nil
}

func (b *fakeBridge) Events() <-chan BridgeEvent { return b.events }

func (b *fakeBridge) incomingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.incoming)
}

func (b *fakeBridge) connectedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.connectedIDs)
}

func (b *fakeBridge) endedReportCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.endedReports)
}

func (b *fakeBridge) endedReason(nativeID string) (CallEndReason, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.endedReports[nativeID]
	return r, ok
}

func (b *fakeBridge) updateCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.updated)
}

func (b *fakeBridge) endCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.endedCalls)
}

type memCredStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCredStore() *memCredStore {
	return &memCredStore{data: map[string]string{}}
}

func (s *memCredStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *memCredStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memCredStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

type memPushStore struct {
	mu      sync.Mutex
	pending *PendingNativeAction
	token   string
	cleared int
}

func (s *memPushStore) PendingAction() (*PendingNativeAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, nil
}

func (s *memPushStore) ClearPendingAction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.cleared++
	return nil
}

func (s *memPushStore) DeviceToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *memPushStore) clearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

// testRig wires the full component graph around fakes: a factory-backed
// session, a fake bridge behind the telephony coordinator, and the registry.
type testRig struct {
	trace     *opTrace
	factory   *fakeClientFactory
	creds     *memCredStore
	push      *memPushStore
	bridge    *fakeBridge
	session   *SessionManager
	telephony *TelephonyUICoordinator
	registry  *CallRegistry
}

func newTestRig(connectReportDelay time.Duration) *testRig {
	rig := &testRig{
		trace: &opTrace{},
		creds: newMemCredStore(),
		push:  &memPushStore{},
	}
	rig.factory = &fakeClientFactory{trace: rig.trace}
	rig.bridge = newFakeBridge()
	rig.bridge.trace = rig.trace
	log := testLogger()
	rig.session = NewSessionManager(rig.factory.factory, rig.creds, rig.push, nil, log)
	rig.telephony = NewTelephonyUICoordinator(rig.bridge, rig.session, connectReportDelay, nil, log)
	rig.registry = NewCallRegistry(rig.session, rig.telephony, nil, log)
	return rig
}

// connectRig drives the session to connected through the fake factory.
func (r *testRig) connect(t *testing.T) *fakeSignalingClient {
	t.Helper()
	require.NoError(t, r.session.ConnectWithCredential(context.Background(), "alice", "secret"))
	r.session.HandleReady()
	require.Equal(t, StateConnected, r.session.State())
	return r.factory.client(r.factory.built() - 1)
}

// fakeDelegate stands in for the telephony coordinator in call-level tests.
type fakeDelegate struct {
	available bool

	mu      sync.Mutex
	answers int
	ends    int
}

func (d *fakeDelegate) NativeAvailable() bool { return d.available }

func (d *fakeDelegate) RequestAnswer(ctx context.Context, c *Call) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.answers++
	return nil
}

func (d *fakeDelegate) RequestEnd(ctx context.Context, c *Call) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ends++
	return nil
}
