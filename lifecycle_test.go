package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLifecycle(rig *testRig, grace time.Duration) *AppLifecycleCoordinator {
	return NewAppLifecycleCoordinator(rig.session, rig.registry, rig.telephony, rig.push, grace, testLogger())
}

func TestLifecycleBackgroundDisconnectsWhenIdle(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	l := newLifecycle(rig, time.Millisecond)
	rig.connect(t)

	l.HandleTransition(context.Background(), AppBackground)

	assert.Equal(t, StateDisconnected, rig.session.State())
}

func TestLifecycleBackgroundKeepsLiveCall(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	rig.bridge.available = false
	l := newLifecycle(rig, time.Millisecond)
	rig.connect(t)
	rig.registry.HandleIncoming(&fakeSignalingCall{id: "c1"}, nil)

	l.HandleTransition(context.Background(), AppBackground)

	assert.Equal(t, StateConnected, rig.session.State())
}

func TestLifecycleBackgroundSuppressedByFlag(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	l := newLifecycle(rig, time.Millisecond)
	rig.connect(t)
	l.SetSuppressBackgroundDisconnect(true)

	l.HandleTransition(context.Background(), AppBackground)

	assert.Equal(t, StateConnected, rig.session.State())
}

func TestLifecycleBackgroundKeepsPushCallInFlight(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	l := newLifecycle(rig, time.Millisecond)
	rig.connect(t)
	rig.telephony.HandlePushReceived(context.Background(), "native-1", &PushPayload{CallID: "c1"})

	l.HandleTransition(context.Background(), AppBackground)

	assert.Equal(t, StateConnected, rig.session.State())
}

func TestLifecycleBackgroundGraceWindow(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	l := newLifecycle(rig, 10*time.Millisecond)
	rig.connect(t)
	rig.push.pending = &PendingNativeAction{Action: "answer", Metadata: map[string]string{"call_id": "c1"}}

	l.HandleTransition(context.Background(), AppBackground)

	// the marker delays the decision; the session survives the window
	assert.Equal(t, StateConnected, rig.session.State())
	eventually(t, func() bool { return rig.session.State() == StateDisconnected }, "disconnect after grace")
}

func TestLifecycleGraceWindowAbortsWhenCallArrives(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	rig.bridge.available = false
	l := newLifecycle(rig, 10*time.Millisecond)
	rig.connect(t)
	rig.push.pending = &PendingNativeAction{Action: "answer", Metadata: map[string]string{"call_id": "c1"}}

	l.HandleTransition(context.Background(), AppBackground)
	rig.registry.HandleIncoming(&fakeSignalingCall{id: "c1"}, nil)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateConnected, rig.session.State())
}

func TestLifecycleForegroundDrainsPendingAction(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	l := newLifecycle(rig, time.Millisecond)
	require.NoError(t, rig.creds.Set(credKeyToken, "tok"))
	rig.push.pending = &PendingNativeAction{Action: "answer", Metadata: map[string]string{"call_id": "c1"}}

	l.HandleTransition(context.Background(), AppBackground)
	l.HandleTransition(context.Background(), AppActive)

	assert.Equal(t, 1, rig.push.clearCount())
	assert.True(t, l.HandlingForegroundPushCall())
	assert.True(t, rig.telephony.intent.Armed())
	// the drain itself initiated the connection; no second attempt
	assert.Equal(t, 1, rig.factory.built())
}

func TestLifecycleForegroundAutoReconnects(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	l := newLifecycle(rig, time.Millisecond)
	require.NoError(t, rig.creds.Set(credKeyToken, "tok"))

	l.HandleTransition(context.Background(), AppBackground)
	l.HandleTransition(context.Background(), AppActive)

	assert.Equal(t, 1, rig.factory.built())
	assert.False(t, l.HandlingForegroundPushCall())
}

func TestLifecycleForegroundSkipsReconnectWhenConnected(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	l := newLifecycle(rig, time.Millisecond)
	rig.connect(t)
	rig.registry.HandleIncoming(&fakeSignalingCall{id: "c1"}, nil)

	l.HandleTransition(context.Background(), AppBackground)
	l.HandleTransition(context.Background(), AppActive)

	// still on the original client
	assert.Equal(t, 1, rig.factory.built())
}

func TestLifecycleNoActionWithoutStoredCredentials(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	l := newLifecycle(rig, time.Millisecond)

	l.HandleTransition(context.Background(), AppBackground)
	l.HandleTransition(context.Background(), AppActive)

	assert.Equal(t, 0, rig.factory.built())
	assert.Equal(t, StateDisconnected, rig.session.State())
}

func TestLifecycleResetFlagsOnlyWhenIdle(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	rig.bridge.available = false
	l := newLifecycle(rig, time.Millisecond)

	l.SetSuppressBackgroundDisconnect(true)
	l.handlingForegroundPushCall.Set()
	rig.registry.HandleIncoming(&fakeSignalingCall{id: "c1"}, nil)

	l.ResetFlagsIfIdle()
	assert.True(t, l.SuppressBackgroundDisconnect())
	assert.True(t, l.HandlingForegroundPushCall())

	// the registered calls-changed hook resets the flags once the last call ends
	rig.registry.HandleCallState("c1", "disconnected")
	assert.False(t, l.SuppressBackgroundDisconnect())
	assert.False(t, l.HandlingForegroundPushCall())
}

func TestLifecycleInactiveIsNeutral(t *testing.T) {
	rig := newTestRig(time.Millisecond)
	l := newLifecycle(rig, time.Millisecond)
	rig.connect(t)

	l.HandleTransition(context.Background(), AppInactive)
	assert.Equal(t, StateConnected, rig.session.State())

	// backgrounding through the inactive hop still tears the session down
	l.HandleTransition(context.Background(), AppBackground)
	assert.Equal(t, StateDisconnected, rig.session.State())
}
