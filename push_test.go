package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePushStorePendingAction(t *testing.T) {
	dir := t.TempDir()
	actionPath := filepath.Join(dir, "pending_action.json")
	store := NewFilePushStore(actionPath, filepath.Join(dir, "token"))

	rec, err := store.PendingAction()
	require.NoError(t, err)
	assert.Nil(t, rec)

	data := `{"action":"answer","metadata":{"call_id":"c1","caller_name":"Alice"}}`
	require.NoError(t, os.WriteFile(actionPath, []byte(data), 0o644))

	rec, err = store.PendingAction()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "answer", rec.Action)
	assert.Equal(t, "c1", rec.Metadata["call_id"])

	require.NoError(t, store.ClearPendingAction())
	rec, err = store.PendingAction()
	require.NoError(t, err)
	assert.Nil(t, rec)

	// clearing an already absent record is not an error
	require.NoError(t, store.ClearPendingAction())
}

func TestFilePushStorePendingActionMalformed(t *testing.T) {
	dir := t.TempDir()
	actionPath := filepath.Join(dir, "pending_action.json")
	store := NewFilePushStore(actionPath, filepath.Join(dir, "token"))

	require.NoError(t, os.WriteFile(actionPath, []byte("{not json"), 0o644))

	_, err := store.PendingAction()
	require.Error(t, err)
}

func TestFilePushStoreDeviceToken(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	store := NewFilePushStore(filepath.Join(dir, "pending_action.json"), tokenPath)

	token, err := store.DeviceToken()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, os.WriteFile(tokenPath, []byte("device-42"), 0o644))
	token, err = store.DeviceToken()
	require.NoError(t, err)
	assert.Equal(t, "device-42", token)
}

func TestPendingNativeActionPayload(t *testing.T) {
	var nilRec *PendingNativeAction
	_, ok := nilRec.payload()
	assert.False(t, ok)

	_, ok = (&PendingNativeAction{Action: "answer"}).payload()
	assert.False(t, ok)

	p, ok := (&PendingNativeAction{
		Action:   "answer",
		Metadata: map[string]string{"call_id": "c1", "caller_name": "Alice", "caller_number": "100"},
	}).payload()
	require.True(t, ok)
	assert.Equal(t, "c1", p.CallID)
	assert.Equal(t, "Alice", p.CallerName)
	assert.Equal(t, "100", p.CallerNumber)
}
