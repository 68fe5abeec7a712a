package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIniCredentialStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.ini")
	store := NewIniCredentialStore(path)

	_, ok := store.Get("username")
	assert.False(t, ok)

	require.NoError(t, store.Set("username", "alice"))
	require.NoError(t, store.Set("password", "secret"))

	// a fresh store instance reads what the first one wrote
	reopened := NewIniCredentialStore(path)
	u, ok := reopened.Get("username")
	require.True(t, ok)
	assert.Equal(t, "alice", u)

	require.NoError(t, reopened.Remove("password"))
	_, ok = reopened.Get("password")
	assert.False(t, ok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStoredCredentialUsable(t *testing.T) {
	assert.False(t, StoredCredential{}.Usable())
	assert.False(t, StoredCredential{Username: "alice"}.Usable())
	assert.True(t, StoredCredential{Username: "alice", Password: "secret"}.Usable())
	assert.True(t, StoredCredential{Token: "tok"}.Usable())
}

func TestSaveStoredCredentialSwitchesAuthMode(t *testing.T) {
	store := newMemCredStore()

	require.NoError(t, saveStoredCredential(store, StoredCredential{Username: "alice", Password: "secret", DeviceToken: "dev"}))
	cred, ok := loadStoredCredential(store)
	require.True(t, ok)
	assert.Equal(t, "alice", cred.Username)
	assert.Equal(t, "dev", cred.DeviceToken)

	// a token login must invalidate the password material
	require.NoError(t, saveStoredCredential(store, StoredCredential{Token: "tok"}))
	cred, ok = loadStoredCredential(store)
	require.True(t, ok)
	assert.Equal(t, "tok", cred.Token)
	assert.Empty(t, cred.Username)
	assert.Empty(t, cred.Password)

	// and a password login must invalidate the token
	require.NoError(t, saveStoredCredential(store, StoredCredential{Username: "bob", Password: "hunter2"}))
	cred, _ = loadStoredCredential(store)
	assert.Empty(t, cred.Token)
	assert.Equal(t, "bob", cred.Username)
}
