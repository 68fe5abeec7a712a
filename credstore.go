package main

import (
	"fmt"
	"os"
	"sync"

	ini "gopkg.in/ini.v1"
)

// Credential store keys. The store holds credential and token material only,
// never call state.
const (
	credKeyUsername    = "username"
	credKeyPassword    = "password"
	credKeyToken       = "token"
	credKeyDeviceToken = "push_device_token"
)

// StoredCredential is the persisted record used for reconnection. Either
// Username/Password or Token is set, mirroring the two auth modes.
type StoredCredential struct {
	Username    string
	Password    string
	Token       string
	DeviceToken string
}

// Usable reports whether the record carries enough material to reconnect.
func (c StoredCredential) Usable() bool {
	return (c.Username != "" && c.Password != "") || c.Token != ""
}

// CredentialStore is the persisted key-value collaborator. The production
// implementation keeps one ini file on disk.
type CredentialStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// IniCredentialStore persists key-value pairs in an ini file.
type IniCredentialStore struct {
	mu   sync.Mutex
	path string
}

func NewIniCredentialStore(path string) *IniCredentialStore {
	return &IniCredentialStore{path: path}
}

func (s *IniCredentialStore) load() (*ini.File, error) {
	f, err := ini.LooseLoad(s.path)
	if err != nil {
		return nil, fmt.Errorf("load credential store: %w", err)
	}
	return f, nil
}

func (s *IniCredentialStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return "", false
	}
	sec := f.Section("")
	if !sec.HasKey(key) {
		return "", false
	}
	return sec.Key(key).String(), true
}

func (s *IniCredentialStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	f.Section("").Key(key).SetValue(value)
	return s.save(f)
}

func (s *IniCredentialStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	f.Section("").DeleteKey(key)
	return s.save(f)
}

func (s *IniCredentialStore) save(f *ini.File) error {
	if err := f.SaveTo(s.path); err != nil {
		return fmt.Errorf("save credential store: %w", err)
	}
	// credentials live here, keep the file private
	return os.Chmod(s.path, 0o600)
}

// loadStoredCredential assembles the typed record from the raw store. A nil
// store holds nothing.
func loadStoredCredential(store CredentialStore) (StoredCredential, bool) {
	var c StoredCredential
	if store == nil {
		return c, false
	}
	c.Username, _ = store.Get(credKeyUsername)
	c.Password, _ = store.Get(credKeyPassword)
	c.Token, _ = store.Get(credKeyToken)
	c.DeviceToken, _ = store.Get(credKeyDeviceToken)
	return c, c.Usable()
}

// saveStoredCredential writes the record after a successful login. Switching
// auth modes clears the other mode's material so a stale token can never win
// over a fresh password (and vice versa).
func saveStoredCredential(store CredentialStore, c StoredCredential) error {
	if c.Token != "" {
		if err := store.Remove(credKeyUsername); err != nil {
			return err
		}
		if err := store.Remove(credKeyPassword); err != nil {
			return err
		}
		if err := store.Set(credKeyToken, c.Token); err != nil {
			return err
		}
	} else {
		if err := store.Remove(credKeyToken); err != nil {
			return err
		}
		if err := store.Set(credKeyUsername, c.Username); err != nil {
			return err
		}
		if err := store.Set(credKeyPassword, c.Password); err != nil {
			return err
		}
	}
	if c.DeviceToken != "" {
		return store.Set(credKeyDeviceToken, c.DeviceToken)
	}
	return nil
}
