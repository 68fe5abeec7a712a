package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// PendingNativeAction is the single record the native layer writes when the
// user acts on a push-announced call before this process was running.
type PendingNativeAction struct {
	Action   string            `json:"action"` // "answer" or "end"
	Metadata map[string]string `json:"metadata"`
}

// payload converts the recorded metadata back into a push payload, when the
// record carries enough identifying information to route it into the
// telephony coordinator instead of connecting blindly.
func (a *PendingNativeAction) payload() (*PushPayload, bool) {
	if a == nil || a.Metadata["call_id"] == "" {
		return nil, false
	}
	return &PushPayload{
		CallID:       a.Metadata["call_id"],
		CallerName:   a.Metadata["caller_name"],
		CallerNumber: a.Metadata["caller_number"],
		Metadata:     a.Metadata,
	}, true
}

// PushStore is the push-delivery collaborator: one fetchable/clearable
// pending action plus the device token.
type PushStore interface {
	PendingAction() (*PendingNativeAction, error)
	ClearPendingAction() error
	DeviceToken() (string, error)
}

// FilePushStore reads the pending-action record and device token from files
// the native layer maintains.
type FilePushStore struct {
	mu         sync.Mutex
	actionPath string
	tokenPath  string
}

func NewFilePushStore(actionPath, tokenPath string) *FilePushStore {
	return &FilePushStore{actionPath: actionPath, tokenPath: tokenPath}
}

func (s *FilePushStore) PendingAction() (*PendingNativeAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.actionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending action: %w", err)
	}
	var rec PendingNativeAction
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse pending action: %w", err)
	}
	return &rec, nil
}

func (s *FilePushStore) ClearPendingAction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.actionPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear pending action: %w", err)
	}
	return nil
}

func (s *FilePushStore) DeviceToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read device token: %w", err)
	}
	return string(data), nil
}
