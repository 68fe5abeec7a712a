//go:build callkit

package callkit

/*
#cgo LDFLAGS: -L. -lcallkitshim
#include <stdlib.h>
#include "callkit_shim.h"

extern void goCallKitEvent(int action, const char* sessionID, const char* payload);

static void callkit_init(void) {
    ck_set_event_callback(goCallKitEvent);
}
*/
import "C"

import (
	"encoding/json"
	"fmt"
	"sync"
	"unsafe"
)

// service drives the platform call UI through the C shim.
type service struct {
	events chan Event
}

var (
	activeMu sync.Mutex
	active   *service
)

func newService() Service {
	s := &service{events: make(chan Event, 16)}
	activeMu.Lock()
	active = s
	activeMu.Unlock()
	C.callkit_init()
	return s
}

//export goCallKitEvent
func goCallKitEvent(action C.int, sessionID, payload *C.char) {
	activeMu.Lock()
	s := active
	activeMu.Unlock()
	if s == nil {
		return
	}
	ev := Event{Action: Action(action), SessionID: C.GoString(sessionID)}
	if payload != nil {
		var meta map[string]string
		if err := json.Unmarshal([]byte(C.GoString(payload)), &meta); err == nil {
			ev.Payload = meta
		}
	}
	select {
	case s.events <- ev:
	default:
	}
}

func ckError(code C.int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("callkit shim error %d", int(code))
}

func (s *service) Supported() bool { return true }

func (s *service) StartOutgoingCall(sessionID, handle, displayName string) error {
	cs, ch, cd := C.CString(sessionID), C.CString(handle), C.CString(displayName)
	defer C.free(unsafe.Pointer(cs))
	defer C.free(unsafe.Pointer(ch))
	defer C.free(unsafe.Pointer(cd))
	return ckError(C.ck_start_outgoing(cs, ch, cd))
}

func (s *service) ReportIncomingCall(sessionID, handle, displayName string) error {
	cs, ch, cd := C.CString(sessionID), C.CString(handle), C.CString(displayName)
	defer C.free(unsafe.Pointer(cs))
	defer C.free(unsafe.Pointer(ch))
	defer C.free(unsafe.Pointer(cd))
	return ckError(C.ck_report_incoming(cs, ch, cd))
}

func (s *service) UpdateCall(sessionID, handle, displayName string) error {
	cs, ch, cd := C.CString(sessionID), C.CString(handle), C.CString(displayName)
	defer C.free(unsafe.Pointer(cs))
	defer C.free(unsafe.Pointer(ch))
	defer C.free(unsafe.Pointer(cd))
	return ckError(C.ck_update_call(cs, ch, cd))
}

func (s *service) AnswerCall(sessionID string) error {
	cs := C.CString(sessionID)
	defer C.free(unsafe.Pointer(cs))
	return ckError(C.ck_answer_call(cs))
}

func (s *service) EndCall(sessionID string) error {
	cs := C.CString(sessionID)
	defer C.free(unsafe.Pointer(cs))
	return ckError(C.ck_end_call(cs))
}

func (s *service) ReportConnected(sessionID string) error {
	cs := C.CString(sessionID)
	defer C.free(unsafe.Pointer(cs))
	return ckError(C.ck_report_connected(cs))
}

func (s *service) ReportEnded(sessionID string, reason EndReason) error {
	cs := C.CString(sessionID)
	defer C.free(unsafe.Pointer(cs))
	return ckError(C.ck_report_ended(cs, C.int(reason)))
}

func (s *service) ActiveCalls() []string {
	raw := C.ck_active_calls()
	if raw == nil {
		return nil
	}
	defer C.free(unsafe.Pointer(raw))
	var ids []string
	if err := json.Unmarshal([]byte(C.GoString(raw)), &ids); err != nil {
		return nil
	}
	return ids
}

func (s *service) Events() <-chan Event { return s.events }

func (s *service) Close() {
	activeMu.Lock()
	if active == s {
		active = nil
	}
	activeMu.Unlock()
}
