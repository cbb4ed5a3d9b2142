package hub

import (
	"sync"
	"time"

	"github.com/ercoshn4-droid/vnc-server/internal/transport"
)

// Session binds one device to the one controller receiving its stream.
// Controller is a weak handle reference; it is not cleared when the
// controller disconnects, so a session can outlive its controller until
// a new start replaces it (frames sent to a detached handle are dropped
// by the bus).
type Session struct {
	DeviceID   string
	Controller transport.Handle
	StartedAt  time.Time
}

// Sessions tracks at most one active remote-display session per device.
type Sessions struct {
	mu       sync.Mutex
	byDevice map[string]Session
}

// NewSessions returns an empty Sessions map.
func NewSessions() *Sessions {
	return &Sessions{byDevice: make(map[string]Session)}
}

// Start creates the session for deviceID, silently replacing any
// existing one. Replacement is deliberate: a device is captured by the
// most recent requester, and in-flight frames follow the new controller
// without notifying the old one.
func (s *Sessions) Start(deviceID string, controller transport.Handle) Session {
	sess := Session{
		DeviceID:   deviceID,
		Controller: controller,
		StartedAt:  time.Now(),
	}
	s.mu.Lock()
	s.byDevice[deviceID] = sess
	s.mu.Unlock()
	return sess
}

// Lookup returns the session for deviceID, if any.
func (s *Sessions) Lookup(deviceID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byDevice[deviceID]
	return sess, ok
}

// End removes the session for deviceID. Ending a session that does not
// exist is a no-op.
func (s *Sessions) End(deviceID string) {
	s.mu.Lock()
	delete(s.byDevice, deviceID)
	s.mu.Unlock()
}

// Count returns the number of active sessions.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byDevice)
}
