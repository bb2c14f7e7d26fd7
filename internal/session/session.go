// Package session implements the shared challenge/session store used by the
// auth and presence services. It owns all transient login state: pending
// bootstrap challenges keyed by auth token, and per-connection sessions with
// their state machine. Nothing in this package is ever persisted.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// State is the lifecycle position of a session. Transitions are one-way:
// a session never reverts to an earlier state.
type State int

const (
	// StateUnauthenticated: challenge issued, no identity bound.
	StateUnauthenticated State = iota
	// StateAuthenticating: login received, proof being validated.
	StateAuthenticating
	// StateActive: identity bound, requests served.
	StateActive
	// StateClosed: logout, disconnect, failure or expiry.
	StateClosed
)

var stateStrings = map[State]string{
	StateUnauthenticated: "unauthenticated",
	StateAuthenticating:  "authenticating",
	StateActive:          "active",
	StateClosed:          "closed",
}

// String returns the lowercase state name.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// Conn is the transport connection reference a session holds. The store
// closes it when a session is expired or force-closed.
type Conn interface {
	RemoteAddr() net.Addr
	Close() error
}

// ErrBadTransition is wrapped into errors returned for illegal state moves.
type ErrBadTransition struct {
	From, To State
}

func (e ErrBadTransition) Error() string {
	return fmt.Sprintf("illegal session transition %s -> %s", e.From, e.To)
}

// Session is the authenticated state of one live presence connection. All
// mutation goes through its methods; the embedded mutex serialises access
// per session key while leaving other sessions untouched.
type Session struct {
	mu sync.Mutex

	key       string
	challenge string
	conn      Conn
	createdAt time.Time
	expiresAt time.Time

	state     State
	profileID uint32

	// Presence data, meaningful only in StateActive.
	status     string
	statusText string
	location   string
	buddies    map[uint32]struct{}
}

// Key returns the session key.
func (s *Session) Key() string { return s.key }

// Challenge returns the server challenge issued at connect time.
func (s *Session) Challenge() string { return s.challenge }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Conn returns the transport connection reference.
func (s *Session) Conn() Conn { return s.conn }

// RemoteAddr returns the peer address, or nil for detached sessions.
func (s *Session) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProfileID returns the bound identity, zero until StateActive.
func (s *Session) ProfileID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileID
}

// BeginAuth moves the session from unauthenticated to authenticating. It is
// called when a login message arrives, before proof validation.
func (s *Session) BeginAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnauthenticated {
		return ErrBadTransition{From: s.state, To: StateAuthenticating}
	}
	s.state = StateAuthenticating
	return nil
}

// Activate binds the identity and moves the session to active. A session key
// is never rebound: once a profile id is set it cannot change.
func (s *Session) Activate(profileID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticating {
		return ErrBadTransition{From: s.state, To: StateActive}
	}
	if s.profileID != 0 && s.profileID != profileID {
		return fmt.Errorf("session %s already bound to profile %d", s.key, s.profileID)
	}
	s.profileID = profileID
	s.state = StateActive
	return nil
}

// Close moves the session to closed from any state. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// IsActive reports whether the session may serve authenticated requests.
func (s *Session) IsActive() bool {
	return s.State() == StateActive
}

// SetStatus records the player's presence status fields.
func (s *Session) SetStatus(status, statusText, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.statusText = statusText
	s.location = location
}

// Status returns the presence status fields.
func (s *Session) Status() (status, statusText, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.statusText, s.location
}

// AddBuddy registers interest in another profile's status updates.
func (s *Session) AddBuddy(profileID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buddies == nil {
		s.buddies = make(map[uint32]struct{})
	}
	s.buddies[profileID] = struct{}{}
}

// RemoveBuddy drops interest in a profile.
func (s *Session) RemoveBuddy(profileID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buddies, profileID)
}

// HasBuddy reports whether the session watches the given profile.
func (s *Session) HasBuddy(profileID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buddies[profileID]
	return ok
}

// expired reports whether the session idle deadline has passed.
func (s *Session) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.After(s.expiresAt)
}

// touch pushes the idle deadline forward.
func (s *Session) touch(deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = deadline
}
