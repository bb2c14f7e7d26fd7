package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultSessionTTL is the idle timeout after which an unswept session
	// is removed, independent of explicit logout.
	DefaultSessionTTL = 30 * time.Minute
	// DefaultPendingTTL is the validity window of a bootstrap token issued
	// by the auth service before the presence login must arrive.
	DefaultPendingTTL = 5 * time.Minute

	challengeLen = 10
	shardCount   = 16
)

// Pending is a bootstrap challenge written by the auth service and consumed
// exactly once by the presence service, correlated by auth token.
type Pending struct {
	Token     string
	Challenge string
	UserID    string
	GsBrCd    string
	GameID    string
	MAC       string
	ExpiresAt time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Store is the process-wide table of pending challenges and live sessions.
// It is constructed in main and passed to the services; there is no ambient
// singleton. Session keys hash to shards so mutation of one session never
// contends with another.
type Store struct {
	shards [shardCount]*shard

	pendingMu sync.Mutex
	pending   map[string]*Pending

	sessionTTL time.Duration
	pendingTTL time.Duration
	nowFn      func() time.Time
}

// Options tunes store timeouts. Zero values take defaults.
type Options struct {
	SessionTTL time.Duration
	PendingTTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewStore creates an empty session store.
func NewStore(opts Options) *Store {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		pending:    make(map[string]*Pending),
		sessionTTL: opts.SessionTTL,
		pendingTTL: opts.PendingTTL,
		nowFn:      opts.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return s.shards[h%shardCount]
}

// NewChallenge returns a fresh random challenge in the legacy alphabet
// (uppercase letters only, fixed length).
func (s *Store) NewChallenge() string {
	buf := make([]byte, challengeLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; if it does the
		// process cannot mint secrets at all.
		panic("session: challenge entropy unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = 'A' + b%26
	}
	return string(buf)
}

// newKey returns a fresh 32-hex-character session key.
func newKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("session: key entropy unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// Begin creates an unauthenticated session for a new connection, issuing a
// session key and server challenge.
func (s *Store) Begin(conn Conn) *Session {
	now := s.nowFn()
	sess := &Session{
		key:       newKey(),
		challenge: s.NewChallenge(),
		conn:      conn,
		createdAt: now,
		expiresAt: now.Add(s.sessionTTL),
		state:     StateUnauthenticated,
	}

	sh := s.shardFor(sess.key)
	sh.mu.Lock()
	sh.sessions[sess.key] = sess
	sh.mu.Unlock()

	return sess
}

// Lookup finds a session by key.
func (s *Store) Lookup(key string) (*Session, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	sess, ok := sh.sessions[key]
	sh.mu.RUnlock()
	return sess, ok
}

// ByProfile finds the active session bound to a profile id, if any. Used for
// buddy/status relay.
func (s *Store) ByProfile(profileID uint32) (*Session, bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			if sess.IsActive() && sess.ProfileID() == profileID {
				sh.mu.RUnlock()
				return sess, true
			}
		}
		sh.mu.RUnlock()
	}
	return nil, false
}

// Touch refreshes the idle deadline of a session after activity.
func (s *Store) Touch(sess *Session) {
	sess.touch(s.nowFn().Add(s.sessionTTL))
}

// Release closes the session and removes it from the table. Safe to call
// more than once; the transport connection is not closed here because the
// caller owns it.
func (s *Store) Release(sess *Session) {
	sess.Close()
	sh := s.shardFor(sess.key)
	sh.mu.Lock()
	delete(sh.sessions, sess.key)
	sh.mu.Unlock()
}

// PutPending stores a bootstrap challenge keyed by auth token.
func (s *Store) PutPending(p *Pending) {
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = s.nowFn().Add(s.pendingTTL)
	}
	s.pendingMu.Lock()
	s.pending[p.Token] = p
	s.pendingMu.Unlock()
}

// TakePending consumes the pending entry for a token. Each token is valid
// exactly once; expired entries are not returned.
func (s *Store) TakePending(token string) (*Pending, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p, ok := s.pending[token]
	if !ok {
		return nil, false
	}
	delete(s.pending, token)
	if s.nowFn().After(p.ExpiresAt) {
		return nil, false
	}
	return p, true
}

// ExpireSweep removes sessions idle past their deadline and pending entries
// past their validity window. It is the only unsolicited removal path and
// runs on a fixed-interval timer, independent of explicit logout. Swept
// sessions have their transport connection closed so the owning handler
// unwinds promptly.
func (s *Store) ExpireSweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		var stale []*Session
		sh.mu.Lock()
		for key, sess := range sh.sessions {
			if sess.expired(now) {
				delete(sh.sessions, key)
				stale = append(stale, sess)
			}
		}
		sh.mu.Unlock()

		for _, sess := range stale {
			sess.Close()
			if c := sess.Conn(); c != nil {
				c.Close()
			}
			removed++
			log.Debug().
				Str("session", sess.Key()).
				Uint32("profile_id", sess.ProfileID()).
				Msg("session expired")
		}
	}

	s.pendingMu.Lock()
	for token, p := range s.pending {
		if now.After(p.ExpiresAt) {
			delete(s.pending, token)
		}
	}
	s.pendingMu.Unlock()

	return removed
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// SessionInfo is a read-only snapshot of one session for status surfaces.
type SessionInfo struct {
	Key        string    `json:"session_key"`
	State      string    `json:"state"`
	ProfileID  uint32    `json:"profile_id"`
	RemoteAddr string    `json:"remote_addr"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshot returns a copy of all live sessions.
func (s *Store) Snapshot() []SessionInfo {
	var out []SessionInfo
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			info := SessionInfo{
				Key:       sess.Key(),
				State:     sess.State().String(),
				ProfileID: sess.ProfileID(),
				CreatedAt: sess.CreatedAt(),
			}
			if addr := sess.RemoteAddr(); addr != nil {
				info.RemoteAddr = addr.String()
			}
			out = append(out, info)
		}
		sh.mu.RUnlock()
	}
	return out
}

// ActiveEach calls fn for every session currently in StateActive. The shard
// lock is not held during fn, so fn may perform I/O.
func (s *Store) ActiveEach(fn func(*Session)) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		batch := make([]*Session, 0, len(sh.sessions))
		for _, sess := range sh.sessions {
			if sess.IsActive() {
				batch = append(batch, sess)
			}
		}
		sh.mu.RUnlock()

		for _, sess := range batch {
			fn(sess)
		}
	}
}
