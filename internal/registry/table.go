// Package registry implements the UDP heartbeat/discovery service. Game
// hosts announce themselves with periodic heartbeats; clients query for the
// live listing. UDP carries no connection state, so every packet is
// self-describing and a server-issued challenge guards against hosts
// spoofing another machine's identity.
package registry

import (
	"crypto/rand"
	"net"
	"sync"
	"time"
)

// DefaultLivenessWindow is how long a registration survives without a fresh
// heartbeat. Eviction by the sweep is the only de-registration mechanism;
// the legacy protocol has no unregister message.
const DefaultLivenessWindow = 120 * time.Second

const challengeLen = 8

// Registration is one announced game server. Everything here lives only in
// process memory.
type Registration struct {
	ID            string
	GameID        string
	HostProfileID uint32
	Addr          *net.UDPAddr

	// Metadata passed through from the heartbeat, echoed to queries.
	Hostname   string
	NumPlayers string
	MaxPlayers string
	GameMode   string
	MapName    string
	Extra      map[string]string

	Challenge     string
	Verified      bool
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// Table is the in-memory registration table shared by the packet handlers
// and the liveness sweep.
type Table struct {
	mu     sync.RWMutex
	regs   map[string]*Registration
	window time.Duration
	nowFn  func() time.Time
}

// TableOptions tunes the table. Zero values take defaults.
type TableOptions struct {
	LivenessWindow time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewTable creates an empty registration table.
func NewTable(opts TableOptions) *Table {
	if opts.LivenessWindow <= 0 {
		opts.LivenessWindow = DefaultLivenessWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Table{
		regs:   make(map[string]*Registration),
		window: opts.LivenessWindow,
		nowFn:  opts.Now,
	}
}

// newChallenge returns a fresh uppercase challenge.
func newChallenge() string {
	buf := make([]byte, challengeLen)
	if _, err := rand.Read(buf); err != nil {
		panic("registry: challenge entropy unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = 'A' + b%26
	}
	return string(buf)
}

// Heartbeat creates or refreshes the registration for id and resets its
// liveness timer. A new registration gets a challenge and stays invisible
// to queries until the host echoes it (see Verify). It returns the
// registration and whether it was newly created.
func (t *Table) Heartbeat(id string, update func(*Registration)) (*Registration, bool) {
	now := t.nowFn()

	t.mu.Lock()
	defer t.mu.Unlock()

	reg, ok := t.regs[id]
	created := false
	if !ok {
		reg = &Registration{
			ID:           id,
			Challenge:    newChallenge(),
			RegisteredAt: now,
		}
		t.regs[id] = reg
		created = true
	}
	reg.LastHeartbeat = now
	if update != nil {
		update(reg)
	}
	return reg, created
}

// Verify checks the echoed challenge for a registration. On match the
// registration becomes visible to queries. Returns false for unknown ids
// and wrong echoes.
func (t *Table) Verify(id, echo string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	reg, ok := t.regs[id]
	if !ok || echo == "" || echo != reg.Challenge {
		return false
	}
	reg.Verified = true
	return true
}

// Lookup returns the registration for id.
func (t *Table) Lookup(id string) (*Registration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	reg, ok := t.regs[id]
	return reg, ok
}

// Snapshot returns copies of the live, verified registrations for a game id.
// The filter, when non-nil, can exclude entries (used for banned hosts);
// it runs outside the table lock on the copies.
func (t *Table) Snapshot(gameID string, filter func(*Registration) bool) []Registration {
	now := t.nowFn()

	t.mu.RLock()
	candidates := make([]Registration, 0, len(t.regs))
	for _, reg := range t.regs {
		if reg.GameID != gameID || !reg.Verified {
			continue
		}
		if now.Sub(reg.LastHeartbeat) > t.window {
			continue
		}
		candidates = append(candidates, *reg)
	}
	t.mu.RUnlock()

	if filter == nil {
		return candidates
	}
	out := candidates[:0]
	for i := range candidates {
		if filter(&candidates[i]) {
			out = append(out, candidates[i])
		}
	}
	return out
}

// All returns copies of every registration regardless of game, for status
// surfaces.
func (t *Table) All() []Registration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Registration, 0, len(t.regs))
	for _, reg := range t.regs {
		out = append(out, *reg)
	}
	return out
}

// Sweep evicts registrations whose last heartbeat is older than the
// liveness window and returns the evicted entries.
func (t *Table) Sweep(now time.Time) []Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []Registration
	for id, reg := range t.regs {
		if now.Sub(reg.LastHeartbeat) > t.window {
			evicted = append(evicted, *reg)
			delete(t.regs, id)
		}
	}
	return evicted
}

// Count returns the number of registrations, verified or not.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.regs)
}
