package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/events"
	"github.com/retrowfc-project/retrowfc/internal/store"
	"github.com/retrowfc-project/retrowfc/internal/wire"
)

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: port}
}

func registerVerified(t *testing.T, tbl *Table, addr *net.UDPAddr, gameID string) *Registration {
	t.Helper()

	reg, created := tbl.Heartbeat(addr.String(), func(r *Registration) {
		r.GameID = gameID
		r.Addr = addr
	})
	if !created {
		t.Fatalf("registration for %s already existed", addr)
	}
	if !tbl.Verify(addr.String(), reg.Challenge) {
		t.Fatal("challenge echo rejected")
	}
	return reg
}

func TestHeartbeatChallengeVerify(t *testing.T) {
	t.Parallel()

	tbl := NewTable(TableOptions{})
	addr := testAddr(6500)

	reg, created := tbl.Heartbeat(addr.String(), func(r *Registration) {
		r.GameID = "ADAJ"
		r.Addr = addr
	})
	if !created || reg.Challenge == "" {
		t.Fatalf("expected fresh challenged registration, got %+v", reg)
	}

	// Unverified hosts stay invisible.
	if got := tbl.Snapshot("ADAJ", nil); len(got) != 0 {
		t.Fatalf("unverified registration visible in snapshot: %v", got)
	}

	if tbl.Verify(addr.String(), "WRONGECHO") {
		t.Fatal("wrong echo accepted")
	}
	if tbl.Verify("203.0.113.9:6500", reg.Challenge) {
		t.Fatal("echo from unknown id accepted")
	}
	if !tbl.Verify(addr.String(), reg.Challenge) {
		t.Fatal("correct echo rejected")
	}

	got := tbl.Snapshot("ADAJ", nil)
	if len(got) != 1 || got[0].ID != addr.String() {
		t.Fatalf("snapshot = %v, want the verified registration", got)
	}
}

func TestLivenessWindowEviction(t *testing.T) {
	t.Parallel()

	start := time.Now()
	now := start
	tbl := NewTable(TableOptions{
		LivenessWindow: 120 * time.Second,
		Now:            func() time.Time { return now },
	})
	addr := testAddr(6500)

	// t=0: heartbeat and verification.
	registerVerified(t, tbl, addr, "ADAJ")

	// t=60: still visible, no eviction.
	now = start.Add(60 * time.Second)
	if got := tbl.Snapshot("ADAJ", nil); len(got) != 1 {
		t.Fatalf("server missing at t=60: %v", got)
	}
	if evicted := tbl.Sweep(now); len(evicted) != 0 {
		t.Fatalf("sweep at t=60 evicted %d, want 0", len(evicted))
	}

	// t=200: past the 120s window, gone.
	now = start.Add(200 * time.Second)
	if got := tbl.Snapshot("ADAJ", nil); len(got) != 0 {
		t.Fatalf("stale server still visible at t=200: %v", got)
	}
	evicted := tbl.Sweep(now)
	if len(evicted) != 1 || evicted[0].ID != addr.String() {
		t.Fatalf("sweep at t=200 evicted %v, want the stale registration", evicted)
	}
	if tbl.Count() != 0 {
		t.Fatalf("table count = %d, want 0", tbl.Count())
	}
}

func TestHeartbeatRefreshResetsTimer(t *testing.T) {
	t.Parallel()

	start := time.Now()
	now := start
	tbl := NewTable(TableOptions{
		LivenessWindow: 120 * time.Second,
		Now:            func() time.Time { return now },
	})
	addr := testAddr(6500)
	registerVerified(t, tbl, addr, "ADAJ")

	// Refresh at t=100 keeps the host alive past t=120.
	now = start.Add(100 * time.Second)
	if _, created := tbl.Heartbeat(addr.String(), nil); created {
		t.Fatal("refresh created a new registration")
	}

	now = start.Add(200 * time.Second)
	if evicted := tbl.Sweep(now); len(evicted) != 0 {
		t.Fatalf("refreshed registration evicted: %v", evicted)
	}
	if got := tbl.Snapshot("ADAJ", nil); len(got) != 1 {
		t.Fatal("refreshed registration not visible")
	}
}

func TestSnapshotScopedByGame(t *testing.T) {
	t.Parallel()

	tbl := NewTable(TableOptions{})
	registerVerified(t, tbl, testAddr(6500), "ADAJ")
	registerVerified(t, tbl, testAddr(6501), "RMCJ")

	if got := tbl.Snapshot("ADAJ", nil); len(got) != 1 || got[0].GameID != "ADAJ" {
		t.Fatalf("snapshot = %v, want only ADAJ", got)
	}
}

func TestSnapshotFilterExcludes(t *testing.T) {
	t.Parallel()

	tbl := NewTable(TableOptions{})
	a := registerVerified(t, tbl, testAddr(6500), "ADAJ")
	registerVerified(t, tbl, testAddr(6501), "ADAJ")

	got := tbl.Snapshot("ADAJ", func(reg *Registration) bool {
		return reg.ID != a.ID
	})
	if len(got) != 1 || got[0].ID == a.ID {
		t.Fatalf("filter not applied: %v", got)
	}
}

// packet-level tests drive the dispatch path without a socket; replies are
// skipped when no socket is bound, but all table effects are observable.

type stubRecords struct {
	store.Records
	bans map[string]*store.Ban
}

func (s *stubRecords) ActiveBan(_ context.Context, t store.BanType, identifier, gameID string) (*store.Ban, error) {
	if b, ok := s.bans[string(t)+"|"+identifier]; ok {
		return b, nil
	}
	return nil, store.ErrNotFound
}

func newPacketServer(tbl *Table, bans map[string]*store.Ban) *Server {
	if bans == nil {
		bans = make(map[string]*store.Ban)
	}
	return NewServer(config.DefaultConfig(), &stubRecords{bans: bans}, tbl, events.NewBus())
}

func TestHeartbeatPacketPopulatesMetadata(t *testing.T) {
	t.Parallel()

	tbl := NewTable(TableOptions{})
	srv := newPacketServer(tbl, nil)
	addr := testAddr(6500)

	srv.handlePacket(context.Background(), addr, wire.EncodeMessage(wire.Message{}.
		Add("heartbeat", "6500").
		Add("gamename", "ADAJ").
		Add("profileid", "88").
		Add("hostname", "Battle Tower").
		Add("numplayers", "2").
		Add("maxplayers", "4").
		Add("gamemode", "openplaying").
		Add("mapname", "tower").
		Add("custom_rule", "no-legendaries")))

	reg, ok := tbl.Lookup(addr.String())
	if !ok {
		t.Fatal("heartbeat did not register")
	}
	if reg.GameID != "ADAJ" || reg.HostProfileID != 88 || reg.Hostname != "Battle Tower" {
		t.Fatalf("registration = %+v", reg)
	}
	if reg.NumPlayers != "2" || reg.MaxPlayers != "4" || reg.GameMode != "openplaying" || reg.MapName != "tower" {
		t.Fatalf("metadata not passed through: %+v", reg)
	}
	if reg.Extra["custom_rule"] != "no-legendaries" {
		t.Fatalf("extra keys not preserved: %v", reg.Extra)
	}
	if reg.Verified {
		t.Fatal("registration verified without echo")
	}
}

func TestBannedHostHeartbeatDropped(t *testing.T) {
	t.Parallel()

	tbl := NewTable(TableOptions{})
	srv := newPacketServer(tbl, map[string]*store.Ban{
		"ip|10.0.0.7": {Type: store.BanIP, Identifier: "10.0.0.7"},
	})

	srv.handlePacket(context.Background(), testAddr(6500), wire.EncodeMessage(wire.Message{}.
		Add("heartbeat", "6500").
		Add("gamename", "ADAJ")))

	if tbl.Count() != 0 {
		t.Fatal("banned host heartbeat registered")
	}
}

func TestEchoPacketVerifies(t *testing.T) {
	t.Parallel()

	tbl := NewTable(TableOptions{})
	srv := newPacketServer(tbl, nil)
	addr := testAddr(6500)

	srv.handlePacket(context.Background(), addr, wire.EncodeMessage(wire.Message{}.
		Add("heartbeat", "6500").
		Add("gamename", "ADAJ")))

	reg, _ := tbl.Lookup(addr.String())
	srv.handlePacket(context.Background(), addr, wire.EncodeMessage(wire.Message{}.
		Add("echo", reg.Challenge)))

	reg, _ = tbl.Lookup(addr.String())
	if !reg.Verified {
		t.Fatal("echo packet did not verify the registration")
	}
}

func TestMalformedPacketIgnored(t *testing.T) {
	t.Parallel()

	tbl := NewTable(TableOptions{})
	srv := newPacketServer(tbl, nil)

	srv.handlePacket(context.Background(), testAddr(6500), []byte("\x00\xff garbage without structure"))
	srv.handlePacket(context.Background(), testAddr(6500), []byte(`\heartbeat\`))

	if tbl.Count() != 0 {
		t.Fatal("malformed packets must not register")
	}
}
