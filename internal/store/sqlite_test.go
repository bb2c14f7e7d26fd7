package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteRecords {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateProfileAssignsID(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateProfile(ctx, &Profile{UserID: "user-1", GameID: "ADAJ", GsBrCd: "ADAJ01"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == 0 {
		t.Fatal("expected store-assigned profile id")
	}

	second, err := s.CreateProfile(ctx, &Profile{UserID: "user-2", GameID: "ADAJ"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected distinct ids, both got %d", first.ID)
	}

	got, err := s.ProfileByUser(ctx, "user-1", "ADAJ")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != first.ID || got.GsBrCd != "ADAJ01" {
		t.Fatalf("lookup mismatch: %+v", got)
	}

	byID, err := s.ProfileByID(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byID.UserID != "user-1" {
		t.Fatalf("ProfileByID returned wrong record: %+v", byID)
	}
}

func TestCreateProfileDuplicateReturnsExisting(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateProfile(ctx, &Profile{UserID: "dup", GameID: "ADAJ"})
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.CreateProfile(ctx, &Profile{UserID: "dup", GameID: "ADAJ"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Fatalf("duplicate create produced new id %d, want %d", again.ID, first.ID)
	}
}

func TestProfileNotFound(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if _, err := s.ProfileByUser(context.Background(), "nobody", "ADAJ"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.ProfileByID(context.Background(), 999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConsoleUpsertAndTouch(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	mac := "00:09:bf:11:22:33"

	if err := s.UpsertConsole(ctx, &Console{MACAddress: mac, UserID: "user-1", Platform: PlatformDS}); err != nil {
		t.Fatal(err)
	}

	c, err := s.ConsoleByMAC(ctx, mac)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Enabled || c.UserID != "user-1" {
		t.Fatalf("unexpected console: %+v", c)
	}

	later := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	if err := s.TouchConsole(ctx, mac, later); err != nil {
		t.Fatal(err)
	}
	c, err = s.ConsoleByMAC(ctx, mac)
	if err != nil {
		t.Fatal(err)
	}
	if !c.LastSeen.Equal(later) {
		t.Fatalf("last_seen not updated: got %v, want %v", c.LastSeen, later)
	}

	if err := s.TouchConsole(ctx, "ff:ff:ff:ff:ff:ff", later); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown console, got %v", err)
	}
}

func TestActiveBanLookup(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddBan(ctx, &Ban{Type: BanMAC, Identifier: "00:11:22:33:44:55", Reason: "cheating"}); err != nil {
		t.Fatal(err)
	}

	b, err := s.ActiveBan(ctx, BanMAC, "00:11:22:33:44:55", "")
	if err != nil {
		t.Fatal(err)
	}
	if b.Reason != "cheating" {
		t.Fatalf("unexpected ban: %+v", b)
	}

	if _, err := s.ActiveBan(ctx, BanMAC, "aa:bb:cc:dd:ee:ff", ""); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unbanned mac, got %v", err)
	}
}

func TestExpiredBanNotActive(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	if err := s.AddBan(ctx, &Ban{Type: BanUser, Identifier: "olduser", ExpiresAt: &past}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ActiveBan(ctx, BanUser, "olduser", ""); err != ErrNotFound {
		t.Fatalf("expected expired ban to be inactive, got %v", err)
	}
}

func TestGameScopedBan(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddBan(ctx, &Ban{Type: BanUser, Identifier: "griefer", GameID: "ADAJ"}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ActiveBan(ctx, BanUser, "griefer", "ADAJ"); err != nil {
		t.Fatalf("expected game-scoped ban hit, got %v", err)
	}
	if _, err := s.ActiveBan(ctx, BanUser, "griefer", "AMCE"); err != ErrNotFound {
		t.Fatalf("expected no ban for other game, got %v", err)
	}
}

func TestRecordLogin(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	err := s.RecordLogin(ctx, &LoginRecord{UserID: "user-1", AuthToken: "NDSabc", RemoteAddr: "10.0.0.2"})
	if err != nil {
		t.Fatal(err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM nas_logins WHERE user_id = 'user-1'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 login record, got %d", count)
	}
}
