package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteRecords is the default Records implementation, backed by a local
// SQLite database. It is the system of record for self-contained
// deployments; larger installs point the services at an external store via
// RESTRecords instead.
type SQLiteRecords struct {
	db *sql.DB
}

// OpenSQLite creates or opens the record database at path, runs migrations,
// and enables WAL mode for concurrent reads from the three services.
func OpenSQLite(path string) (*SQLiteRecords, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open record database %s: %w", path, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}

	s := &SQLiteRecords{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("record database opened")
	return s, nil
}

// migrate creates all required tables and indexes if they do not exist.
func (s *SQLiteRecords) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS consoles (
	mac_address TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	device_name TEXT NOT NULL DEFAULT '',
	platform TEXT NOT NULL DEFAULT 'DS',
	enabled INTEGER NOT NULL DEFAULT 1,
	registered_at DATETIME NOT NULL,
	last_seen DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consoles_user ON consoles(user_id);

CREATE TABLE IF NOT EXISTS profiles (
	profile_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	game_id TEXT NOT NULL,
	gsbrcd TEXT NOT NULL DEFAULT '',
	uniquenick TEXT NOT NULL DEFAULT '',
	console_mac TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	UNIQUE(user_id, game_id)
);

CREATE TABLE IF NOT EXISTS bans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ban_type TEXT NOT NULL,
	identifier TEXT NOT NULL,
	game_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	expires_at DATETIME NULL,
	banned_at DATETIME NOT NULL,
	UNIQUE(ban_type, identifier, game_id)
);
CREATE INDEX IF NOT EXISTS idx_bans_lookup ON bans(ban_type, identifier);

CREATE TABLE IF NOT EXISTS nas_logins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	auth_token TEXT NOT NULL,
	ip_address TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nas_logins_user ON nas_logins(user_id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to migrate record database: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteRecords) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteRecords) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteRecords) ConsoleByMAC(ctx context.Context, mac string) (*Console, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mac_address, user_id, device_name, platform, enabled, registered_at, last_seen
		FROM consoles WHERE mac_address = ?`, mac)

	var c Console
	var enabled int
	err := row.Scan(&c.MACAddress, &c.UserID, &c.DeviceName, &c.Platform,
		&enabled, &c.RegisteredAt, &c.LastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch console %s: %w", mac, err)
	}
	c.Enabled = enabled != 0
	return &c, nil
}

func (s *SQLiteRecords) UpsertConsole(ctx context.Context, c *Console) error {
	now := time.Now().UTC()
	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = now
	}
	if c.LastSeen.IsZero() {
		c.LastSeen = now
	}
	platform := c.Platform
	if platform == "" {
		platform = PlatformDS
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consoles (mac_address, user_id, device_name, platform, enabled, registered_at, last_seen)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(mac_address) DO UPDATE SET
			user_id = excluded.user_id,
			last_seen = excluded.last_seen`,
		c.MACAddress, c.UserID, c.DeviceName, platform, c.RegisteredAt, c.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert console %s: %w", c.MACAddress, err)
	}
	return nil
}

func (s *SQLiteRecords) TouchConsole(ctx context.Context, mac string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE consoles SET last_seen = ? WHERE mac_address = ?`, at.UTC(), mac)
	if err != nil {
		return fmt.Errorf("failed to touch console %s: %w", mac, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteRecords) ProfileByID(ctx context.Context, id uint32) (*Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, profileSelect+` WHERE profile_id = ?`, id))
}

func (s *SQLiteRecords) ProfileByUser(ctx context.Context, userID, gameID string) (*Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx,
		profileSelect+` WHERE user_id = ? AND game_id = ?`, userID, gameID))
}

const profileSelect = `
	SELECT profile_id, user_id, game_id, gsbrcd, uniquenick, console_mac, enabled, created_at
	FROM profiles`

func (s *SQLiteRecords) scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	var enabled int
	err := row.Scan(&p.ID, &p.UserID, &p.GameID, &p.GsBrCd, &p.UniqueNick,
		&p.ConsoleMAC, &enabled, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	p.Enabled = enabled != 0
	return &p, nil
}

func (s *SQLiteRecords) CreateProfile(ctx context.Context, p *Profile) (*Profile, error) {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, game_id, gsbrcd, uniquenick, console_mac, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		p.UserID, p.GameID, p.GsBrCd, p.UniqueNick, p.ConsoleMAC, created)
	if err != nil {
		// Lost a create race with a concurrent login: the existing row wins.
		if existing, lookupErr := s.ProfileByUser(ctx, p.UserID, p.GameID); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create profile for %s/%s: %w", p.UserID, p.GameID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new profile id: %w", err)
	}

	out := *p
	out.ID = uint32(id)
	out.Enabled = true
	out.CreatedAt = created

	log.Info().
		Uint32("profile_id", out.ID).
		Str("user_id", out.UserID).
		Str("game_id", out.GameID).
		Msg("profile created")

	return &out, nil
}

func (s *SQLiteRecords) ActiveBan(ctx context.Context, t BanType, identifier, gameID string) (*Ban, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ban_type, identifier, game_id, reason, expires_at
		FROM bans
		WHERE ban_type = ? AND identifier = ? AND active = 1
		  AND (game_id = '' OR game_id = ?)`,
		t, identifier, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bans for %s %s: %w", t, identifier, err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	for rows.Next() {
		var b Ban
		var expires sql.NullTime
		if err := rows.Scan(&b.Type, &b.Identifier, &b.GameID, &b.Reason, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan ban row: %w", err)
		}
		if expires.Valid {
			b.ExpiresAt = &expires.Time
		}
		if !b.Expired(now) {
			return &b, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ban query failed: %w", err)
	}
	return nil, ErrNotFound
}

func (s *SQLiteRecords) RecordLogin(ctx context.Context, rec *LoginRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nas_logins (user_id, auth_token, ip_address, timestamp)
		VALUES (?, ?, ?, ?)`,
		rec.UserID, rec.AuthToken, rec.RemoteAddr, at)
	if err != nil {
		return fmt.Errorf("failed to record login for %s: %w", rec.UserID, err)
	}
	return nil
}

// AddBan inserts or reactivates a ban. It exists for provisioning and tests;
// the protocol services themselves never call it.
func (s *SQLiteRecords) AddBan(ctx context.Context, b *Ban) error {
	var expires interface{}
	if b.ExpiresAt != nil {
		expires = b.ExpiresAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bans (ban_type, identifier, game_id, reason, active, expires_at, banned_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(ban_type, identifier, game_id) DO UPDATE SET
			reason = excluded.reason,
			active = 1,
			expires_at = excluded.expires_at`,
		b.Type, b.Identifier, b.GameID, b.Reason, expires, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add ban %s/%s: %w", b.Type, b.Identifier, err)
	}
	return nil
}

// Counts returns basic record totals for the status surface.
func (s *SQLiteRecords) Counts(ctx context.Context) (profiles, consoles, bans int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&profiles); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consoles`).Scan(&consoles); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count consoles: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bans WHERE active = 1`).Scan(&bans); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count bans: %w", err)
	}
	return profiles, consoles, bans, nil
}
