// Package store defines the narrow boundary between the protocol core and
// the record store that owns profiles, consoles and bans. The core only ever
// reads through this interface plus two writes (profile creation on first
// use, console last-seen); sessions and server registrations never cross it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/retrowfc-project/retrowfc/internal/friendcode"
)

// ErrNotFound is returned when a record does not exist. Callers must treat
// it as an expected outcome, distinct from store unavailability.
var ErrNotFound = errors.New("record not found")

// Platform identifies the client hardware family.
type Platform string

const (
	PlatformDS  Platform = "DS"
	PlatformDSi Platform = "DSi"
	PlatformWii Platform = "Wii"
)

// Console is a registered client device, addressed by hardware MAC. One
// console may own multiple profiles, one per game title.
type Console struct {
	MACAddress   string    `json:"mac_address"`
	UserID       string    `json:"user_id"`
	DeviceName   string    `json:"device_name"`
	Platform     Platform  `json:"platform"`
	Enabled      bool      `json:"enabled"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Profile is a per-game player identity. The numeric ID is assigned once by
// the record store and immutable afterwards.
type Profile struct {
	ID         uint32    `json:"profile_id"`
	UserID     string    `json:"user_id"`
	GameID     string    `json:"game_id"`
	GsBrCd     string    `json:"gsbrcd"`
	UniqueNick string    `json:"uniquenick"`
	ConsoleMAC string    `json:"console_mac"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// FriendCode returns the profile's display code. The broadcast code carries
// console-specific data the checksum depends on, so it takes precedence over
// the bare game id when present.
func (p *Profile) FriendCode() string {
	game := p.GsBrCd
	if game == "" {
		game = p.GameID
	}
	return friendcode.Compute(p.ID, game)
}

// BanType scopes what a ban identifier refers to.
type BanType string

const (
	BanIP      BanType = "ip"
	BanMAC     BanType = "mac"
	BanProfile BanType = "profile"
	BanUser    BanType = "userid"
)

// Ban is a deny record. GameID restricts the ban to one title; empty means
// all titles. A nil ExpiresAt means permanent. The protocol core consults
// bans but never mutates them.
type Ban struct {
	Type       BanType    `json:"ban_type"`
	Identifier string     `json:"identifier"`
	GameID     string     `json:"game_id,omitempty"`
	Reason     string     `json:"reason"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the ban has lapsed at the given instant.
func (b *Ban) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// LoginRecord is the audit entry written for each successful authentication.
type LoginRecord struct {
	UserID     string    `json:"user_id"`
	AuthToken  string    `json:"auth_token"`
	RemoteAddr string    `json:"ip_address"`
	At         time.Time `json:"timestamp"`
}

// Records is the complete read/write contract against the record store. Any
// backend implementing it can serve the protocol core; this repository ships
// a SQLite implementation (the default, self-contained deployment) and an
// HTTP client for an external admin-panel store.
type Records interface {
	// ConsoleByMAC fetches a device by hardware address.
	ConsoleByMAC(ctx context.Context, mac string) (*Console, error)
	// UpsertConsole creates the console on first sight or refreshes its
	// user binding and last-seen timestamp.
	UpsertConsole(ctx context.Context, c *Console) error
	// TouchConsole updates only the last-seen timestamp.
	TouchConsole(ctx context.Context, mac string, at time.Time) error

	// ProfileByID fetches an identity by its numeric id.
	ProfileByID(ctx context.Context, id uint32) (*Profile, error)
	// ProfileByUser fetches the identity for an (account, game) pair.
	ProfileByUser(ctx context.Context, userID, gameID string) (*Profile, error)
	// CreateProfile stores a new identity and returns it with the
	// store-assigned numeric id filled in.
	CreateProfile(ctx context.Context, p *Profile) (*Profile, error)

	// ActiveBan returns the live ban for type+identifier, or ErrNotFound.
	// gameID narrows the check to game-scoped bans as well as global ones.
	ActiveBan(ctx context.Context, t BanType, identifier, gameID string) (*Ban, error)

	// RecordLogin appends an authentication audit entry.
	RecordLogin(ctx context.Context, rec *LoginRecord) error

	Close() error
}
