// Package events defines the event types flowing through the bus that links
// the protocol services to telemetry and the status surfaces.
package events

import "time"

// EventType names a protocol event.
type EventType string

const (
	// Auth service events
	EventAuthSuccess EventType = "auth_success"
	EventAuthFailure EventType = "auth_failure"

	// Presence service events
	EventPlayerLogin  EventType = "player_login"
	EventPlayerLogout EventType = "player_logout"
	EventLoginFailed  EventType = "login_failed"

	// Ban enforcement
	EventBanHit EventType = "ban_hit"

	// Registry service events
	EventServerRegistered EventType = "server_registered"
	EventServerEvicted    EventType = "server_evicted"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event is a single occurrence published on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// AuthPayload accompanies auth service events.
type AuthPayload struct {
	UserID     string `json:"user_id"`
	MAC        string `json:"mac_address"`
	GameID     string `json:"game_id"`
	RemoteAddr string `json:"remote_addr"`
	ReturnCode string `json:"return_code"`
}

// LoginPayload accompanies presence login/logout events.
type LoginPayload struct {
	ProfileID  uint32 `json:"profile_id"`
	UserID     string `json:"user_id"`
	GameID     string `json:"game_id"`
	FriendCode string `json:"friend_code"`
	RemoteAddr string `json:"remote_addr"`
	Reason     string `json:"reason,omitempty"`
}

// BanPayload accompanies ban-hit events.
type BanPayload struct {
	BanType    string `json:"ban_type"`
	Identifier string `json:"identifier"`
	GameID     string `json:"game_id,omitempty"`
	Service    string `json:"service"`
	RemoteAddr string `json:"remote_addr"`
}

// RegistryPayload accompanies server registration lifecycle events.
type RegistryPayload struct {
	ServerID      string    `json:"server_id"`
	GameID        string    `json:"game_id"`
	HostProfileID uint32    `json:"host_profile_id"`
	Addr          string    `json:"addr"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
