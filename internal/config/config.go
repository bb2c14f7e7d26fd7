// Package config handles configuration loading, validation, and persistence
// for the RetroWFC backend services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir    = "config"
	DefaultConfigFile   = "config.json"
	DefaultAuthPort     = 9000
	DefaultPresencePort = 29900
	DefaultRegistryPort = 27900
	DefaultAPIPort      = 5000
)

// Config is the root configuration structure for RetroWFC.
type Config struct {
	mu   sync.RWMutex
	path string

	ServiceData     ServiceData     `json:"service_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServiceData contains protocol service configuration.
type ServiceData struct {
	// PublicHost is the hostname or IP handed to consoles in the auth
	// response; consoles connect their presence session there.
	PublicHost  string `json:"public_host"`
	BindAddress string `json:"bind_address"`

	// Ports
	AuthPort     int `json:"auth_port"`
	PresencePort int `json:"presence_port"`
	RegistryPort int `json:"registry_port"`
	APIPort      int `json:"api_port"`

	// Record store. When RecordStoreURL is set the services use the remote
	// REST store; otherwise they open the local SQLite database.
	DatabasePath   string `json:"database_path"`
	RecordStoreURL string `json:"record_store_url"`
	RecordStoreKey string `json:"record_store_api_key"`

	// Access policy
	AllowListOnly bool     `json:"allow_list_only"`
	GameWhitelist []string `json:"game_whitelist"`
}

// ApplicationData contains cross-service application configuration.
type ApplicationData struct {
	Timers   TimerConfig    `json:"timers"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// TimerConfig holds sweep and timeout interval settings, in seconds.
type TimerConfig struct {
	SessionSweepInterval  int `json:"session_sweep_interval_sec"`
	SessionTimeout        int `json:"session_timeout_sec"`
	PendingTokenTimeout   int `json:"pending_token_timeout_sec"`
	RegistrySweepInterval int `json:"registry_sweep_interval_sec"`
	HeartbeatWindow       int `json:"heartbeat_window_sec"`
	PresenceIdleTimeout   int `json:"presence_idle_timeout_sec"`
	StatsInterval         int `json:"stats_interval_sec"`
	DiskCheckInterval     int `json:"disk_check_interval_sec"`
	PublicIPCheckInterval int `json:"public_ip_check_interval_sec"`
	StoreCheckInterval    int `json:"store_check_interval_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// SecurityConfig holds security-related settings for the ops API.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	APIToken       string   `json:"api_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceData: ServiceData{
			PublicHost:   "127.0.0.1",
			BindAddress:  "0.0.0.0",
			AuthPort:     DefaultAuthPort,
			PresencePort: DefaultPresencePort,
			RegistryPort: DefaultRegistryPort,
			APIPort:      DefaultAPIPort,
			DatabasePath: filepath.Join(DefaultConfigDir, "records.db"),
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				SessionSweepInterval:  60,
				SessionTimeout:        1800,
				PendingTokenTimeout:   300,
				RegistrySweepInterval: 30,
				HeartbeatWindow:       120,
				PresenceIdleTimeout:   300,
				StatsInterval:         60,
				DiskCheckInterval:     1800,
				PublicIPCheckInterval: 3600,
				StoreCheckInterval:    300,
			},
			MQTT: MQTTConfig{
				Port:   8883,
				UseTLS: true,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	// This ensures config.json always reflects the complete set of options.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServiceData returns a copy of the service configuration.
func (c *Config) GetServiceData() ServiceData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServiceData
}

// SetServiceData updates the service configuration.
func (c *Config) SetServiceData(data ServiceData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServiceData = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// GameAllowed reports whether heartbeats and logins for the given game id
// are accepted. An empty whitelist admits every game.
func (c *Config) GameAllowed(gameID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.ServiceData.GameWhitelist) == 0 {
		return true
	}
	for _, g := range c.ServiceData.GameWhitelist {
		if g == gameID {
			return true
		}
	}
	return false
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
