package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServiceData(&cfg.ServiceData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateServiceData(data *ServiceData, result *ValidationResult) {
	if strings.TrimSpace(data.PublicHost) == "" {
		result.AddError("service_data.public_host",
			"public host is required; consoles are redirected there after auth")
	}

	if data.BindAddress != "" {
		if ip := net.ParseIP(data.BindAddress); ip == nil {
			result.AddError("service_data.bind_address",
				fmt.Sprintf("invalid bind address: %s", data.BindAddress))
		}
	}

	validatePort(data.AuthPort, "service_data.auth_port", result)
	validatePort(data.PresencePort, "service_data.presence_port", result)
	validatePort(data.RegistryPort, "service_data.registry_port", result)
	validatePort(data.APIPort, "service_data.api_port", result)

	// Registry shares its number space with presence on some setups, but the
	// four listeners here must not collide.
	ports := map[int]string{
		data.AuthPort:     "auth",
		data.PresencePort: "presence",
		data.RegistryPort: "registry",
		data.APIPort:      "api",
	}
	if len(ports) < 4 {
		result.AddError("service_data.ports", "port conflict detected: all ports must be unique")
	}

	if strings.TrimSpace(data.RecordStoreURL) == "" && strings.TrimSpace(data.DatabasePath) == "" {
		result.AddError("service_data.database_path",
			"either a local database path or a record store URL is required")
	}
	if data.RecordStoreURL != "" && !strings.HasPrefix(data.RecordStoreURL, "http") {
		result.AddError("service_data.record_store_url",
			fmt.Sprintf("record store URL must be http(s): %s", data.RecordStoreURL))
	}

	for _, g := range data.GameWhitelist {
		if strings.TrimSpace(g) == "" {
			result.AddError("service_data.game_whitelist", "whitelist entries must not be blank")
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	validateTimers(&data.Timers, result)

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.HeartbeatWindow < 30 {
		result.AddError("timers.heartbeat_window_sec",
			"heartbeat window below 30s evicts servers between normal heartbeats")
	}
	if timers.SessionTimeout < 60 {
		result.AddWarning("timers.session_timeout_sec",
			"session timeout below 60s disconnects idle consoles aggressively")
	}
	if timers.PendingTokenTimeout < 30 {
		result.AddWarning("timers.pending_token_timeout_sec",
			"pending token window below 30s may expire tokens before the presence login arrives")
	}
	if timers.SessionSweepInterval < 5 {
		result.AddWarning("timers.session_sweep_interval_sec",
			"sweep interval less than 5s burns CPU for no benefit")
	}
	if timers.RegistrySweepInterval < 5 {
		result.AddWarning("timers.registry_sweep_interval_sec",
			"sweep interval less than 5s burns CPU for no benefit")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
