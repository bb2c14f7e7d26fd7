package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	t.Parallel()

	res := Validate(DefaultConfig())
	if !res.IsValid() {
		t.Fatalf("default config invalid: %+v", res.Errors)
	}
}

func TestValidateRejectsPortConflicts(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ServiceData.AuthPort = cfg.ServiceData.PresencePort

	res := Validate(cfg)
	if res.IsValid() {
		t.Fatal("expected duplicate ports to fail validation")
	}
}

func TestValidateRequiresStore(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ServiceData.DatabasePath = ""
	cfg.ServiceData.RecordStoreURL = ""

	res := Validate(cfg)
	if res.IsValid() {
		t.Fatal("expected config without any record store to fail validation")
	}
}

func TestValidateRejectsTinyHeartbeatWindow(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ApplicationData.Timers.HeartbeatWindow = 5

	res := Validate(cfg)
	if res.IsValid() {
		t.Fatal("expected sub-30s heartbeat window to fail validation")
	}
}

func TestGameAllowed(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if !cfg.GameAllowed("ADAJ") {
		t.Fatal("empty whitelist should admit every game")
	}

	cfg.ServiceData.GameWhitelist = []string{"ADAJ", "A2DJ"}
	if !cfg.GameAllowed("A2DJ") {
		t.Fatal("whitelisted game rejected")
	}
	if cfg.GameAllowed("RMCJ") {
		t.Fatal("non-whitelisted game admitted")
	}
}
