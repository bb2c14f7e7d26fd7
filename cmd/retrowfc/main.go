// RetroWFC - legacy console online service emulator.
//
// RetroWFC runs the three protocol services the consoles expect: an HTTP
// authentication service handing out session tokens, a TCP presence service
// carrying buddy status, and a UDP server registry for matchmaking listings.
// An ops REST API and an interactive CLI sit alongside for operators, with
// optional MQTT telemetry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/retrowfc-project/retrowfc/internal/api"
	"github.com/retrowfc-project/retrowfc/internal/auth"
	"github.com/retrowfc-project/retrowfc/internal/cli"
	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/events"
	"github.com/retrowfc-project/retrowfc/internal/health"
	"github.com/retrowfc-project/retrowfc/internal/presence"
	"github.com/retrowfc-project/retrowfc/internal/registry"
	"github.com/retrowfc-project/retrowfc/internal/scheduler"
	"github.com/retrowfc-project/retrowfc/internal/session"
	"github.com/retrowfc-project/retrowfc/internal/store"
	"github.com/retrowfc-project/retrowfc/internal/telemetry"
	"github.com/retrowfc-project/retrowfc/internal/util"
)

const (
	AppName    = "RetroWFC"
	AppVersion = "1.0.0"
	Banner     = `
  _____      _        __          ________ _____
 |  __ \    | |       \ \        / /  ____/ ____|
 | |__) |___| |_ _ __ _\ \  /\  / /| |__ | |
 |  _  // _ \ __| '__/ _ \ \/  \/ / |  __|| |
 | | \ \  __/ |_| | | (_) \  /\  /  | |   | |____
 |_|  \_\___|\__|_|  \___/ \/  \/   |_|    \_____|
                                    v%s
 Legacy Console Online Service Emulator
`
)

func main() {
	// Print banner
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting RetroWFC")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logging := cfg.GetApplicationData().Logging
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	svc := cfg.GetServiceData()
	timers := cfg.GetApplicationData().Timers

	// Open the record store: remote REST panel if configured, local SQLite
	// otherwise.
	var records store.Records
	if svc.RecordStoreURL != "" {
		log.Info().Str("url", svc.RecordStoreURL).Msg("using remote record store")
		records = store.NewRESTRecords(svc.RecordStoreURL, svc.RecordStoreKey)
	} else {
		log.Info().Str("path", svc.DatabasePath).Msg("using local SQLite record store")
		sqliteStore, err := store.OpenSQLite(svc.DatabasePath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open record store")
		}
		records = sqliteStore
	}
	defer records.Close()

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewBus()

	sessions := session.NewStore(session.Options{
		SessionTTL: time.Duration(timers.SessionTimeout) * time.Second,
		PendingTTL: time.Duration(timers.PendingTokenTimeout) * time.Second,
	})

	table := registry.NewTable(registry.TableOptions{
		LivenessWindow: time.Duration(timers.HeartbeatWindow) * time.Second,
	})

	// Protocol services
	authServer := auth.NewServer(cfg, records, sessions, eventBus)
	presenceServer := presence.NewServer(cfg, records, sessions, eventBus)
	registryServer := registry.NewServer(cfg, records, table, eventBus)

	// Operator surfaces
	apiServer := api.NewServer(cfg, sessions, table)
	healthMgr := health.NewManager(cfg, records)
	sched := scheduler.NewScheduler(cfg, sessions, registryServer, table)
	cliHandler := cli.NewCLI(cfg, eventBus, sessions, table)

	// MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetApplicationData().MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 10)

	// Task 1: HTTP auth service. The consoles hit this first; failure to
	// bind is fatal.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", svc.AuthPort).Msg("starting auth service")
		if err := startWithRetry(ctx, "auth service", authServer.Start, 15); err != nil {
			log.Error().Err(err).Msg("auth service failed after retries")
			errCh <- fmt.Errorf("auth service: %w", err)
		}
	}()

	// Task 2: TCP presence service.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", svc.PresencePort).Msg("starting presence service")
		if err := startWithRetry(ctx, "presence service", presenceServer.Start, 15); err != nil {
			log.Error().Err(err).Msg("presence service failed after retries")
			errCh <- fmt.Errorf("presence service: %w", err)
		}
	}()

	// Task 3: UDP server registry.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", svc.RegistryPort).Msg("starting server registry")
		if err := startWithRetry(ctx, "server registry", registryServer.Start, 15); err != nil {
			log.Error().Err(err).Msg("server registry failed after retries")
			errCh <- fmt.Errorf("server registry: %w", err)
		}
	}()

	// Task 4: ops REST API (non-fatal: the consoles never talk to it)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", svc.APIPort).Msg("starting ops API server")
		if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
			log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
		}
	}()

	// Task 5: health check manager
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	// Task 6: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 7: scheduler (session and registry sweeps)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// Task 8: interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// The CLI 'quit' command reaches us through the bus.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested via CLI")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Cancel the root context to signal all goroutines
	cancel()

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Stop the event bus last
	eventBus.Stop()

	log.Info().Msg("RetroWFC stopped")
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors. Uses a fixed 3-second interval between retries, giving the OS time
// to release sockets after a previous run.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
