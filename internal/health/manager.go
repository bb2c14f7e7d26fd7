// Package health implements periodic host and dependency checks: disk
// utilization under the data directory, public IP drift, and record store
// reachability.
package health

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/store"
	"github.com/retrowfc-project/retrowfc/internal/util"
)

// Manager runs periodic health checks.
type Manager struct {
	cfg     *config.Config
	records store.Records

	lastPublicIP string
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, records store.Records) *Manager {
	return &Manager{
		cfg:     cfg,
		records: records,
	}
}

// Start launches all health check goroutines and blocks until the context
// is cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplicationData().Timers

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"disk_utilization", timers.DiskCheckInterval, m.checkDiskUtilization},
		{"public_ip", timers.PublicIPCheckInterval, m.checkPublicIP},
		{"record_store", timers.StoreCheckInterval, m.checkRecordStore},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			// Run immediately on startup
			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkDiskUtilization monitors the data directory disk and alerts at
// thresholds.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	path := filepath.Dir(m.cfg.GetServiceData().DatabasePath)
	if path == "" || path == "." {
		path = "/"
	}

	usage, err := util.GetDiskUsage(path)
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	// Alert thresholds: 80%, 90%, 95%
	switch {
	case usage.UsedPercent >= 95:
		log.Error().Float64("used_percent", usage.UsedPercent).Msg("disk almost full")
	case usage.UsedPercent >= 90:
		log.Warn().Float64("used_percent", usage.UsedPercent).Msg("disk usage high")
	case usage.UsedPercent >= 80:
		log.Info().Float64("used_percent", usage.UsedPercent).Msg("disk usage elevated")
	}
}

// checkPublicIP detects changes to the public IP address. The consoles
// resolve our services by the host handed out during authentication, so a
// drifted IP means stale DNS until the operator intervenes.
func (m *Manager) checkPublicIP(ctx context.Context) {
	ip, err := util.GetPublicIP()
	if err != nil {
		log.Warn().Err(err).Msg("public IP check failed")
		return
	}

	if m.lastPublicIP != "" && m.lastPublicIP != ip {
		log.Warn().
			Str("old_ip", m.lastPublicIP).
			Str("new_ip", ip).
			Str("public_host", m.cfg.GetServiceData().PublicHost).
			Msg("public IP changed, verify DNS for the public host")
	}
	m.lastPublicIP = ip
}

// checkRecordStore probes the record store with a cheap lookup. ErrNotFound
// counts as healthy; only transport or query failures are reported.
func (m *Manager) checkRecordStore(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.records.ProfileByID(probeCtx, 0)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Msg("record store health check failed")
		return
	}
	log.Trace().Msg("record store health check ok")
}
