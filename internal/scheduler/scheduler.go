// Package scheduler runs the fixed-interval background loops: session
// expiry, registry liveness eviction and a periodic stats line. These sweeps
// are the only sources of unsolicited state removal in the system.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/registry"
	"github.com/retrowfc-project/retrowfc/internal/session"
)

// Scheduler manages the periodic sweep loops.
type Scheduler struct {
	cfg      *config.Config
	sessions *session.Store
	registry *registry.Server
	table    *registry.Table
}

// NewScheduler creates a scheduler over the shared stores.
func NewScheduler(cfg *config.Config, sessions *session.Store, reg *registry.Server, table *registry.Table) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		sessions: sessions,
		registry: reg,
		table:    table,
	}
}

// Start runs all sweep loops until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	timers := s.cfg.GetApplicationData().Timers
	go s.runSessionSweepLoop(ctx, intervalOr(timers.SessionSweepInterval, 60))
	go s.runRegistrySweepLoop(ctx, intervalOr(timers.RegistrySweepInterval, 30))
	go s.runStatsLoop(ctx, intervalOr(timers.StatsInterval, 60))

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func intervalOr(secs, def int) time.Duration {
	if secs <= 0 {
		secs = def
	}
	return time.Duration(secs) * time.Second
}

// runSessionSweepLoop expires idle sessions and stale pending tokens.
func (s *Scheduler) runSessionSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := s.sessions.ExpireSweep(now); removed > 0 {
				log.Debug().Int("removed", removed).Msg("session sweep")
			}
		}
	}
}

// runRegistrySweepLoop evicts server registrations past the liveness window.
func (s *Scheduler) runRegistrySweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.registry.SweepNow(ctx); evicted > 0 {
				log.Debug().Int("evicted", evicted).Msg("registry sweep")
			}
		}
	}
}

// runStatsLoop logs a periodic one-line summary of live state.
func (s *Scheduler) runStatsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info().
				Int("sessions", s.sessions.Count()).
				Int("servers", s.table.Count()).
				Msg("stats")
		}
	}
}
