// Package recovery moves cooled-down credentials back into rotation.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
	"github.com/set718/keyrouter/internal/infra/rpc/credential"
	"github.com/set718/keyrouter/internal/metrics"
)

// Scheduler periodically promotes Unhealthy credentials whose recovery time
// has elapsed to Probation. It talks to the dispatcher only through the registry.
type Scheduler struct {
	reg *credential.Registry
	cfg domain.PollingConfig
	now func() time.Time
	log *slog.Logger
}

// NewScheduler creates a recovery scheduler.
func NewScheduler(reg *credential.Registry, cfg domain.PollingConfig) *Scheduler {
	return &Scheduler{
		reg: reg,
		cfg: cfg,
		now: time.Now,
		log: slog.Default(),
	}
}

// SetClock replaces the time source. Call before Start.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetLogger replaces the logger. Call before Start.
func (s *Scheduler) SetLogger(log *slog.Logger) {
	s.log = log
}

// Start runs the recovery loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = domain.DefaultPollingConfig().HealthCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Recovery loop started", "interval", interval, "recovery_time", s.cfg.RecoveryTime)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
			s.logSummary()
		}
	}
}

// RunOnce promotes every eligible credential and returns the ids it moved.
// Eligibility is re-checked inside the update, so a concurrent failure report
// that resets the cool-down wins.
func (s *Scheduler) RunOnce() []domain.CredentialID {
	now := s.now()

	var promoted []domain.CredentialID
	for _, rec := range s.reg.Snapshot() {
		if !s.due(rec, now) {
			continue
		}

		moved := false
		updated, err := s.reg.Update(rec.ID, func(r *domain.CredentialRecord) {
			if !s.due(*r, now) {
				return
			}
			r.Status = domain.StatusProbation
			moved = true
		})
		if err != nil {
			s.log.Error("Failed to promote credential", "credential", rec.ID, "error", err)
			continue
		}
		if !moved {
			continue
		}

		credential.PublishGauges(updated)
		metrics.RecoveriesTotal.WithLabelValues(string(rec.ID)).Inc()
		metrics.StatusTransitionsTotal.
			WithLabelValues(string(rec.ID), domain.StatusUnhealthy.String(), domain.StatusProbation.String()).
			Inc()

		s.log.Info("Credential on probation",
			"credential", rec.ID,
			"unhealthy_for", now.Sub(updated.UnhealthySince).Round(time.Second),
		)
		promoted = append(promoted, rec.ID)
	}

	return promoted
}

func (s *Scheduler) due(rec domain.CredentialRecord, now time.Time) bool {
	return rec.Status == domain.StatusUnhealthy && now.Sub(rec.UnhealthySince) >= s.cfg.RecoveryTime
}

func (s *Scheduler) logSummary() {
	snapshot := s.reg.Snapshot()
	healthy := 0
	for _, rec := range snapshot {
		if rec.Status == domain.StatusHealthy {
			healthy++
		}
	}
	s.log.Info("Health check", "healthy", healthy, "total", len(snapshot))
}
