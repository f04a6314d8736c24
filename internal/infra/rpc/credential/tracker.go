package credential

import (
	"log/slog"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
	"github.com/set718/keyrouter/internal/metrics"
)

// Tracker applies attempt outcomes to the registry. It is the only component
// that moves a credential into Unhealthy.
type Tracker struct {
	reg *Registry
	cfg domain.PollingConfig
	now func() time.Time
	log *slog.Logger
}

// NewTracker creates a tracker over reg.
func NewTracker(reg *Registry, cfg domain.PollingConfig) *Tracker {
	return &Tracker{
		reg: reg,
		cfg: cfg,
		now: time.Now,
		log: slog.Default(),
	}
}

// SetClock replaces the time source. Call before the tracker is shared.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// SetLogger replaces the logger. Call before the tracker is shared.
func (t *Tracker) SetLogger(log *slog.Logger) {
	t.log = log
}

// Report records one outcome. Counters, latency average, status and health
// score change together in a single registry update.
func (t *Tracker) Report(o domain.Outcome) (domain.CredentialRecord, error) {
	now := t.now()

	var from domain.Status
	rec, err := t.reg.Update(o.Credential, func(rec *domain.CredentialRecord) {
		from = rec.Status
		rec.TotalRequests++

		if o.Success {
			t.applySuccess(rec, o)
		} else {
			t.applyFailure(rec, o, now)
		}

		rec.HealthScore = HealthScore(*rec, t.cfg)
	})
	if err != nil {
		return rec, err
	}

	PublishGauges(rec)
	if from != rec.Status {
		t.logTransition(rec, from, o)
	}

	return rec, nil
}

func (t *Tracker) applySuccess(rec *domain.CredentialRecord, o domain.Outcome) {
	rec.TotalSuccesses++
	rec.ConsecutiveFailures = 0
	t.observeLatency(rec, o.Latency)

	// Probation success, or an unhealthy credential that served a fallback pick.
	if rec.Status != domain.StatusHealthy {
		rec.Status = domain.StatusHealthy
		rec.UnhealthySince = time.Time{}
	}
}

func (t *Tracker) applyFailure(rec *domain.CredentialRecord, o domain.Outcome, now time.Time) {
	kind := o.Kind
	if kind == domain.KindNone {
		kind = domain.KindTransient
	}

	rec.TotalFailures++
	rec.FailureCounts[kind]++
	rec.ConsecutiveFailures++

	if kind.LatencyBearing() {
		t.observeLatency(rec, o.Latency)
	}

	switch {
	case rec.Status == domain.StatusProbation:
		rec.ConsecutiveFailures = max(rec.ConsecutiveFailures, t.cfg.FailureThreshold)
		rec.Status = domain.StatusUnhealthy
		rec.UnhealthySince = now
	case rec.ConsecutiveFailures >= t.cfg.FailureThreshold:
		rec.Status = domain.StatusUnhealthy
		rec.UnhealthySince = now
	}
}

// observeLatency folds a sample into the moving average. The first sample
// seeds the average directly.
func (t *Tracker) observeLatency(rec *domain.CredentialRecord, latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	if rec.AvgResponseTime == 0 {
		rec.AvgResponseTime = latency
		return
	}

	alpha := t.cfg.EMAAlpha
	rec.AvgResponseTime = time.Duration(
		alpha*float64(latency) + (1-alpha)*float64(rec.AvgResponseTime),
	)
}

func (t *Tracker) logTransition(rec domain.CredentialRecord, from domain.Status, o domain.Outcome) {
	metrics.StatusTransitionsTotal.
		WithLabelValues(string(rec.ID), from.String(), rec.Status.String()).
		Inc()

	if rec.Status == domain.StatusUnhealthy {
		t.log.Warn("Credential marked unhealthy",
			"credential", rec.ID,
			"from", from,
			"consecutive_failures", rec.ConsecutiveFailures,
			"kind", o.Kind,
		)
		return
	}

	t.log.Info("Credential recovered",
		"credential", rec.ID,
		"from", from,
		"health_score", rec.HealthScore,
	)
}
