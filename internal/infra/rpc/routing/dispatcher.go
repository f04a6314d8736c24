// Package routing handles credential selection, failover and retry.
//
// This package contains:
//   - Strategy: selection policies (round-robin, health-based, weighted)
//   - Dispatcher: the bounded retry loop over credentials
//   - ClassifyError: maps invoker errors to failure kinds
package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/set718/keyrouter/internal/core/domain"
	"github.com/set718/keyrouter/internal/infra/rpc/credential"
	"github.com/set718/keyrouter/internal/metrics"
)

// Invoker performs the real call with one credential.
// Implementations must return once ctx is done. A failed call should return
// a *domain.Failure (possibly wrapped) so the dispatcher can classify it.
type Invoker interface {
	Invoke(ctx context.Context, id domain.CredentialID, req any) (any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, id domain.CredentialID, req any) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, id domain.CredentialID, req any) (any, error) {
	return f(ctx, id, req)
}

// Dispatcher sends requests through the credential pool. It is safe for
// concurrent use.
type Dispatcher struct {
	reg      *credential.Registry
	tracker  *credential.Tracker
	strategy Strategy
	invoker  Invoker
	cfg      domain.PollingConfig
	gate     *semaphore.Weighted
	log      *slog.Logger
}

// NewDispatcher creates a dispatcher. cfg.MaxConcurrent bounds in-flight
// invocations across all callers.
func NewDispatcher(
	reg *credential.Registry,
	tracker *credential.Tracker,
	strategy Strategy,
	invoker Invoker,
	cfg domain.PollingConfig,
) *Dispatcher {
	return &Dispatcher{
		reg:      reg,
		tracker:  tracker,
		strategy: strategy,
		invoker:  invoker,
		cfg:      cfg,
		gate:     semaphore.NewWeighted(int64(max(cfg.MaxConcurrent, 1))),
		log:      slog.Default(),
	}
}

// SetLogger replaces the logger. Call before the dispatcher is shared.
func (d *Dispatcher) SetLogger(log *slog.Logger) {
	d.log = log
}

// Dispatch tries up to MaxRetries+1 credentials, each at most once, and
// returns the first successful response. Every attempt is reported to the
// tracker before the retry decision is made.
func (d *Dispatcher) Dispatch(ctx context.Context, req any) (any, error) {
	id := uuid.NewString()
	exclude := make(map[domain.CredentialID]struct{}, d.reg.Len())
	var attempts []AttemptFailure

	maxAttempts := d.cfg.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt, d.cfg.RetryDelay, d.cfg.MaxRetryDelay)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, d.finish(id, "canceled", err, attempts)
			}
		}

		credID, ok := d.strategy.Select(d.reg, exclude)
		if !ok {
			return nil, d.finish(id, "exhausted", ErrAllCredentialsExhausted, attempts)
		}

		resp, failure, err := d.attempt(ctx, credID, req)
		if err != nil {
			return nil, d.finish(id, "canceled", err, attempts)
		}
		if failure == nil {
			metrics.DispatchesTotal.WithLabelValues("success").Inc()
			if attempt > 0 {
				d.log.Info("Dispatch succeeded after failover",
					"dispatch", id, "credential", credID, "attempt", attempt+1)
			}
			return resp, nil
		}

		attempts = append(attempts, AttemptFailure{
			Credential: credID,
			Kind:       failure.Kind,
			Elapsed:    failure.Elapsed,
			RetryAfter: failure.RetryAfter,
			Err:        failure,
		})
		exclude[credID] = struct{}{}

		if ActionFor(failure.Kind) == ActionFatal {
			return nil, d.finish(id, "aborted", failure, attempts)
		}

		d.log.Debug("Attempt failed, failing over",
			"dispatch", id,
			"credential", credID,
			"attempt", attempt+1,
			"kind", failure.Kind,
			"error", failure.Err,
		)
	}

	return nil, d.finish(id, "attempts_failed", ErrAllAttemptsFailed, attempts)
}

// attempt runs one invocation. A non-nil error means the dispatch must stop
// without blaming the credential (caller cancelled, or no slot in time).
func (d *Dispatcher) attempt(
	ctx context.Context,
	id domain.CredentialID,
	req any,
) (any, *domain.Failure, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if err := d.gate.Acquire(attemptCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, ErrGateTimeout
	}
	metrics.InFlight.Inc()

	start := time.Now()
	resp, err := d.invoker.Invoke(attemptCtx, id, req)
	elapsed := time.Since(start)

	d.gate.Release(1)
	metrics.InFlight.Dec()
	metrics.AttemptLatency.WithLabelValues(string(id)).Observe(elapsed.Seconds())

	if err == nil {
		metrics.AttemptsTotal.WithLabelValues(string(id), "success").Inc()
		d.report(domain.Outcome{Credential: id, Success: true, Latency: elapsed})
		return resp, nil, nil
	}

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	failure := ClassifyError(err, elapsed)
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		failure.Kind = domain.KindTimedOut
	}

	metrics.AttemptsTotal.WithLabelValues(string(id), "failure").Inc()
	metrics.AttemptFailuresTotal.WithLabelValues(string(id), failure.Kind.String()).Inc()
	d.report(domain.Outcome{Credential: id, Kind: failure.Kind, Latency: failure.Elapsed})

	return nil, failure, nil
}

func (d *Dispatcher) report(o domain.Outcome) {
	if _, err := d.tracker.Report(o); err != nil {
		d.log.Error("Failed to record outcome", "credential", o.Credential, "error", err)
	}
}

func (d *Dispatcher) finish(id, result string, cause error, attempts []AttemptFailure) error {
	metrics.DispatchesTotal.WithLabelValues(result).Inc()

	err := &DispatchError{ID: id, Err: cause, Attempts: attempts}
	d.log.Warn("Dispatch failed",
		"dispatch", id,
		"result", result,
		"attempts", len(attempts),
		"error", cause,
	)
	return err
}
