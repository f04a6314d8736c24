package routing

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
)

// ErrorAction determines how the dispatcher handles a failed attempt.
type ErrorAction int

const (
	ActionFailover ErrorAction = iota // Exclude the credential, try another
	ActionFatal                       // Stop the dispatch
)

// ClassifyError turns an invoker error into a Failure. Errors that already
// carry a Failure keep their kind; deadlines become timeouts; anything else
// is treated as transient.
func ClassifyError(err error, elapsed time.Duration) *domain.Failure {
	var f *domain.Failure
	if errors.As(err, &f) {
		out := *f
		if out.Kind == domain.KindNone {
			out.Kind = domain.KindTransient
		}
		if out.Elapsed == 0 {
			out.Elapsed = elapsed
		}
		if out.Err == nil {
			out.Err = err
		}
		return &out
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.Failure{Kind: domain.KindTimedOut, Elapsed: elapsed, Err: err}
	}

	return &domain.Failure{Kind: domain.KindTransient, Elapsed: elapsed, Err: err}
}

// ActionFor returns the dispatcher action for a failure kind.
func ActionFor(kind domain.ErrorKind) ErrorAction {
	if kind.Retryable() {
		return ActionFailover
	}
	return ActionFatal
}

// calculateBackoff returns the pause before retry number attempt (1-based):
// base * 2^(attempt-1), capped at maxDelay when maxDelay > 0.
func calculateBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}

	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && delay > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
