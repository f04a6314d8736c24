package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
)

var (
	// ErrAllCredentialsExhausted means every credential was already tried in this dispatch.
	ErrAllCredentialsExhausted = errors.New("all credentials exhausted")

	// ErrAllAttemptsFailed means max_retries+1 attempts failed.
	ErrAllAttemptsFailed = errors.New("all attempts failed")

	// ErrGateTimeout means no concurrency slot freed up within the timeout.
	ErrGateTimeout = errors.New("timed out waiting for a concurrency slot")
)

// AttemptFailure records one failed attempt of a dispatch.
type AttemptFailure struct {
	Credential domain.CredentialID
	Kind       domain.ErrorKind
	Elapsed    time.Duration
	RetryAfter time.Duration
	Err        error
}

// DispatchError is returned when a dispatch ends without a response.
// Err is one of the package sentinels, or the non-retryable failure that
// stopped the dispatch.
type DispatchError struct {
	ID       string
	Err      error
	Attempts []AttemptFailure
}

func (e *DispatchError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("dispatch %s: %v", e.ID, e.Err)
	}

	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Credential, a.Kind))
	}
	return fmt.Sprintf("dispatch %s: %v (%s)", e.ID, e.Err, strings.Join(parts, ", "))
}

// Unwrap exposes the sentinel and the last attempt's cause.
func (e *DispatchError) Unwrap() []error {
	errs := []error{e.Err}
	if n := len(e.Attempts); n > 0 && e.Attempts[n-1].Err != nil {
		errs = append(errs, e.Attempts[n-1].Err)
	}
	return errs
}

// ByCredential returns the last failure of each attempted credential.
func (e *DispatchError) ByCredential() map[domain.CredentialID]AttemptFailure {
	out := make(map[domain.CredentialID]AttemptFailure, len(e.Attempts))
	for _, a := range e.Attempts {
		out[a.Credential] = a
	}
	return out
}
