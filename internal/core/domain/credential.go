package domain

import (
	"fmt"
	"time"
)

// CredentialID identifies one configured credential. It is a label, never the secret.
type CredentialID string

// Status represents the routing state of a credential
type Status int

const (
	StatusHealthy   Status = iota // Selectable at full trust
	StatusUnhealthy               // Excluded until its cool-down expires
	StatusProbation               // Selectable again; one failure sends it back
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusProbation:
		return "probation"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Selectable reports whether the status is eligible for normal selection.
func (s Status) Selectable() bool {
	return s == StatusHealthy || s == StatusProbation
}

// ErrorKind classifies a failed attempt.
type ErrorKind int

const (
	KindNone           ErrorKind = iota
	KindTransient                // Connection reset, 5xx
	KindRateLimited              // 429 or throttle phrases
	KindTimedOut                 // Attempt hit its deadline
	KindAuthRejected             // 401/403, credential specific
	KindInvalidRequest           // Request specific, retrying elsewhere cannot help

	NumErrorKinds = int(KindInvalidRequest) + 1
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindTimedOut:
		return "timed_out"
	case KindAuthRejected:
		return "auth_rejected"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether another credential may be tried after this failure.
// Auth rejections are credential specific, so they fail over like the rest.
func (k ErrorKind) Retryable() bool {
	return k != KindInvalidRequest
}

// LatencyBearing reports whether the failure produced a latency worth feeding
// into the response time average. Instant rejections do not.
func (k ErrorKind) LatencyBearing() bool {
	return k == KindTimedOut
}

// Failure is the error invokers return to classify a failed attempt.
type Failure struct {
	Kind       ErrorKind
	Elapsed    time.Duration
	RetryAfter time.Duration // Server hint, zero when absent
	Err        error
}

// NewFailure wraps err with a kind.
func NewFailure(kind ErrorKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome is the result of one attempt, reported to the health tracker.
type Outcome struct {
	Credential CredentialID
	Success    bool
	Latency    time.Duration
	Kind       ErrorKind
}

// CredentialRecord is the live state of one credential.
// It holds no pointers or maps, so a copy is an independent snapshot.
type CredentialRecord struct {
	ID                  CredentialID
	Status              Status
	ConsecutiveFailures int
	TotalRequests       int64
	TotalSuccesses      int64
	TotalFailures       int64
	FailureCounts       [NumErrorKinds]int64
	AvgResponseTime     time.Duration
	HealthScore         float64
	LastUsedAt          time.Time
	UnhealthySince      time.Time
}

// SuccessRate returns successes over requests. A credential with no traffic
// yet is given the benefit of the doubt.
func (r CredentialRecord) SuccessRate() float64 {
	if r.TotalRequests == 0 {
		return 1.0
	}
	return float64(r.TotalSuccesses) / float64(max(r.TotalRequests, 1))
}

// FailureReasons returns the non-zero failure counts keyed by kind name.
func (r CredentialRecord) FailureReasons() map[string]int64 {
	reasons := make(map[string]int64)
	for k, n := range r.FailureCounts {
		if n > 0 {
			reasons[ErrorKind(k).String()] = n
		}
	}
	return reasons
}
