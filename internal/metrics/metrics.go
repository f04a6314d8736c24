package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesTotal tracks finished dispatches by result
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrouter_dispatches_total",
			Help: "Total number of dispatches by result",
		},
		[]string{"result"},
	)

	// AttemptsTotal tracks invocation attempts per credential
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrouter_attempts_total",
			Help: "Total number of invocation attempts",
		},
		[]string{"credential", "result"},
	)

	// AttemptFailuresTotal tracks failed attempts by error kind
	AttemptFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrouter_attempt_failures_total",
			Help: "Total number of failed attempts by error kind",
		},
		[]string{"credential", "kind"},
	)

	// AttemptLatency tracks invocation latency
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyrouter_attempt_latency_seconds",
			Help:    "Invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"credential"},
	)

	// StatusTransitionsTotal tracks credential status changes
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrouter_status_transitions_total",
			Help: "Total number of credential status transitions",
		},
		[]string{"credential", "from", "to"},
	)

	// RecoveriesTotal tracks credentials moved to probation by the recovery loop
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrouter_recoveries_total",
			Help: "Total number of credentials moved to probation",
		},
		[]string{"credential"},
	)

	// CredentialStatus exposes the current status (0 healthy, 1 unhealthy, 2 probation)
	CredentialStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keyrouter_credential_status",
			Help: "Current credential status (0 healthy, 1 unhealthy, 2 probation)",
		},
		[]string{"credential"},
	)

	// CredentialHealthScore exposes the derived health score
	CredentialHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keyrouter_credential_health_score",
			Help: "Derived credential health score in [0,1]",
		},
		[]string{"credential"},
	)

	// InFlight tracks invocations currently holding a concurrency slot
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyrouter_inflight_invocations",
			Help: "Invocations currently in flight",
		},
	)

	// BatchItemsTotal tracks batch items by result
	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrouter_batch_items_total",
			Help: "Total number of batch items processed",
		},
		[]string{"result"},
	)
)
