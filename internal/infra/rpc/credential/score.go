package credential

import (
	"math"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
	"github.com/set718/keyrouter/internal/metrics"
)

// NormalizedSpeed maps an average latency to (0,1], decreasing with latency.
func NormalizedSpeed(avg time.Duration) float64 {
	secs := avg.Seconds()
	if secs < 0 {
		secs = 0
	}
	return 1 / (1 + secs)
}

// HealthScore combines success rate and speed using the configured weights.
func HealthScore(rec domain.CredentialRecord, cfg domain.PollingConfig) float64 {
	rtWeight, srWeight := cfg.Weights()
	score := srWeight*rec.SuccessRate() + rtWeight*NormalizedSpeed(rec.AvgResponseTime)
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PublishGauges refreshes the per-credential Prometheus gauges from rec.
func PublishGauges(rec domain.CredentialRecord) {
	id := string(rec.ID)
	metrics.CredentialStatus.WithLabelValues(id).Set(float64(rec.Status))
	metrics.CredentialHealthScore.WithLabelValues(id).Set(rec.HealthScore)
}
