package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
	"github.com/set718/keyrouter/internal/infra/rpc/credential"
	"github.com/set718/keyrouter/internal/infra/rpc/recovery"
	"github.com/set718/keyrouter/internal/infra/rpc/routing"
)

// HealthEntry is the per-credential line of a health report.
type HealthEntry struct {
	Status              string           `json:"status"`
	SuccessRate         float64          `json:"success_rate"`
	AvgResponseTime     float64          `json:"avg_response_time"` // seconds
	HealthScore         float64          `json:"health_score"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	TotalRequests       int64            `json:"total_requests"`
	FailureReasons      map[string]int64 `json:"failure_reasons,omitempty"`
	LastUsedAt          time.Time        `json:"last_used_at"`
}

// Client is the high-level entry point. It owns the registry and wires the
// tracker, strategy, dispatcher and recovery scheduler around it.
type Client struct {
	cfg        domain.PollingConfig
	registry   *credential.Registry
	tracker    *credential.Tracker
	strategy   routing.Strategy
	dispatcher *routing.Dispatcher
	scheduler  *recovery.Scheduler
}

// NewClient validates cfg and builds a client over ids.
func NewClient(ids []CredentialID, invoker Invoker, cfg PollingConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid router config: %w", err)
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}

	reg, err := credential.NewRegistry(ids, cfg)
	if err != nil {
		return nil, err
	}

	strategy, err := routing.NewStrategy(cfg.Strategy, cfg)
	if err != nil {
		return nil, err
	}

	tracker := credential.NewTracker(reg, cfg)
	return &Client{
		cfg:        cfg,
		registry:   reg,
		tracker:    tracker,
		strategy:   strategy,
		dispatcher: routing.NewDispatcher(reg, tracker, strategy, invoker, cfg),
		scheduler:  recovery.NewScheduler(reg, cfg),
	}, nil
}

// SetLogger routes every component's logs to log. Call before Start.
func (c *Client) SetLogger(log *slog.Logger) {
	c.tracker.SetLogger(log)
	c.dispatcher.SetLogger(log)
	c.scheduler.SetLogger(log)
}

// Dispatch sends req through the pool with failover.
func (c *Client) Dispatch(ctx context.Context, req any) (any, error) {
	return c.dispatcher.Dispatch(ctx, req)
}

// Start runs the recovery loop until ctx is done.
func (c *Client) Start(ctx context.Context) {
	c.scheduler.Start(ctx)
}

// Recover runs one recovery pass immediately.
func (c *Client) Recover() []CredentialID {
	return c.scheduler.RunOnce()
}

// Registry exposes the underlying registry for read access.
func (c *Client) Registry() *credential.Registry {
	return c.registry
}

// Strategy returns the configured strategy name.
func (c *Client) Strategy() domain.StrategyKind {
	return c.strategy.Kind()
}

// HealthReport returns a snapshot of every credential.
func (c *Client) HealthReport() map[CredentialID]HealthEntry {
	snapshot := c.registry.Snapshot()
	report := make(map[CredentialID]HealthEntry, len(snapshot))
	for _, rec := range snapshot {
		report[rec.ID] = NewHealthEntry(rec)
	}
	return report
}

// NewHealthEntry converts a record to its report form.
func NewHealthEntry(rec domain.CredentialRecord) HealthEntry {
	entry := HealthEntry{
		Status:              rec.Status.String(),
		SuccessRate:         rec.SuccessRate(),
		AvgResponseTime:     rec.AvgResponseTime.Seconds(),
		HealthScore:         rec.HealthScore,
		ConsecutiveFailures: rec.ConsecutiveFailures,
		TotalRequests:       rec.TotalRequests,
		LastUsedAt:          rec.LastUsedAt,
	}
	if reasons := rec.FailureReasons(); len(reasons) > 0 {
		entry.FailureReasons = reasons
	}
	return entry
}

// Dashboard returns a formatted dashboard string.
func (c *Client) Dashboard() string {
	var sb strings.Builder

	snapshot := c.registry.Snapshot()
	healthy := 0
	for _, rec := range snapshot {
		if rec.Status == domain.StatusHealthy {
			healthy++
		}
	}

	sb.WriteString(fmt.Sprintf("\n=== Credential Dashboard (strategy: %s) ===\n\n", c.strategy.Kind()))

	for _, rec := range snapshot {
		statusStr := map[domain.Status]string{
			domain.StatusHealthy:   "✅ HEALTHY",
			domain.StatusProbation: "⚠️  PROBATION",
			domain.StatusUnhealthy: "🔴 UNHEALTHY",
		}[rec.Status]

		sb.WriteString(fmt.Sprintf("Credential: %s\n", rec.ID))
		sb.WriteString(fmt.Sprintf("  Status: %s\n", statusStr))
		sb.WriteString(fmt.Sprintf("  Health Score: %.3f\n", rec.HealthScore))
		sb.WriteString(fmt.Sprintf("  Success Rate: %.1f%% (%d/%d)\n",
			rec.SuccessRate()*100, rec.TotalSuccesses, rec.TotalRequests))
		sb.WriteString(fmt.Sprintf("  Avg Latency: %v\n", rec.AvgResponseTime.Round(time.Millisecond)))
		sb.WriteString(fmt.Sprintf("  Consecutive Failures: %d\n", rec.ConsecutiveFailures))
		if reasons := rec.FailureReasons(); len(reasons) > 0 {
			sb.WriteString(fmt.Sprintf("  Failure Reasons: %v\n", reasons))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Healthy: %d/%d\n", healthy, len(snapshot)))
	return sb.String()
}
