package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
	"github.com/set718/keyrouter/internal/infra/rpc"
)

// HealthSource is implemented by *rpc.Client.
type HealthSource interface {
	HealthReport() map[domain.CredentialID]rpc.HealthEntry
	Strategy() domain.StrategyKind
}

// Publisher pushes the router's health report to Redis on a fixed interval.
type Publisher struct {
	client   *Client
	source   HealthSource
	instance string
	interval time.Duration
	log      *slog.Logger
}

// NewPublisher creates a publisher for one router instance.
func NewPublisher(client *Client, source HealthSource, instance string, interval time.Duration) *Publisher {
	return &Publisher{
		client:   client,
		source:   source,
		instance: instance,
		interval: interval,
		log:      slog.Default(),
	}
}

// Start publishes immediately, then every interval until ctx is done.
func (p *Publisher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.publish(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

// Snapshot builds the snapshot that would be published now.
func (p *Publisher) Snapshot() HealthSnapshot {
	report := p.source.HealthReport()
	creds := make(map[string]rpc.HealthEntry, len(report))
	for id, entry := range report {
		creds[string(id)] = entry
	}

	return HealthSnapshot{
		Instance:    p.instance,
		Strategy:    string(p.source.Strategy()),
		PublishedAt: time.Now().UTC(),
		Credentials: creds,
	}
}

func (p *Publisher) publish(ctx context.Context) {
	if err := p.client.PublishHealth(ctx, p.Snapshot()); err != nil && ctx.Err() == nil {
		p.log.Warn("Failed to publish health snapshot", "instance", p.instance, "error", err)
	}
}
