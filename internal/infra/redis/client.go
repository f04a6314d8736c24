package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/set718/keyrouter/internal/infra/rpc"
)

// Client wraps Redis operations for health snapshots.
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// HealthSnapshot is one router instance's published health report.
type HealthSnapshot struct {
	Instance    string                     `json:"instance"`
	Strategy    string                     `json:"strategy"`
	PublishedAt time.Time                  `json:"published_at"`
	Credentials map[string]rpc.HealthEntry `json:"credentials"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "keyrouter"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Client{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func (c *Client) instancesKey() string {
	return fmt.Sprintf("%s:instances", c.prefix)
}

func (c *Client) healthKey(instance string) string {
	return fmt.Sprintf("%s:health:%s", c.prefix, instance)
}

// PublishHealth stores snap under its instance key with the configured TTL.
func (c *Client) PublishHealth(ctx context.Context, snap HealthSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.healthKey(snap.Instance), data, c.ttl)
	pipe.SAdd(ctx, c.instancesKey(), snap.Instance)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// ReadHealth returns the live snapshots of every instance, newest first.
// Instances whose snapshot expired are dropped from the index.
func (c *Client) ReadHealth(ctx context.Context) ([]HealthSnapshot, error) {
	instances, err := c.rdb.SMembers(ctx, c.instancesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers failed: %w", err)
	}

	out := make([]HealthSnapshot, 0, len(instances))
	for _, instance := range instances {
		data, err := c.rdb.Get(ctx, c.healthKey(instance)).Bytes()
		if err == redis.Nil {
			if err := c.rdb.SRem(ctx, c.instancesKey(), instance).Err(); err != nil {
				return nil, fmt.Errorf("srem failed: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get failed: %w", err)
		}

		var snap HealthSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("invalid snapshot for %s: %w", instance, err)
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return out, nil
}
