package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/set718/keyrouter/internal/core/config"
	"github.com/set718/keyrouter/internal/health"
	redisclient "github.com/set718/keyrouter/internal/infra/redis"
	"github.com/set718/keyrouter/internal/infra/rpc"
)

// Service is the main application struct that manages the router lifecycle.
type Service struct {
	cfg          *config.AppConfig
	client       *rpc.Client
	closer       io.Closer // gRPC connection, nil for HTTP
	healthServer *health.Server
	redisClient  *redisclient.Client
	publisher    *redisclient.Publisher
	instance     string
	log          *slog.Logger
}

// NewService builds the invoker, router client and the optional Redis
// publisher from cfg. Keys are resolved from cfg or from environ.
func NewService(cfg *config.AppConfig, environ []string) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ids, keys, err := cfg.Backend.ResolveCredentials(environ)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		instance: instanceName(),
		log:      slog.Default().With("component", "keyrouter"),
	}

	var invoker rpc.Invoker
	switch cfg.Backend.Transport {
	case config.TransportGRPC:
		g, err := rpc.NewGRPCInvoker(cfg.Backend.GRPCTarget, cfg.Backend.GRPCMethod, keys)
		if err != nil {
			return nil, fmt.Errorf("failed to init grpc invoker: %w", err)
		}
		invoker, s.closer = g, g
	default:
		// The client timeout is a backstop behind the per-attempt deadline.
		invoker = rpc.NewHTTPInvoker(cfg.Backend.BaseURL, cfg.Backend.Endpoint, keys, 2*cfg.Router.Timeout)
	}

	client, err := rpc.NewClient(ids, invoker, cfg.Router)
	if err != nil {
		s.close()
		return nil, err
	}
	client.SetLogger(s.log)
	s.client = client
	s.healthServer = health.NewServer(client, cfg.Server.Port)

	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		s.redisClient = rc
		s.publisher = redisclient.NewPublisher(rc, client, s.instance, cfg.Router.HealthCheckInterval)
	}

	s.log.Info("Router initialized",
		"instance", s.instance,
		"credentials", len(ids),
		"strategy", cfg.Router.Strategy,
		"transport", cfg.Backend.Transport,
	)
	return s, nil
}

// Client returns the router client.
func (s *Service) Client() *rpc.Client {
	return s.client
}

// Instance returns the name this process publishes health under.
func (s *Service) Instance() string {
	return s.instance
}

// Start starts the recovery loop, the health server and the publisher.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	go s.client.Start(ctx)

	if s.publisher != nil {
		s.log.Info("Publishing health snapshots", "instance", s.instance)
		go s.publisher.Start(ctx)
	}

	return nil
}

// Stop stops the service.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping router...")
	s.log.Info("Final credential state\n" + s.client.Dashboard())

	s.close()
	return s.healthServer.Stop(ctx)
}

func (s *Service) close() {
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			s.log.Warn("Failed to close backend connection", "error", err)
		}
	}
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "keyrouter"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// ShutdownTimeout bounds Stop when the process receives a signal.
const ShutdownTimeout = 15 * time.Second
