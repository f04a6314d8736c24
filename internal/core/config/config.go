package config

import (
	"github.com/set718/keyrouter/internal/batch"
	"github.com/set718/keyrouter/internal/core/domain"
	redisclient "github.com/set718/keyrouter/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server  ServerConfig         `yaml:"server"`
	Logging LoggingConfig        `yaml:"logging"`
	Router  domain.PollingConfig `yaml:"router"`
	Backend BackendConfig        `yaml:"backend"`
	Redis   redisclient.Config   `yaml:"redis"`
	Batch   batch.Config         `yaml:"batch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Transport names the invoker used to reach the backend.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportGRPC Transport = "grpc"
)

// BackendConfig describes the service the credentials unlock.
type BackendConfig struct {
	Transport    Transport          `yaml:"transport"`
	BaseURL      string             `yaml:"base_url"`
	Endpoint     string             `yaml:"endpoint"`
	GRPCTarget   string             `yaml:"grpc_target"`
	GRPCMethod   string             `yaml:"grpc_method"`
	KeyEnvPrefix string             `yaml:"key_env_prefix"` // used when Credentials is empty
	Credentials  []CredentialConfig `yaml:"credentials"`
}

// CredentialConfig is one configured key. ID is what logs and metrics show.
type CredentialConfig struct {
	ID  string `yaml:"id"`
	Key string `yaml:"key"`
}
