package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/set718/keyrouter/internal/batch"
	"github.com/set718/keyrouter/internal/core/domain"
)

// DefaultKeyEnvPrefix is scanned for keys when none are listed in the file.
const DefaultKeyEnvPrefix = "DIFY_API_KEY_"

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	cfg := &AppConfig{
		Router: domain.DefaultPollingConfig(),
		Batch:  batch.DefaultConfig(),
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults, which is enough when keys come from the environment.
func Load(path string) (*AppConfig, error) {
	// Router defaults are set before parsing so explicit zeros survive.
	cfg := AppConfig{
		Router: domain.DefaultPollingConfig(),
		Batch:  batch.DefaultConfig(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Backend.Transport == "" {
		cfg.Backend.Transport = TransportHTTP
	}
	if cfg.Backend.Endpoint == "" {
		cfg.Backend.Endpoint = "/chat-messages"
	}
	if cfg.Backend.KeyEnvPrefix == "" {
		cfg.Backend.KeyEnvPrefix = DefaultKeyEnvPrefix
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "keyrouter"
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = 10 * time.Minute
	}
	if cfg.Batch.Size <= 0 {
		cfg.Batch.Size = batch.DefaultConfig().Size
	}
	if cfg.Batch.Concurrency <= 0 {
		cfg.Batch.Concurrency = cfg.Router.MaxConcurrent
	}
}

// Validate checks the whole configuration.
func (c *AppConfig) Validate() error {
	var errs []error

	if err := c.Router.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("router: %w", err))
	}

	switch c.Backend.Transport {
	case TransportHTTP:
		if c.Backend.BaseURL == "" {
			errs = append(errs, errors.New("backend.base_url is required for http transport"))
		}
	case TransportGRPC:
		if c.Backend.GRPCTarget == "" || c.Backend.GRPCMethod == "" {
			errs = append(errs, errors.New("backend.grpc_target and backend.grpc_method are required for grpc transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend.transport %q", c.Backend.Transport))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Batch.Delay < 0 {
		errs = append(errs, errors.New("batch.delay must not be negative"))
	}

	return errors.Join(errs...)
}

// ResolveCredentials returns the credential ids in order and their keys.
// Listed credentials win; otherwise keys are discovered from environ
// (KEY_PREFIX1, KEY_PREFIX2, ...) and named key-1, key-2, ...
func (b BackendConfig) ResolveCredentials(environ []string) ([]domain.CredentialID, map[domain.CredentialID]string, error) {
	keys := make(map[domain.CredentialID]string)
	var ids []domain.CredentialID

	if len(b.Credentials) > 0 {
		for i, c := range b.Credentials {
			id := domain.CredentialID(c.ID)
			if id == "" {
				id = domain.CredentialID(fmt.Sprintf("key-%d", i+1))
			}
			if c.Key == "" {
				return nil, nil, fmt.Errorf("credential %s has an empty key", id)
			}
			if _, dup := keys[id]; dup {
				return nil, nil, fmt.Errorf("duplicate credential id %q", id)
			}
			keys[id] = c.Key
			ids = append(ids, id)
		}
		return ids, keys, nil
	}

	found := DiscoverKeys(b.KeyEnvPrefix, environ)
	if len(found) == 0 {
		return nil, nil, fmt.Errorf("no credentials configured and no %s* environment variables set", b.KeyEnvPrefix)
	}
	for _, k := range found {
		id := domain.CredentialID(fmt.Sprintf("key-%d", k.Number))
		keys[id] = k.Value
		ids = append(ids, id)
	}
	return ids, keys, nil
}

// EnvKey is one key found in the environment.
type EnvKey struct {
	Number int
	Value  string
}

// DiscoverKeys returns non-empty PREFIX<n> variables ordered by n.
// Gaps in the numbering are allowed.
func DiscoverKeys(prefix string, environ []string) []EnvKey {
	var out []EnvKey
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		suffix, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, EnvKey{Number: n, Value: strings.TrimSpace(value)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
