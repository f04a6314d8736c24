package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BACKEND_URL", "https://api.example.com/v1")
	t.Setenv("TEST_REDIS_URL", "redis://localhost:6379/0")

	path := writeConfig(t, `
backend:
  base_url: "${TEST_BACKEND_URL}"
redis:
  url: "${TEST_REDIS_URL}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.BaseURL != "https://api.example.com/v1" {
		t.Errorf("BaseURL = %q, want %q", cfg.Backend.BaseURL, "https://api.example.com/v1")
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis.URL = %q, want %q", cfg.Redis.URL, "redis://localhost:6379/0")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: "https://api.example.com/v1"
router:
  strategy: weighted
  max_retries: 5
  timeout: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := domain.DefaultPollingConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Router.Strategy != domain.StrategyWeighted {
		t.Errorf("Strategy = %q, want weighted", cfg.Router.Strategy)
	}
	if cfg.Router.MaxRetries != 5 || cfg.Router.Timeout != 10*time.Second {
		t.Errorf("router overrides lost: %+v", cfg.Router)
	}
	if cfg.Router.RecoveryTime != def.RecoveryTime || cfg.Router.FailureThreshold != def.FailureThreshold {
		t.Errorf("router defaults not kept: %+v", cfg.Router)
	}
	if cfg.Backend.Transport != TransportHTTP || cfg.Backend.Endpoint != "/chat-messages" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Backend.KeyEnvPrefix != DefaultKeyEnvPrefix {
		t.Errorf("KeyEnvPrefix = %q", cfg.Backend.KeyEnvPrefix)
	}
	if cfg.Batch.Size != 5 || cfg.Batch.Concurrency != def.MaxConcurrent {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Router.Strategy != domain.DefaultPollingConfig().Strategy {
		t.Errorf("Strategy = %q", cfg.Router.Strategy)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "router: [not a map")); err == nil {
		t.Error("expected error for bad yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"valid", func(c *AppConfig) {}, ""},
		{"missing base url", func(c *AppConfig) { c.Backend.BaseURL = "" }, "base_url"},
		{"grpc without target", func(c *AppConfig) { c.Backend.Transport = TransportGRPC }, "grpc_target"},
		{"unknown transport", func(c *AppConfig) { c.Backend.Transport = "smoke" }, "unknown backend.transport"},
		{"bad router", func(c *AppConfig) { c.Router.MaxConcurrent = 0 }, "router"},
		{"bad port", func(c *AppConfig) { c.Server.Port = 70000 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Backend.BaseURL = "https://api.example.com/v1"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDiscoverKeys(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"DIFY_API_KEY_3=app-three",
		"DIFY_API_KEY_1= app-one ",
		"DIFY_API_KEY_2=",
		"DIFY_API_KEY_X=ignored",
		"DIFY_API_KEY_10=app-ten",
	}

	got := DiscoverKeys(DefaultKeyEnvPrefix, environ)
	want := []EnvKey{{1, "app-one"}, {3, "app-three"}, {10, "app-ten"}}
	if len(got) != len(want) {
		t.Fatalf("DiscoverKeys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DiscoverKeys()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResolveCredentials(t *testing.T) {
	t.Run("listed", func(t *testing.T) {
		b := BackendConfig{Credentials: []CredentialConfig{{ID: "primary", Key: "a"}, {Key: "b"}}}
		ids, keys, err := b.ResolveCredentials(nil)
		if err != nil {
			t.Fatalf("ResolveCredentials() error = %v", err)
		}
		if len(ids) != 2 || ids[0] != "primary" || ids[1] != "key-2" || keys["key-2"] != "b" {
			t.Errorf("ids = %v, keys = %v", ids, keys)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		b := BackendConfig{KeyEnvPrefix: "K_"}
		ids, keys, err := b.ResolveCredentials([]string{"K_2=b", "K_1=a"})
		if err != nil {
			t.Fatalf("ResolveCredentials() error = %v", err)
		}
		if len(ids) != 2 || ids[0] != "key-1" || keys["key-2"] != "b" {
			t.Errorf("ids = %v, keys = %v", ids, keys)
		}
	})

	t.Run("errors", func(t *testing.T) {
		cases := []BackendConfig{
			{KeyEnvPrefix: "K_"},
			{Credentials: []CredentialConfig{{ID: "a", Key: ""}}},
			{Credentials: []CredentialConfig{{ID: "a", Key: "x"}, {ID: "a", Key: "y"}}},
		}
		for _, b := range cases {
			if _, _, err := b.ResolveCredentials(nil); err == nil {
				t.Errorf("ResolveCredentials(%+v) expected error", b)
			}
		}
	})
}
