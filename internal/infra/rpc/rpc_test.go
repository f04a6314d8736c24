package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
)

// MockInvoker fails the credentials in failing and counts calls per credential.
type MockInvoker struct {
	mu      sync.Mutex
	failing map[CredentialID]domain.ErrorKind
	calls   map[CredentialID]int
}

func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		failing: make(map[CredentialID]domain.ErrorKind),
		calls:   make(map[CredentialID]int),
	}
}

func (m *MockInvoker) Invoke(ctx context.Context, id CredentialID, req any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[id]++
	if kind, ok := m.failing[id]; ok {
		return nil, domain.NewFailure(kind, fmt.Errorf("mock invoker %s failed", id))
	}
	return fmt.Sprintf("%v via %s", req, id), nil
}

func (m *MockInvoker) SetFailing(id CredentialID, kind domain.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[id] = kind
}

func (m *MockInvoker) Clear(id CredentialID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failing, id)
}

func testConfig() PollingConfig {
	cfg := DefaultPollingConfig()
	cfg.RetryDelay = 0
	cfg.FailureThreshold = 2
	cfg.RecoveryTime = 0
	return cfg
}

func TestNewClient_Validation(t *testing.T) {
	inv := NewMockInvoker()

	bad := testConfig()
	bad.FailureThreshold = 0
	if _, err := NewClient([]CredentialID{"k1"}, inv, bad); err == nil {
		t.Error("expected error for invalid config")
	}
	if _, err := NewClient(nil, inv, testConfig()); err == nil {
		t.Error("expected error for empty credential list")
	}
	if _, err := NewClient([]CredentialID{"k1"}, nil, testConfig()); err == nil {
		t.Error("expected error for nil invoker")
	}
}

func TestClient_FailoverAndReport(t *testing.T) {
	inv := NewMockInvoker()
	inv.SetFailing("k1", domain.KindRateLimited)

	cfg := testConfig()
	cfg.Strategy = domain.StrategyRoundRobin
	client, err := NewClient([]CredentialID{"k1", "k2"}, inv, cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		resp, err := client.Dispatch(ctx, "hello")
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if resp != "hello via k2" {
			t.Errorf("response = %v, want hello via k2", resp)
		}
	}

	report := client.HealthReport()
	k1 := report["k1"]
	if k1.Status != "unhealthy" {
		t.Errorf("k1 status = %s, want unhealthy", k1.Status)
	}
	if k1.FailureReasons["rate_limited"] != 2 {
		t.Errorf("k1 failure reasons = %v", k1.FailureReasons)
	}
	if report["k2"].SuccessRate != 1 || report["k2"].TotalRequests != 3 {
		t.Errorf("k2 entry = %+v", report["k2"])
	}

	dash := client.Dashboard()
	for _, want := range []string{"Credential: k1", "UNHEALTHY", "Healthy: 1/2"} {
		if !strings.Contains(dash, want) {
			t.Errorf("dashboard missing %q:\n%s", want, dash)
		}
	}
}

func TestClient_RecoveryCycle(t *testing.T) {
	inv := NewMockInvoker()
	inv.SetFailing("k1", domain.KindTransient)
	inv.SetFailing("k2", domain.KindTransient)

	cfg := testConfig()
	cfg.MaxRetries = 1
	client, err := NewClient([]CredentialID{"k1", "k2"}, inv, cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.Dispatch(ctx, "q"); !errors.Is(err, ErrAllAttemptsFailed) {
			t.Fatalf("dispatch %d error = %v, want ErrAllAttemptsFailed", i, err)
		}
	}
	for id, entry := range client.HealthReport() {
		if entry.Status != "unhealthy" {
			t.Fatalf("%s status = %s, want unhealthy", id, entry.Status)
		}
	}

	// Fallback still reaches a credential while everything is unhealthy.
	inv.Clear("k1")
	inv.Clear("k2")
	if _, err := client.Dispatch(ctx, "q"); err != nil {
		t.Fatalf("fallback dispatch: %v", err)
	}

	if got := client.Recover(); len(got) != 1 {
		t.Errorf("recovered %v, want the remaining unhealthy credential", got)
	}
	for id, entry := range client.HealthReport() {
		if entry.Status == "unhealthy" {
			t.Errorf("%s still unhealthy after recovery", id)
		}
	}
}

func TestClient_StartStops(t *testing.T) {
	cfg := testConfig()
	cfg.HealthCheckInterval = time.Millisecond
	client, err := NewClient([]CredentialID{"k1"}, NewMockInvoker(), cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		client.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context deadline")
	}
}
