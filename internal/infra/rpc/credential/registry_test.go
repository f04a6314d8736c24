package credential

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/set718/keyrouter/internal/core/domain"
)

func ids(names ...string) []domain.CredentialID {
	out := make([]domain.CredentialID, len(names))
	for i, n := range names {
		out[i] = domain.CredentialID(n)
	}
	return out
}

func TestNewRegistry_Validation(t *testing.T) {
	cfg := domain.DefaultPollingConfig()

	if _, err := NewRegistry(nil, cfg); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("empty registry error = %v, want ErrNoCredentials", err)
	}
	if _, err := NewRegistry(ids("k1", "k1"), cfg); err == nil {
		t.Error("expected error for duplicate ids")
	}
	if _, err := NewRegistry(ids("k1", ""), cfg); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestRegistry_ListIsStableCopy(t *testing.T) {
	reg, err := NewRegistry(ids("k1", "k2", "k3"), domain.DefaultPollingConfig())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	list := reg.List()
	list[0] = "mutated"

	again := reg.List()
	want := ids("k1", "k2", "k3")
	for i := range want {
		if again[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, again[i], want[i])
		}
	}
	if reg.Index("k3") != 2 || reg.Index("missing") != -1 {
		t.Errorf("Index mismatch: k3=%d missing=%d", reg.Index("k3"), reg.Index("missing"))
	}
}

func TestRegistry_InitialState(t *testing.T) {
	reg, _ := NewRegistry(ids("k1"), domain.DefaultPollingConfig())

	rec, ok := reg.Get("k1")
	if !ok {
		t.Fatal("k1 not found")
	}
	if rec.Status != domain.StatusHealthy {
		t.Errorf("initial status = %s, want healthy", rec.Status)
	}
	if math.Abs(rec.HealthScore-1.0) > 1e-9 {
		t.Errorf("initial health score = %v, want 1.0", rec.HealthScore)
	}
}

func TestRegistry_GetReturnsSnapshot(t *testing.T) {
	reg, _ := NewRegistry(ids("k1"), domain.DefaultPollingConfig())

	rec, _ := reg.Get("k1")
	rec.TotalRequests = 99
	rec.FailureCounts[domain.KindTimedOut] = 7

	fresh, _ := reg.Get("k1")
	if fresh.TotalRequests != 0 || fresh.FailureCounts[domain.KindTimedOut] != 0 {
		t.Errorf("Get returned a live alias: %+v", fresh)
	}
}

func TestRegistry_UpdateUnknown(t *testing.T) {
	reg, _ := NewRegistry(ids("k1"), domain.DefaultPollingConfig())

	_, err := reg.Update("nope", func(*domain.CredentialRecord) {})
	if !errors.Is(err, ErrUnknownCredential) {
		t.Errorf("Update(unknown) error = %v, want ErrUnknownCredential", err)
	}
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	reg, _ := NewRegistry(ids("k1", "k2"), domain.DefaultPollingConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.CredentialID("k1")
			if i%2 == 0 {
				id = "k2"
			}
			for j := 0; j < 100; j++ {
				_, _ = reg.Update(id, func(rec *domain.CredentialRecord) {
					rec.TotalRequests++
				})
				_ = reg.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	for _, rec := range reg.Snapshot() {
		if rec.TotalRequests != 2500 {
			t.Errorf("%s TotalRequests = %d, want 2500", rec.ID, rec.TotalRequests)
		}
	}
}
