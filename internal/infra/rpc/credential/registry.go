// Package credential owns the credential pool and its live health state.
//
// This package contains:
//   - Registry: the fixed set of credentials with per-record locking
//   - Tracker: applies attempt outcomes to records and drives status transitions
//   - HealthScore: the derived [0,1] ranking metric
package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/set718/keyrouter/internal/core/domain"
)

var (
	ErrNoCredentials     = errors.New("no credentials configured")
	ErrUnknownCredential = errors.New("unknown credential")
)

type entry struct {
	mu  sync.Mutex
	rec domain.CredentialRecord
}

// Registry holds the credential records. The set is fixed at construction.
// Every record has its own mutex; readers always receive copies.
type Registry struct {
	ids     []domain.CredentialID
	index   map[domain.CredentialID]int
	entries []*entry
}

// NewRegistry creates a registry in registry order, every credential Healthy.
func NewRegistry(ids []domain.CredentialID, cfg domain.PollingConfig) (*Registry, error) {
	if len(ids) == 0 {
		return nil, ErrNoCredentials
	}

	r := &Registry{
		ids:     make([]domain.CredentialID, 0, len(ids)),
		index:   make(map[domain.CredentialID]int, len(ids)),
		entries: make([]*entry, 0, len(ids)),
	}

	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("empty credential id at position %d", len(r.ids))
		}
		if _, dup := r.index[id]; dup {
			return nil, fmt.Errorf("duplicate credential id %q", id)
		}

		rec := domain.CredentialRecord{ID: id, Status: domain.StatusHealthy}
		rec.HealthScore = HealthScore(rec, cfg)

		r.index[id] = len(r.ids)
		r.ids = append(r.ids, id)
		r.entries = append(r.entries, &entry{rec: rec})
		PublishGauges(rec)
	}

	return r, nil
}

// List returns the credential ids in registry order.
func (r *Registry) List() []domain.CredentialID {
	out := make([]domain.CredentialID, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len returns the number of credentials.
func (r *Registry) Len() int {
	return len(r.ids)
}

// Index returns the registry position of id, or -1.
func (r *Registry) Index(id domain.CredentialID) int {
	i, ok := r.index[id]
	if !ok {
		return -1
	}
	return i
}

// Get returns a snapshot of the record.
func (r *Registry) Get(id domain.CredentialID) (domain.CredentialRecord, bool) {
	i, ok := r.index[id]
	if !ok {
		return domain.CredentialRecord{}, false
	}

	e := r.entries[i]
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Update applies mutate to one record as a single atomic step and returns the
// resulting snapshot. mutate must not call back into the registry.
func (r *Registry) Update(
	id domain.CredentialID,
	mutate func(rec *domain.CredentialRecord),
) (domain.CredentialRecord, error) {
	i, ok := r.index[id]
	if !ok {
		return domain.CredentialRecord{}, fmt.Errorf("%w: %s", ErrUnknownCredential, id)
	}

	e := r.entries[i]
	e.mu.Lock()
	defer e.mu.Unlock()

	mutate(&e.rec)
	e.rec.ID = id
	return e.rec, nil
}

// Snapshot returns a copy of every record in registry order. Each record is
// internally consistent; records are not captured at one common instant.
func (r *Registry) Snapshot() []domain.CredentialRecord {
	out := make([]domain.CredentialRecord, len(r.entries))
	for i, e := range r.entries {
		e.mu.Lock()
		out[i] = e.rec
		e.mu.Unlock()
	}
	return out
}
