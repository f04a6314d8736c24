package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
	"github.com/set718/keyrouter/internal/infra/rpc/credential"
)

// Strategy picks the next credential to try.
type Strategy interface {
	// Kind returns the strategy name
	Kind() domain.StrategyKind

	// Select returns the next credential not in exclude, or false when none is left.
	// The chosen credential's LastUsedAt is set before Select returns.
	Select(reg *credential.Registry, exclude map[domain.CredentialID]struct{}) (domain.CredentialID, bool)
}

// NewStrategy builds the strategy named by kind.
func NewStrategy(kind domain.StrategyKind, cfg domain.PollingConfig) (Strategy, error) {
	switch kind {
	case domain.StrategyRoundRobin:
		return NewRoundRobin(), nil
	case domain.StrategyHealthBased:
		return NewHealthBased(), nil
	case domain.StrategyWeighted:
		return NewWeighted(cfg), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}

// clock is shared by the strategies for LastUsedAt stamps.
type clock struct {
	now func() time.Time
}

// SetClock replaces the time source used for LastUsedAt.
func (c *clock) SetClock(now func() time.Time) {
	c.now = now
}

func (c *clock) touch(reg *credential.Registry, id domain.CredentialID) {
	now := c.now
	if now == nil {
		now = time.Now
	}
	ts := now()
	_, _ = reg.Update(id, func(rec *domain.CredentialRecord) {
		rec.LastUsedAt = ts
	})
}

// RoundRobin walks the registry in order with one shared cursor.
type RoundRobin struct {
	clock
	mu     sync.Mutex
	cursor int
}

// NewRoundRobin creates a round-robin strategy starting at the first credential.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{cursor: -1}
}

func (s *RoundRobin) Kind() domain.StrategyKind { return domain.StrategyRoundRobin }

func (s *RoundRobin) Select(
	reg *credential.Registry,
	exclude map[domain.CredentialID]struct{},
) (domain.CredentialID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := reg.Snapshot()
	n := len(snapshot)
	if n == 0 {
		return "", false
	}

	for step := 1; step <= n; step++ {
		i := ((s.cursor+step)%n + n) % n
		rec := snapshot[i]
		if _, skip := exclude[rec.ID]; skip {
			continue
		}
		if rec.Status == domain.StatusUnhealthy {
			continue
		}
		s.cursor = i
		s.touch(reg, rec.ID)
		return rec.ID, true
	}

	id, ok := fallback(snapshot, exclude)
	if ok {
		s.cursor = reg.Index(id)
		s.touch(reg, id)
	}
	return id, ok
}

// HealthBased picks the selectable credential with the best stored health score.
type HealthBased struct {
	clock
	mu sync.Mutex
}

// NewHealthBased creates a health-based strategy.
func NewHealthBased() *HealthBased {
	return &HealthBased{}
}

func (s *HealthBased) Kind() domain.StrategyKind { return domain.StrategyHealthBased }

func (s *HealthBased) Select(
	reg *credential.Registry,
	exclude map[domain.CredentialID]struct{},
) (domain.CredentialID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := pickBest(reg.Snapshot(), exclude, func(rec domain.CredentialRecord) float64 {
		return rec.HealthScore
	})
	if ok {
		s.touch(reg, id)
	}
	return id, ok
}

// Weighted picks the selectable credential with the best composite score,
// recomputed from the current counters on every call.
type Weighted struct {
	clock
	mu  sync.Mutex
	cfg domain.PollingConfig
}

// NewWeighted creates a weighted strategy using cfg's weights.
func NewWeighted(cfg domain.PollingConfig) *Weighted {
	return &Weighted{cfg: cfg}
}

func (s *Weighted) Kind() domain.StrategyKind { return domain.StrategyWeighted }

func (s *Weighted) Select(
	reg *credential.Registry,
	exclude map[domain.CredentialID]struct{},
) (domain.CredentialID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := pickBest(reg.Snapshot(), exclude, s.Score)
	if ok {
		s.touch(reg, id)
	}
	return id, ok
}

// Score returns the composite score for rec.
func (s *Weighted) Score(rec domain.CredentialRecord) float64 {
	rtWeight, srWeight := s.cfg.Weights()
	return rtWeight*credential.NormalizedSpeed(rec.AvgResponseTime) + srWeight*rec.SuccessRate()
}

// pickBest returns the highest scoring selectable candidate. Ties go to the
// least recently used, then to registry order. With no selectable candidate
// it falls back to the longest-unhealthy one.
func pickBest(
	snapshot []domain.CredentialRecord,
	exclude map[domain.CredentialID]struct{},
	score func(domain.CredentialRecord) float64,
) (domain.CredentialID, bool) {
	best := -1
	var bestScore float64

	for i, rec := range snapshot {
		if _, skip := exclude[rec.ID]; skip {
			continue
		}
		if !rec.Status.Selectable() {
			continue
		}

		sc := score(rec)
		switch {
		case best < 0:
		case sc > bestScore:
		case sc == bestScore && rec.LastUsedAt.Before(snapshot[best].LastUsedAt):
		default:
			continue
		}
		best, bestScore = i, sc
	}

	if best >= 0 {
		return snapshot[best].ID, true
	}
	return fallback(snapshot, exclude)
}

// fallback returns the non-excluded unhealthy credential that has been
// unhealthy the longest, so a full outage still gets traffic.
func fallback(
	snapshot []domain.CredentialRecord,
	exclude map[domain.CredentialID]struct{},
) (domain.CredentialID, bool) {
	best := -1
	for i, rec := range snapshot {
		if _, skip := exclude[rec.ID]; skip {
			continue
		}
		if rec.Status != domain.StatusUnhealthy {
			continue
		}
		if best < 0 || rec.UnhealthySince.Before(snapshot[best].UnhealthySince) {
			best = i
		}
	}

	if best < 0 {
		return "", false
	}
	return snapshot[best].ID, true
}
