package thresholds

import (
	"context"
	"sync"
	"time"

	"github.com/havenpoint/crisis-response-platform/internal/risk"
)

// Adjustment is a time-bounded multiplicative correction to a single
// (domain, severity) threshold. Never mutated after creation.
type Adjustment struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id,omitempty"`
	PopulationGroup string          `json:"population_group,omitempty"`
	Domain          risk.RiskDomain `json:"domain"`
	Severity        risk.Severity   `json:"severity"`
	Factor          float64         `json:"factor"`
	Reason          string          `json:"reason"`
	ValidationScore float64         `json:"validation_score"`
	EffectiveFrom   time.Time       `json:"effective_from"`
	ExpiresAt       time.Time       `json:"expires_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ActiveAt reports whether the adjustment's effective window contains t.
func (a *Adjustment) ActiveAt(t time.Time) bool {
	return !t.Before(a.EffectiveFrom) && t.Before(a.ExpiresAt)
}

// AdjustmentStore is the append-only adjustment repository contract.
type AdjustmentStore interface {
	Append(ctx context.Context, adj Adjustment) error
	ActiveForUser(ctx context.Context, userID string, now time.Time) ([]Adjustment, error)
}

// MemoryAdjustmentStore keeps adjustments in memory. Suitable for tests
// and single-process deployments.
type MemoryAdjustmentStore struct {
	mu     sync.RWMutex
	byUser map[string][]Adjustment
}

var _ AdjustmentStore = (*MemoryAdjustmentStore)(nil)

func NewMemoryAdjustmentStore() *MemoryAdjustmentStore {
	return &MemoryAdjustmentStore{byUser: make(map[string][]Adjustment)}
}

// Append records an adjustment. Existing entries are never modified.
func (s *MemoryAdjustmentStore) Append(_ context.Context, adj Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[adj.UserID] = append(s.byUser[adj.UserID], adj)
	return nil
}

// ActiveForUser returns the adjustments whose window contains now.
func (s *MemoryAdjustmentStore) ActiveForUser(_ context.Context, userID string, now time.Time) ([]Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []Adjustment
	for _, adj := range s.byUser[userID] {
		if adj.ActiveAt(now) {
			active = append(active, adj)
		}
	}
	return active, nil
}
