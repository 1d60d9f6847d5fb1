package claims

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory claim store for development and testing.
type MemoryStore struct {
	mu       sync.RWMutex
	claims   map[string]*Claim
	byNumber map[string]string // claim number -> id
}

// NewMemoryStore creates a new in-memory claim store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:   make(map[string]*Claim),
		byNumber: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, claim *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byNumber[claim.ClaimNumber]; exists {
		return ErrDuplicateClaimNumber
	}

	cp := *claim
	m.claims[claim.ID] = &cp
	m.byNumber[claim.ClaimNumber] = claim.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	claim, ok := m.claims[id]
	if !ok {
		return nil, ErrClaimNotFound
	}
	cp := *claim
	return &cp, nil
}

func (m *MemoryStore) GetByNumber(ctx context.Context, number string) (*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byNumber[number]
	if !ok {
		return nil, ErrClaimNotFound
	}
	cp := *m.claims[id]
	return &cp, nil
}

func (m *MemoryStore) UpdateFrom(ctx context.Context, claim *Claim, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.claims[claim.ID]
	if !ok {
		return ErrClaimNotFound
	}
	if current.Status != expect {
		return ErrConflict
	}
	cp := *claim
	m.claims[claim.ID] = &cp
	return nil
}

func (m *MemoryStore) SetAIEstimate(ctx context.Context, id string, costCents int64, confidence float64, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	claim, ok := m.claims[id]
	if !ok {
		return ErrClaimNotFound
	}
	cost := costCents
	conf := confidence
	claim.AIEstimateCents = &cost
	claim.AIConfidence = &conf
	claim.UpdatedAt = updatedAt
	return nil
}

func (m *MemoryStore) SetFraudScore(ctx context.Context, id string, score float64, riskLevel string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	claim, ok := m.claims[id]
	if !ok {
		return ErrClaimNotFound
	}
	s := score
	claim.FraudScore = &s
	claim.FraudRiskLevel = riskLevel
	claim.UpdatedAt = updatedAt
	return nil
}

func (m *MemoryStore) SetPayout(ctx context.Context, id string, payoutRef string, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	claim, ok := m.claims[id]
	if !ok {
		return ErrClaimNotFound
	}
	at := paidAt
	claim.PayoutRef = payoutRef
	claim.PaidAt = &at
	claim.UpdatedAt = paidAt
	return nil
}

func (m *MemoryStore) ListByPolicy(ctx context.Context, policyID string, status string, limit int) ([]*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Claim
	for _, claim := range m.claims {
		if claim.PolicyID != policyID {
			continue
		}
		if status != "" && string(claim.Status) != status {
			continue
		}
		cp := *claim
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
