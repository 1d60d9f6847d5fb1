package payments

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory payment store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*Payment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]*Payment)}
}

func (s *MemoryStore) Create(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByClaim(ctx context.Context, claimID string) ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Payment
	for _, p := range s.payments {
		if p.ClaimID == claimID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListByPolicy(ctx context.Context, policyID string, limit int) ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Payment
	for _, p := range s.payments {
		if p.PolicyID == policyID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(payments []*Payment) {
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
