package policies

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory policy store for demo/development mode.
type MemoryStore struct {
	policies  map[string]*Policy
	byNumber  map[string]string // policy number -> ID
	customers map[string]*Customer
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies:  make(map[string]*Policy),
		byNumber:  make(map[string]string),
		customers: make(map[string]*Customer),
	}
}

func (m *MemoryStore) Create(ctx context.Context, policy *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byNumber[policy.PolicyNumber]; ok {
		return ErrDuplicatePolicyNumber
	}
	cp := *policy
	m.policies[policy.ID] = &cp
	m.byNumber[policy.PolicyNumber] = policy.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	policy, ok := m.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	// Return a copy to prevent races on the shared pointer
	cp := *policy
	return &cp, nil
}

func (m *MemoryStore) GetByNumber(ctx context.Context, number string) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byNumber[number]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *m.policies[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, policy *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[policy.ID]; !ok {
		return ErrPolicyNotFound
	}
	cp := *policy
	m.policies[policy.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdatePremium(ctx context.Context, id string, premiumCents int64, riskLevel RiskLevel, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy, ok := m.policies[id]
	if !ok {
		return ErrPolicyNotFound
	}
	policy.PremiumCents = premiumCents
	policy.RiskLevel = riskLevel
	policy.UpdatedAt = updatedAt
	return nil
}

func (m *MemoryStore) ListByCustomer(ctx context.Context, customerID string, status string, limit int) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Policy
	for _, p := range m.policies {
		if p.CustomerID != customerID {
			continue
		}
		if status != "" && string(p.Status) != status {
			continue
		}
		cp := *p
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Policy
	for _, p := range m.policies {
		if p.Status == StatusActive && p.EndDate.Before(before) {
			cp := *p
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) CreateCustomer(ctx context.Context, customer *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *customer
	m.customers[customer.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	customer, ok := m.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	cp := *customer
	return &cp, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
