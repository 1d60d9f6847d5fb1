package scoring

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory audit store for development and testing.
type MemoryStore struct {
	mu      sync.RWMutex
	byClaim map[string][]*Result
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byClaim: make(map[string][]*Result)}
}

func (m *MemoryStore) SaveResult(ctx context.Context, result *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *result
	m.byClaim[result.ClaimID] = append(m.byClaim[result.ClaimID], &cp)
	return nil
}

func (m *MemoryStore) ListByClaim(ctx context.Context, claimID string) ([]*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.byClaim[claimID]
	result := make([]*Result, 0, len(src))
	for _, r := range src {
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
