package incidents

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory incident store for development and testing.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewMemoryStore creates a new in-memory incident store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]*Incident)}
}

func (m *MemoryStore) Create(ctx context.Context, incident *Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *incident
	m.incidents[incident.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	incident, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	cp := *incident
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, incident *Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.incidents[incident.ID]; !ok {
		return ErrIncidentNotFound
	}
	cp := *incident
	m.incidents[incident.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByPolicy(ctx context.Context, policyID string, status string, limit int) ([]*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Incident
	for _, incident := range m.incidents {
		if incident.PolicyID != policyID {
			continue
		}
		if status != "" && string(incident.Status) != status {
			continue
		}
		cp := *incident
		result = append(result, &cp)
	}
	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Incident
	for _, incident := range m.incidents {
		if incident.DeviceID != deviceID {
			continue
		}
		cp := *incident
		result = append(result, &cp)
	}
	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func sortNewestFirst(incidents []*Incident) {
	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].CreatedAt.After(incidents[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
