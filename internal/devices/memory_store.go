package devices

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory device store for development and testing.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*Device
	byUID   map[string]string // uid -> id
}

// NewMemoryStore creates a new in-memory device store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]*Device),
		byUID:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, device *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUID[device.UID]; exists {
		return ErrDuplicateUID
	}

	cp := *device
	m.devices[device.ID] = &cp
	m.byUID[device.UID] = device.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	cp := *device
	return &cp, nil
}

func (m *MemoryStore) GetByUID(ctx context.Context, uid string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUID[uid]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	cp := *m.devices[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, device *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[device.ID]; !ok {
		return ErrDeviceNotFound
	}
	cp := *device
	m.devices[device.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	hb := at
	device.LastHeartbeat = &hb
	device.UpdatedAt = at
	return nil
}

func (m *MemoryStore) ListByPolicy(ctx context.Context, policyID string) ([]*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Device
	for _, device := range m.devices {
		if device.PolicyID == policyID {
			cp := *device
			result = append(result, &cp)
		}
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
