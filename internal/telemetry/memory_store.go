package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory reading store for development and testing.
type MemoryStore struct {
	mu       sync.RWMutex
	byDevice map[string][]*Reading
	byID     map[string]*Reading
}

// NewMemoryStore creates a new in-memory reading store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byDevice: make(map[string][]*Reading),
		byID:     make(map[string]*Reading),
	}
}

func (m *MemoryStore) InsertBatch(ctx context.Context, readings []*Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range readings {
		cp := *r
		m.byDevice[r.DeviceID] = append(m.byDevice[r.DeviceID], &cp)
		m.byID[r.ID] = &cp
	}
	return nil
}

// recent returns the device's readings newest first.
func (m *MemoryStore) recent(deviceID string) []*Reading {
	src := m.byDevice[deviceID]
	sorted := make([]*Reading, len(src))
	copy(sorted, src)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RecordedAt.After(sorted[j].RecordedAt)
	})
	return sorted
}

func (m *MemoryStore) ListByDevice(ctx context.Context, deviceID, metric string, from, to time.Time, limit int) ([]*Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Reading
	for _, r := range m.recent(deviceID) {
		if r.RecordedAt.Before(from) || r.RecordedAt.After(to) {
			continue
		}
		if metric != "" && r.Metric != metric {
			continue
		}
		cp := *r
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) ListRecentAnomalies(ctx context.Context, deviceID string, limit int) ([]*Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Reading
	for _, r := range m.recent(deviceID) {
		if !r.Anomalous {
			continue
		}
		cp := *r
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) RecentAnomalyCount(ctx context.Context, deviceID string, lastN int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for i, r := range m.recent(deviceID) {
		if i >= lastN {
			break
		}
		if r.Anomalous {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) AnomalyRate(ctx context.Context, deviceID string, since time.Time) (float64, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total, anomalies := 0, 0
	for _, r := range m.byDevice[deviceID] {
		if r.RecordedAt.Before(since) {
			continue
		}
		total++
		if r.Anomalous {
			anomalies++
		}
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(anomalies) / float64(total), total, nil
}

func (m *MemoryStore) Stats(ctx context.Context, deviceID, metric string, since time.Time) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	sum := 0.0
	for _, r := range m.byDevice[deviceID] {
		if r.RecordedAt.Before(since) {
			continue
		}
		if metric != "" && r.Metric != metric {
			continue
		}
		if stats.Count == 0 || r.Value < stats.Min {
			stats.Min = r.Value
		}
		if stats.Count == 0 || r.Value > stats.Max {
			stats.Max = r.Value
		}
		sum += r.Value
		stats.Count++
		if r.Anomalous {
			stats.AnomalyCount++
		}
	}
	if stats.Count > 0 {
		stats.Avg = sum / float64(stats.Count)
	}
	return stats, nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if r, ok := m.byID[id]; ok {
			r.Processed = true
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
