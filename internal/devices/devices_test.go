package devices

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockPolicies accepts or rejects every policy.
type mockPolicies struct {
	accepts bool
	err     error
}

func (m *mockPolicies) AcceptsDevices(ctx context.Context, policyID string) (bool, error) {
	return m.accepts, m.err
}

// mockStats returns fixed reading counts.
type mockStats struct {
	readings  int
	anomalies int
}

func (m *mockStats) StatsSince(ctx context.Context, deviceID string, since time.Time) (int, int, error) {
	return m.readings, m.anomalies, nil
}

func registerTestDevice(t *testing.T, svc *Service, uid string) *Device {
	t.Helper()
	device, err := svc.Register(context.Background(), RegisterRequest{
		UID:      uid,
		PolicyID: "pol_abc123",
		Type:     TypeVehicleTracker,
		Model:    "TrackMate 3",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return device
}

func TestDevice_Register(t *testing.T) {
	svc := NewService(NewMemoryStore(), &mockPolicies{accepts: true}, nil)

	device := registerTestDevice(t, svc, "HW-0001")
	if device.Status != StatusActive {
		t.Errorf("Expected active, got %s", device.Status)
	}
	if device.UID != "HW-0001" {
		t.Errorf("UID not carried over: %s", device.UID)
	}

	// Same UID again must be rejected.
	_, err := svc.Register(context.Background(), RegisterRequest{
		UID:      "HW-0001",
		PolicyID: "pol_abc123",
		Type:     TypeVehicleTracker,
	})
	if !errors.Is(err, ErrDuplicateUID) {
		t.Errorf("Expected ErrDuplicateUID, got %v", err)
	}
}

func TestDevice_RegisterRejectedPolicy(t *testing.T) {
	svc := NewService(NewMemoryStore(), &mockPolicies{accepts: false}, nil)

	_, err := svc.Register(context.Background(), RegisterRequest{
		UID:      "HW-0002",
		PolicyID: "pol_abc123",
		Type:     TypeSmartHome,
	})
	if !errors.Is(err, ErrPolicyNotEligible) {
		t.Errorf("Expected ErrPolicyNotEligible, got %v", err)
	}
}

func TestDevice_AuthorizeTouchesHeartbeat(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &mockPolicies{accepts: true}, nil)
	ctx := context.Background()

	device := registerTestDevice(t, svc, "HW-0003")
	if device.LastHeartbeat != nil {
		t.Fatal("New device should have no heartbeat")
	}

	authorized, err := svc.Authorize(ctx, "HW-0003")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if authorized.ID != device.ID {
		t.Errorf("Authorize resolved wrong device: %s", authorized.ID)
	}
	if authorized.LastHeartbeat == nil {
		t.Error("Authorize did not touch heartbeat")
	}

	fresh, _ := store.Get(ctx, device.ID)
	if fresh.LastHeartbeat == nil {
		t.Error("Heartbeat not persisted")
	}

	if _, err := svc.Authorize(ctx, "HW-unknown"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestDevice_AuthorizeInactive(t *testing.T) {
	svc := NewService(NewMemoryStore(), &mockPolicies{accepts: true}, nil)
	ctx := context.Background()

	device := registerTestDevice(t, svc, "HW-0004")
	if _, err := svc.SetStatus(ctx, device.ID, StatusInactive); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if _, err := svc.Authorize(ctx, "HW-0004"); !errors.Is(err, ErrDeviceInactive) {
		t.Errorf("Expected ErrDeviceInactive, got %v", err)
	}

	if _, err := svc.SetStatus(ctx, device.ID, StatusActive); err != nil {
		t.Fatalf("Reactivation failed: %v", err)
	}
	if _, err := svc.Authorize(ctx, "HW-0004"); err != nil {
		t.Errorf("Authorize after reactivation failed: %v", err)
	}
}

func TestDevice_RetireIsFinal(t *testing.T) {
	svc := NewService(NewMemoryStore(), &mockPolicies{accepts: true}, nil)
	ctx := context.Background()

	device := registerTestDevice(t, svc, "HW-0005")
	if _, err := svc.Retire(ctx, device.ID); err != nil {
		t.Fatalf("Retire failed: %v", err)
	}

	if _, err := svc.Retire(ctx, device.ID); !errors.Is(err, ErrDeviceRetired) {
		t.Errorf("Expected ErrDeviceRetired on double retire, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, device.ID, StatusActive); !errors.Is(err, ErrDeviceRetired) {
		t.Errorf("Expected ErrDeviceRetired on reactivation, got %v", err)
	}
	if _, err := svc.Authorize(ctx, "HW-0005"); !errors.Is(err, ErrDeviceRetired) {
		t.Errorf("Expected ErrDeviceRetired on authorize, got %v", err)
	}
}

func TestDevice_Health(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &mockPolicies{accepts: true}, &mockStats{readings: 200, anomalies: 10})
	ctx := context.Background()

	device := registerTestDevice(t, svc, "HW-0006")

	// No heartbeat yet: disconnected.
	health, err := svc.Health(ctx, device.ID)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Connected {
		t.Error("Device with no heartbeat must not be connected")
	}
	if health.Readings24h != 200 || health.Anomalies24h != 10 {
		t.Errorf("Stats not reported: %d/%d", health.Readings24h, health.Anomalies24h)
	}
	if health.AnomalyRate24h != 0.05 {
		t.Errorf("Expected anomaly rate 0.05, got %v", health.AnomalyRate24h)
	}

	// Fresh heartbeat: connected.
	if _, err := svc.Authorize(ctx, "HW-0006"); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	health, err = svc.Health(ctx, device.ID)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !health.Connected {
		t.Error("Device with fresh heartbeat should be connected")
	}

	// Stale heartbeat: disconnected.
	stale := time.Now().Add(-10 * time.Minute)
	if err := store.UpdateHeartbeat(ctx, device.ID, stale); err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}
	health, err = svc.Health(ctx, device.ID)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Connected {
		t.Error("Device with stale heartbeat must not be connected")
	}
}

func TestDevice_ListDeviceIDsByPolicy(t *testing.T) {
	svc := NewService(NewMemoryStore(), &mockPolicies{accepts: true}, nil)
	ctx := context.Background()

	a := registerTestDevice(t, svc, "HW-A")
	b := registerTestDevice(t, svc, "HW-B")

	ids, err := svc.ListDeviceIDsByPolicy(ctx, "pol_abc123")
	if err != nil {
		t.Fatalf("ListDeviceIDsByPolicy failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 ids, got %d", len(ids))
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen[a.ID] || !seen[b.ID] {
		t.Errorf("Missing device ids: %v", ids)
	}
}
