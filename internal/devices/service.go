package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/smartsure/smartsure/internal/logging"
	"github.com/smartsure/smartsure/internal/syncutil"
)

const (
	// heartbeatWindow is how recently a device must have reported to count
	// as connected.
	heartbeatWindow = 5 * time.Minute
	// healthStatsWindow is the lookback for health report reading counts.
	healthStatsWindow = 24 * time.Hour
)

// Service implements device registry business logic.
type Service struct {
	store     Store
	policies  PolicyDirectory
	telemetry TelemetryStats

	// locks serializes read-modify-write transitions per device ID.
	locks syncutil.ShardedMutex
}

// NewService creates a new device service. telemetry may be nil; health
// reports then omit reading counts.
func NewService(store Store, policies PolicyDirectory, telemetry TelemetryStats) *Service {
	return &Service{
		store:     store,
		policies:  policies,
		telemetry: telemetry,
	}
}

// Register attaches a new device to an IoT-enabled policy.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Device, error) {
	switch req.Type {
	case TypeVehicleTracker, TypeSmartHome, TypeWearable, TypeCargoSensor, TypeGeneric:
	default:
		return nil, fmt.Errorf("invalid device type: %s", req.Type)
	}

	if s.policies != nil {
		ok, err := s.policies.AcceptsDevices(ctx, req.PolicyID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrPolicyNotEligible
		}
	}

	now := time.Now()
	device := &Device{
		ID:              generateDeviceID(),
		UID:             req.UID,
		PolicyID:        req.PolicyID,
		Type:            req.Type,
		Status:          StatusActive,
		Model:           req.Model,
		FirmwareVersion: req.FirmwareVersion,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, device); err != nil {
		return nil, err
	}

	logging.L(ctx).Info("device registered",
		"deviceId", device.ID,
		"uid", device.UID,
		"policyId", device.PolicyID,
		"type", string(device.Type),
	)
	return device, nil
}

// Authorize resolves a hardware UID to an active device and touches its
// heartbeat. Telemetry ingestion calls this on every batch.
func (s *Service) Authorize(ctx context.Context, uid string) (*Device, error) {
	device, err := s.store.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if device.Status == StatusRetired {
		return nil, ErrDeviceRetired
	}
	if device.Status != StatusActive {
		return nil, ErrDeviceInactive
	}

	now := time.Now()
	if err := s.store.UpdateHeartbeat(ctx, device.ID, now); err != nil {
		logging.L(ctx).Warn("failed to record heartbeat", "deviceId", device.ID, "error", err)
	}
	device.LastHeartbeat = &now
	return device, nil
}

// Get returns a device by internal ID.
func (s *Service) Get(ctx context.Context, id string) (*Device, error) {
	return s.store.Get(ctx, id)
}

// ListByPolicy returns all devices attached to a policy.
func (s *Service) ListByPolicy(ctx context.Context, policyID string) ([]*Device, error) {
	return s.store.ListByPolicy(ctx, policyID)
}

// ListDeviceIDsByPolicy returns the IDs of devices attached to a policy.
// Premium recalculation consumes this.
func (s *Service) ListDeviceIDsByPolicy(ctx context.Context, policyID string) ([]string, error) {
	devices, err := s.store.ListByPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// SetStatus activates or deactivates a device. Retired devices cannot change
// status.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*Device, error) {
	if status != StatusActive && status != StatusInactive {
		return nil, ErrInvalidStatus
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	device, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.Status == StatusRetired {
		return nil, ErrDeviceRetired
	}

	device.Status = status
	device.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	return device, nil
}

// UpdateFirmware records a new firmware version.
func (s *Service) UpdateFirmware(ctx context.Context, id, version string) (*Device, error) {
	if version == "" {
		return nil, fmt.Errorf("firmware version is required")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	device, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.Status == StatusRetired {
		return nil, ErrDeviceRetired
	}

	device.FirmwareVersion = version
	device.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}

	logging.L(ctx).Info("device firmware updated", "deviceId", device.ID, "version", version)
	return device, nil
}

// Retire permanently removes a device from service.
func (s *Service) Retire(ctx context.Context, id string) (*Device, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	device, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.Status == StatusRetired {
		return nil, ErrDeviceRetired
	}

	device.Status = StatusRetired
	device.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to retire device: %w", err)
	}
	return device, nil
}

// Health builds a point-in-time health report for a device.
func (s *Service) Health(ctx context.Context, id string) (*Health, error) {
	device, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	health := &Health{
		DeviceID:        device.ID,
		Status:          device.Status,
		LastHeartbeat:   device.LastHeartbeat,
		FirmwareVersion: device.FirmwareVersion,
	}
	if device.LastHeartbeat != nil && time.Since(*device.LastHeartbeat) < heartbeatWindow {
		health.Connected = device.Status == StatusActive
	}

	if s.telemetry != nil {
		readings, anomalies, err := s.telemetry.StatsSince(ctx, device.ID, time.Now().Add(-healthStatsWindow))
		if err != nil {
			logging.L(ctx).Warn("failed to load device stats", "deviceId", device.ID, "error", err)
		} else {
			health.Readings24h = readings
			health.Anomalies24h = anomalies
			if readings > 0 {
				health.AnomalyRate24h = float64(anomalies) / float64(readings)
			}
		}
	}

	return health, nil
}
