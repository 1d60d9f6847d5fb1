// Package devices manages the registry of IoT devices attached to insurance
// policies.
//
// Flow:
//  1. Device registered under an IoT-enabled policy → status: active
//  2. Telemetry ingestion authorizes by hardware UID and touches the heartbeat
//  3. Health reports combine heartbeat freshness with 24h telemetry stats
//  4. Devices can be deactivated and reactivated; retirement is final
package devices

import (
	"context"
	"errors"
	"time"

	"github.com/smartsure/smartsure/internal/idgen"
)

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrDuplicateUID      = errors.New("device uid already registered")
	ErrDeviceRetired     = errors.New("device is retired")
	ErrDeviceInactive    = errors.New("device is not active")
	ErrInvalidStatus     = errors.New("invalid device status for this operation")
	ErrPolicyNotEligible = errors.New("policy does not accept devices")
)

// Status represents the state of a device.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusRetired  Status = "retired"
)

// DeviceType enumerates supported device categories.
type DeviceType string

const (
	TypeVehicleTracker DeviceType = "vehicle_tracker"
	TypeSmartHome      DeviceType = "smart_home_sensor"
	TypeWearable       DeviceType = "wearable"
	TypeCargoSensor    DeviceType = "cargo_sensor"
	TypeGeneric        DeviceType = "generic"
)

// Device is a registered IoT device. UID is the hardware identifier the
// device authenticates with; ID is the internal identifier everything else
// references.
type Device struct {
	ID              string     `json:"id"`
	UID             string     `json:"uid"`
	PolicyID        string     `json:"policyId"`
	Type            DeviceType `json:"type"`
	Status          Status     `json:"status"`
	Model           string     `json:"model,omitempty"`
	FirmwareVersion string     `json:"firmwareVersion,omitempty"`
	LastHeartbeat   *time.Time `json:"lastHeartbeat,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Health is a point-in-time device health report.
type Health struct {
	DeviceID        string     `json:"deviceId"`
	Status          Status     `json:"status"`
	Connected       bool       `json:"connected"`
	LastHeartbeat   *time.Time `json:"lastHeartbeat,omitempty"`
	FirmwareVersion string     `json:"firmwareVersion,omitempty"`
	Readings24h     int        `json:"readings24h"`
	Anomalies24h    int        `json:"anomalies24h"`
	AnomalyRate24h  float64    `json:"anomalyRate24h"`
}

// Store persists device records.
type Store interface {
	Create(ctx context.Context, device *Device) error
	Get(ctx context.Context, id string) (*Device, error)
	GetByUID(ctx context.Context, uid string) (*Device, error)
	Update(ctx context.Context, device *Device) error
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error
	ListByPolicy(ctx context.Context, policyID string) ([]*Device, error)
}

// PolicyDirectory answers whether a policy can take on devices. Implemented
// by the policy service; wired in at startup.
type PolicyDirectory interface {
	AcceptsDevices(ctx context.Context, policyID string) (bool, error)
}

// TelemetryStats exposes per-device reading counts for health reports.
type TelemetryStats interface {
	StatsSince(ctx context.Context, deviceID string, since time.Time) (readings, anomalies int, err error)
}

// RegisterRequest contains the parameters for registering a device.
type RegisterRequest struct {
	UID             string     `json:"uid" binding:"required"`
	PolicyID        string     `json:"policyId" binding:"required"`
	Type            DeviceType `json:"type" binding:"required"`
	Model           string     `json:"model"`
	FirmwareVersion string     `json:"firmwareVersion"`
}

func generateDeviceID() string {
	return idgen.WithPrefix("dev_")
}
