// Package incidents turns anomalous telemetry into reviewable incident
// records and accepts manually reported incidents.
//
// Flow:
//  1. Telemetry hands over an anomalous batch → exactly one incident,
//     typed by the highest-priority anomalous metric in the batch
//  2. Policyholders can also report incidents manually
//  3. An adjuster verifies or dismisses an open incident
//  4. Verified incidents back claims; a claim references its incident
package incidents

import (
	"context"
	"errors"
	"time"

	"github.com/smartsure/smartsure/internal/idgen"
)

var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrAlreadyResolved  = errors.New("incident already verified or dismissed")
	ErrEmptyBatch       = errors.New("anomalous batch is empty")
)

// Status represents the review state of an incident.
type Status string

const (
	StatusOpen      Status = "open"
	StatusVerified  Status = "verified"
	StatusDismissed Status = "dismissed"
)

// IncidentType classifies what happened.
type IncidentType string

const (
	TypeCrash  IncidentType = "crash"
	TypeLeak   IncidentType = "leak"
	TypeDamage IncidentType = "damage"
	TypeTheft  IncidentType = "theft"
	TypeOther  IncidentType = "other"
)

// Severity grades an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Source records how the incident entered the system.
type Source string

const (
	SourceTelemetry Source = "telemetry"
	SourceManual    Source = "manual"
)

// Incident is a recorded event that may back a claim.
type Incident struct {
	ID           string       `json:"id"`
	PolicyID     string       `json:"policyId"`
	DeviceID     string       `json:"deviceId,omitempty"`
	Type         IncidentType `json:"type"`
	Severity     Severity     `json:"severity"`
	Status       Status       `json:"status"`
	Source       Source       `json:"source"`
	Description  string       `json:"description,omitempty"`
	Metrics      []string     `json:"metrics,omitempty"`
	ReadingIDs   []string     `json:"readingIds,omitempty"`
	OccurredAt   time.Time    `json:"occurredAt"`
	VerifiedAt   *time.Time   `json:"verifiedAt,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// IsResolved returns true once the incident has been verified or dismissed.
func (i *Incident) IsResolved() bool {
	return i.Status == StatusVerified || i.Status == StatusDismissed
}

// Store persists incidents.
type Store interface {
	Create(ctx context.Context, incident *Incident) error
	Get(ctx context.Context, id string) (*Incident, error)
	Update(ctx context.Context, incident *Incident) error
	ListByPolicy(ctx context.Context, policyID string, status string, limit int) ([]*Incident, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*Incident, error)
}

// Broadcaster pushes incident events to connected clients. Satisfied by the
// realtime hub; may be nil.
type Broadcaster interface {
	BroadcastIncident(data map[string]interface{})
}

// BatchReport is an anomalous telemetry batch as seen by incident
// generation.
type BatchReport struct {
	Metrics    []string
	ReadingIDs []string
	OccurredAt time.Time
}

// ReportRequest contains the parameters for a manually reported incident.
type ReportRequest struct {
	PolicyID    string       `json:"policyId" binding:"required"`
	DeviceID    string       `json:"deviceId"`
	Type        IncidentType `json:"type" binding:"required"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description" binding:"required"`
	OccurredAt  time.Time    `json:"occurredAt"`
}

func generateIncidentID() string {
	return idgen.WithPrefix("inc_")
}
