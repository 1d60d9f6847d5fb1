package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/smartsure/smartsure/internal/logging"
	"github.com/smartsure/smartsure/internal/metrics"
	"github.com/smartsure/smartsure/internal/traces"
)

// Service implements incident business logic.
type Service struct {
	store     Store
	broadcast Broadcaster
}

// NewService creates a new incident service. broadcast may be nil.
func NewService(store Store, broadcast Broadcaster) *Service {
	return &Service{store: store, broadcast: broadcast}
}

// classify maps a batch's anomalous metrics to one incident type and
// severity. Acceleration spikes outrank gas leaks, which outrank
// everything else.
func classify(anomalousMetrics []string) (IncidentType, Severity) {
	hasImpact, hasGas := false, false
	for _, metric := range anomalousMetrics {
		switch metric {
		case "acceleration":
			hasImpact = true
		case "gas":
			hasGas = true
		}
	}
	switch {
	case hasImpact:
		return TypeCrash, SeverityHigh
	case hasGas:
		return TypeLeak, SeverityHigh
	default:
		return TypeDamage, SeverityMedium
	}
}

// RecordAnomalousBatch creates exactly one incident for an anomalous
// telemetry batch.
func (s *Service) RecordAnomalousBatch(ctx context.Context, policyID, deviceID string, report BatchReport) (*Incident, error) {
	ctx, span := traces.StartSpan(ctx, "incidents.RecordAnomalousBatch",
		traces.PolicyID(policyID), traces.DeviceID(deviceID))
	defer span.End()

	if len(report.Metrics) == 0 {
		return nil, ErrEmptyBatch
	}

	incidentType, severity := classify(report.Metrics)
	occurredAt := report.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	now := time.Now()
	incident := &Incident{
		ID:           generateIncidentID(),
		PolicyID:     policyID,
		DeviceID:     deviceID,
		Type:         incidentType,
		Severity:     severity,
		Status:       StatusOpen,
		Source:       SourceTelemetry,
		Metrics:      report.Metrics,
		ReadingIDs:   report.ReadingIDs,
		OccurredAt:   occurredAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}

	s.afterCreate(ctx, incident)
	return incident, nil
}

// Report creates a manually filed incident.
func (s *Service) Report(ctx context.Context, req ReportRequest) (*Incident, error) {
	switch req.Type {
	case TypeCrash, TypeLeak, TypeDamage, TypeTheft, TypeOther:
	default:
		return nil, fmt.Errorf("invalid incident type: %s", req.Type)
	}

	severity := req.Severity
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	case "":
		severity = SeverityMedium
	default:
		return nil, fmt.Errorf("invalid severity: %s", severity)
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	now := time.Now()
	incident := &Incident{
		ID:          generateIncidentID(),
		PolicyID:    req.PolicyID,
		DeviceID:    req.DeviceID,
		Type:        req.Type,
		Severity:    severity,
		Status:      StatusOpen,
		Source:      SourceManual,
		Description: req.Description,
		OccurredAt:  occurredAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}

	s.afterCreate(ctx, incident)
	return incident, nil
}

func (s *Service) afterCreate(ctx context.Context, incident *Incident) {
	metrics.IncidentsCreatedTotal.WithLabelValues(string(incident.Type), string(incident.Severity)).Inc()

	logging.L(ctx).Info("incident created",
		"incidentId", incident.ID,
		"policyId", incident.PolicyID,
		"deviceId", incident.DeviceID,
		"type", string(incident.Type),
		"severity", string(incident.Severity),
		"source", string(incident.Source),
	)

	if s.broadcast != nil {
		s.broadcast.BroadcastIncident(map[string]interface{}{
			"incidentId": incident.ID,
			"policyId":   incident.PolicyID,
			"deviceId":   incident.DeviceID,
			"type":       string(incident.Type),
			"severity":   string(incident.Severity),
		})
	}
}

// Get returns an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*Incident, error) {
	return s.store.Get(ctx, id)
}

// Verify marks an open incident as verified.
func (s *Service) Verify(ctx context.Context, id string) (*Incident, error) {
	return s.resolve(ctx, id, StatusVerified)
}

// Dismiss marks an open incident as dismissed.
func (s *Service) Dismiss(ctx context.Context, id string) (*Incident, error) {
	return s.resolve(ctx, id, StatusDismissed)
}

func (s *Service) resolve(ctx context.Context, id string, status Status) (*Incident, error) {
	incident, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.IsResolved() {
		return nil, ErrAlreadyResolved
	}

	now := time.Now()
	incident.Status = status
	incident.UpdatedAt = now
	if status == StatusVerified {
		incident.VerifiedAt = &now
	}
	if err := s.store.Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}

	logging.L(ctx).Info("incident resolved", "incidentId", incident.ID, "status", string(status))
	return incident, nil
}

// ListByPolicy returns a policy's incidents.
func (s *Service) ListByPolicy(ctx context.Context, policyID, status string, limit int) ([]*Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByPolicy(ctx, policyID, status, limit)
}

// ListByDevice returns a device's incidents.
func (s *Service) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByDevice(ctx, deviceID, limit)
}
