package server

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/smartsure/smartsure/internal/claims"
	"github.com/smartsure/smartsure/internal/devices"
	"github.com/smartsure/smartsure/internal/incidents"
	"github.com/smartsure/smartsure/internal/scoring"
	"github.com/smartsure/smartsure/internal/telemetry"
)

// The adapters below resolve their target service through the Server at
// call time, which breaks the construction cycle between the device,
// telemetry, and policy services.

// deviceGatewayAdapter adapts devices.Service to telemetry.DeviceGateway
type deviceGatewayAdapter struct {
	s *Server
}

func (a *deviceGatewayAdapter) Authorize(ctx context.Context, uid string) (telemetry.DeviceInfo, error) {
	device, err := a.s.deviceSvc.Authorize(ctx, uid)
	if err != nil {
		switch {
		case errors.Is(err, devices.ErrDeviceNotFound):
			return telemetry.DeviceInfo{}, telemetry.ErrUnknownDevice
		case errors.Is(err, devices.ErrDeviceRetired), errors.Is(err, devices.ErrDeviceInactive):
			return telemetry.DeviceInfo{}, telemetry.ErrDeviceNotAllowed
		}
		return telemetry.DeviceInfo{}, err
	}
	return telemetry.DeviceInfo{
		ID:       device.ID,
		PolicyID: device.PolicyID,
		Type:     string(device.Type),
	}, nil
}

// incidentSinkAdapter adapts incidents.Service to telemetry.IncidentSink
type incidentSinkAdapter struct {
	s *Server
}

func (a *incidentSinkAdapter) RecordAnomalousBatch(ctx context.Context, policyID, deviceID string, readings []*telemetry.Reading) error {
	report := incidents.BatchReport{}
	seen := make(map[string]bool)
	for _, r := range readings {
		report.ReadingIDs = append(report.ReadingIDs, r.ID)
		if report.OccurredAt.IsZero() || r.RecordedAt.Before(report.OccurredAt) {
			report.OccurredAt = r.RecordedAt
		}
		if !seen[r.Metric] {
			seen[r.Metric] = true
			report.Metrics = append(report.Metrics, r.Metric)
		}
	}
	_, err := a.s.incidentSvc.RecordAnomalousBatch(ctx, policyID, deviceID, report)
	return err
}

// policyDirectoryAdapter adapts policies.Service to devices.PolicyDirectory
type policyDirectoryAdapter struct {
	s *Server
}

func (a *policyDirectoryAdapter) AcceptsDevices(ctx context.Context, policyID string) (bool, error) {
	policy, err := a.s.policySvc.Get(ctx, policyID)
	if err != nil {
		return false, err
	}
	return policy.IoTEnabled && !policy.IsTerminal(), nil
}

// deviceSourceAdapter adapts devices.Service to policies.DeviceSource
type deviceSourceAdapter struct {
	s *Server
}

func (a *deviceSourceAdapter) ListDeviceIDsByPolicy(ctx context.Context, policyID string) ([]string, error) {
	return a.s.deviceSvc.ListDeviceIDsByPolicy(ctx, policyID)
}

// telemetryStatsAdapter adapts telemetry.Service to policies.TelemetrySource
// and devices.TelemetryStats
type telemetryStatsAdapter struct {
	s *Server
}

func (a *telemetryStatsAdapter) RecentAnomalyCount(ctx context.Context, deviceID string, lastN int) (int, error) {
	return a.s.telemetrySvc.RecentAnomalyCount(ctx, deviceID, lastN)
}

func (a *telemetryStatsAdapter) AnomalyRate(ctx context.Context, deviceID string, since time.Time) (float64, int, error) {
	return a.s.telemetrySvc.AnomalyRate(ctx, deviceID, since)
}

func (a *telemetryStatsAdapter) StatsSince(ctx context.Context, deviceID string, since time.Time) (int, int, error) {
	stats, err := a.s.telemetrySvc.Stats(ctx, deviceID, "", since)
	if err != nil {
		return 0, 0, err
	}
	return stats.Count, stats.AnomalyCount, nil
}

// claimPolicyAdapter adapts policies.Service to claims.PolicyDirectory
type claimPolicyAdapter struct {
	s *Server
}

func (a *claimPolicyAdapter) GetPolicy(ctx context.Context, policyID string) (claims.PolicyInfo, error) {
	policy, err := a.s.policySvc.Get(ctx, policyID)
	if err != nil {
		return claims.PolicyInfo{}, claims.ErrPolicyNotFound
	}
	return claims.PolicyInfo{
		ID:            policy.ID,
		CustomerID:    policy.CustomerID,
		InsuranceType: string(policy.InsuranceType),
		Active:        policy.IsActive(),
	}, nil
}

// claimIncidentAdapter adapts incidents.Service to claims.IncidentSource
type claimIncidentAdapter struct {
	s *Server
}

func (a *claimIncidentAdapter) GetIncident(ctx context.Context, incidentID string) (claims.IncidentInfo, error) {
	incident, err := a.s.incidentSvc.Get(ctx, incidentID)
	if err != nil {
		if errors.Is(err, incidents.ErrIncidentNotFound) {
			return claims.IncidentInfo{}, claims.ErrIncidentMismatch
		}
		return claims.IncidentInfo{}, err
	}
	return claims.IncidentInfo{
		ID:       incident.ID,
		PolicyID: incident.PolicyID,
		Type:     string(incident.Type),
	}, nil
}

// claimTelemetryAdapter assembles the telemetry window a scoring request
// carries by merging recent readings across the policy's devices.
type claimTelemetryAdapter struct {
	s *Server
}

func (a *claimTelemetryAdapter) RecentWindow(ctx context.Context, policyID string, limit int) ([]scoring.WindowReading, error) {
	deviceIDs, err := a.s.deviceSvc.ListDeviceIDsByPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var window []scoring.WindowReading
	for _, deviceID := range deviceIDs {
		readings, err := a.s.telemetrySvc.ListByDevice(ctx, deviceID, "", now.Add(-24*time.Hour), now, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range readings {
			window = append(window, scoring.WindowReading{
				RecordedAt: r.RecordedAt,
				Metric:     r.Metric,
				Value:      r.Value,
				Anomalous:  r.Anomalous,
			})
		}
	}

	sort.Slice(window, func(i, j int) bool {
		return window[i].RecordedAt.After(window[j].RecordedAt)
	})
	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}
	return window, nil
}
