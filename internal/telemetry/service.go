package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/smartsure/smartsure/internal/logging"
	"github.com/smartsure/smartsure/internal/metrics"
	"github.com/smartsure/smartsure/internal/traces"
)

// incidentDispatchTimeout bounds the async hand-off to incident generation.
const incidentDispatchTimeout = 10 * time.Second

// Service implements telemetry ingestion.
type Service struct {
	store    Store
	devices  DeviceGateway
	incident IncidentSink
	detector *Detector
	maxBatch int
}

// NewService creates a new telemetry service. incident may be nil; anomalous
// batches are then stored but not dispatched.
func NewService(store Store, devices DeviceGateway, incident IncidentSink, detector *Detector, maxBatch int) *Service {
	if detector == nil {
		detector = NewDetector()
	}
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &Service{
		store:    store,
		devices:  devices,
		incident: incident,
		detector: detector,
		maxBatch: maxBatch,
	}
}

// Ingest accepts a batch of readings from the device identified by uid.
// The batch is stored atomically. A reading is anomalous when the device
// flagged it or its metric's predicate fires. If any reading is anomalous
// the batch is handed to the incident sink on a background goroutine; a
// sink failure never fails ingestion.
func (s *Service) Ingest(ctx context.Context, uid string, batch []ReadingInput) (*IngestResult, error) {
	ctx, span := traces.StartSpan(ctx, "telemetry.Ingest")
	defer span.End()

	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(batch) > s.maxBatch {
		return nil, ErrBatchTooLarge
	}
	for i, in := range batch {
		if in.Metric == "" {
			return nil, fmt.Errorf("%w: reading %d", ErrMissingMetric, i)
		}
	}

	device, err := s.devices.Authorize(ctx, uid)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	readings := make([]*Reading, 0, len(batch))
	var anomalous []*Reading
	var anomalousMetrics []string
	seen := make(map[string]bool)

	for _, in := range batch {
		recordedAt := in.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = now
		}
		r := &Reading{
			ID:         generateReadingID(),
			DeviceID:   device.ID,
			RecordedAt: recordedAt,
			Metric:     in.Metric,
			Value:      in.Value,
			Unit:       in.Unit,
			Anomalous:  in.Anomalous || s.detector.Classify(in.Metric, in.Value),
			CreatedAt:  now,
		}
		if r.Anomalous {
			anomalous = append(anomalous, r)
			metrics.AnomaliesDetectedTotal.WithLabelValues(r.Metric).Inc()
			if !seen[r.Metric] {
				seen[r.Metric] = true
				anomalousMetrics = append(anomalousMetrics, r.Metric)
			}
		}
		readings = append(readings, r)
	}

	if err := s.store.InsertBatch(ctx, readings); err != nil {
		return nil, fmt.Errorf("failed to store readings: %w", err)
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(device.Type).Add(float64(len(readings)))

	result := &IngestResult{
		DeviceID:  device.ID,
		Accepted:  len(readings),
		Anomalies: len(anomalous),
		Metrics:   anomalousMetrics,
	}

	if len(anomalous) > 0 && s.incident != nil {
		s.dispatchIncident(ctx, device, anomalous)
	}

	return result, nil
}

// dispatchIncident hands an anomalous batch to the incident sink without
// blocking the ingest response.
func (s *Service) dispatchIncident(ctx context.Context, device DeviceInfo, anomalous []*Reading) {
	bg := context.WithoutCancel(ctx)
	go func() {
		dctx, cancel := context.WithTimeout(bg, incidentDispatchTimeout)
		defer cancel()

		if err := s.incident.RecordAnomalousBatch(dctx, device.PolicyID, device.ID, anomalous); err != nil {
			logging.L(dctx).Error("incident dispatch failed",
				"deviceId", device.ID,
				"policyId", device.PolicyID,
				"anomalies", len(anomalous),
				"error", err,
			)
			return
		}

		ids := make([]string, len(anomalous))
		for i, r := range anomalous {
			ids[i] = r.ID
		}
		if err := s.store.MarkProcessed(dctx, ids); err != nil {
			logging.L(dctx).Warn("failed to mark readings processed", "deviceId", device.ID, "error", err)
		}
	}()
}

// ListByDevice returns readings for a device in a time range, optionally
// restricted to one metric.
func (s *Service) ListByDevice(ctx context.Context, deviceID, metric string, from, to time.Time, limit int) ([]*Reading, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListByDevice(ctx, deviceID, metric, from, to, limit)
}

// ListRecentAnomalies returns the newest anomalous readings for a device.
func (s *Service) ListRecentAnomalies(ctx context.Context, deviceID string, limit int) ([]*Reading, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListRecentAnomalies(ctx, deviceID, limit)
}

// RecentAnomalyCount reports how many of the device's latest lastN readings
// are anomalous. Premium recalculation consumes this.
func (s *Service) RecentAnomalyCount(ctx context.Context, deviceID string, lastN int) (int, error) {
	return s.store.RecentAnomalyCount(ctx, deviceID, lastN)
}

// AnomalyRate reports the anomalous fraction of readings since a given time.
// Premium recalculation consumes this.
func (s *Service) AnomalyRate(ctx context.Context, deviceID string, since time.Time) (float64, int, error) {
	return s.store.AnomalyRate(ctx, deviceID, since)
}

// Stats reports reading and anomaly counts plus min/max/avg values since a
// given time, optionally restricted to one metric. Device health reports
// and the device stats endpoint consume this.
func (s *Service) Stats(ctx context.Context, deviceID, metric string, since time.Time) (Stats, error) {
	return s.store.Stats(ctx, deviceID, metric, since)
}
