// Package telemetry ingests sensor readings from registered IoT devices,
// flags anomalies, and hands anomalous batches to incident generation.
//
// Flow:
//  1. Device posts a batch of readings authenticated by its hardware UID
//  2. Each reading is classified by its metric's threshold predicate
//  3. The batch is stored atomically, anomalies flagged
//  4. If any reading is anomalous, the batch is dispatched asynchronously
//     to the incident sink; ingestion never blocks on it
//  5. Aggregates (anomaly counts, rates, per-metric stats) feed device
//     health reports and premium recalculation
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/smartsure/smartsure/internal/idgen"
)

var (
	ErrUnknownDevice    = errors.New("unknown device uid")
	ErrDeviceNotAllowed = errors.New("device is not accepting telemetry")
	ErrEmptyBatch       = errors.New("reading batch is empty")
	ErrBatchTooLarge    = errors.New("reading batch exceeds maximum size")
	ErrMissingMetric    = errors.New("reading metric is required")
	ErrReadingNotFound  = errors.New("reading not found")
)

// Reading is a single sensor sample: one named metric, one numeric value.
// Readings are immutable once written; only the processed flag changes.
type Reading struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	RecordedAt time.Time `json:"recordedAt"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Anomalous  bool      `json:"anomalous"`
	Processed  bool      `json:"processed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ReadingInput is one reading as posted by a device. A device may pre-flag
// a reading as anomalous; the flag is combined with the detector's verdict,
// never overridden by it.
type ReadingInput struct {
	RecordedAt time.Time `json:"recordedAt"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Anomalous  bool      `json:"anomalous"`
}

// IngestResult summarizes an accepted batch.
type IngestResult struct {
	DeviceID  string   `json:"deviceId"`
	Accepted  int      `json:"accepted"`
	Anomalies int      `json:"anomalies"`
	Metrics   []string `json:"metrics,omitempty"` // distinct anomalous metric names
}

// Stats aggregates a device's readings over a time range, optionally for a
// single metric. Min, Max, and Avg are zero when Count is zero.
type Stats struct {
	Count        int     `json:"count"`
	AnomalyCount int     `json:"anomalyCount"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Avg          float64 `json:"avg"`
}

// Store persists sensor readings. A metric argument of "" means all metrics.
type Store interface {
	// InsertBatch stores all readings or none of them.
	InsertBatch(ctx context.Context, readings []*Reading) error
	ListByDevice(ctx context.Context, deviceID, metric string, from, to time.Time, limit int) ([]*Reading, error)
	ListRecentAnomalies(ctx context.Context, deviceID string, limit int) ([]*Reading, error)
	// RecentAnomalyCount returns how many of the device's most recent lastN
	// readings are anomalous.
	RecentAnomalyCount(ctx context.Context, deviceID string, lastN int) (int, error)
	// AnomalyRate returns the anomalous fraction and total reading count
	// since the given time.
	AnomalyRate(ctx context.Context, deviceID string, since time.Time) (rate float64, readings int, err error)
	Stats(ctx context.Context, deviceID, metric string, since time.Time) (Stats, error)
	MarkProcessed(ctx context.Context, ids []string) error
}

// DeviceInfo is what ingestion needs to know about an authorized device.
type DeviceInfo struct {
	ID       string
	PolicyID string
	Type     string
}

// DeviceGateway authorizes a hardware UID and touches the device heartbeat.
// Implemented by the device registry; wired in at startup.
type DeviceGateway interface {
	Authorize(ctx context.Context, uid string) (DeviceInfo, error)
}

// IncidentSink receives anomalous batches. Implemented by the incident
// service; wired in at startup.
type IncidentSink interface {
	RecordAnomalousBatch(ctx context.Context, policyID, deviceID string, readings []*Reading) error
}

func generateReadingID() string {
	return idgen.WithPrefix("rdg_")
}
