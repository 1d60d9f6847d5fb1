package telemetry

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/smartsure/smartsure/internal/testutil"
)

func seedDevice(t *testing.T, db *sql.DB, deviceID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	_, err := db.ExecContext(ctx, `
		INSERT INTO customers (id, name, risk_profile, created_at)
		VALUES ('cus_000000000000000000000001', 'Test Customer', 'medium', $1)
		ON CONFLICT (id) DO NOTHING`, now)
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO policies (id, policy_number, customer_id, insurance_type, status,
			start_date, end_date, base_premium_cents, premium_cents,
			dynamic_premium, iot_enabled, risk_level, created_at, updated_at)
		VALUES ('pol_000000000000000000002001', 'VEH-2026-2001', 'cus_000000000000000000000001',
			'vehicle', 'active', $1, $2, 1000000, 1000000, true, true, 'medium', $1, $1)
		ON CONFLICT (id) DO NOTHING`, now, now.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("seed policy: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO iot_devices (id, uid, policy_id, device_type, status, created_at, updated_at)
		VALUES ($1, $2, 'pol_000000000000000000002001', 'vehicle_tracker', 'active', $3, $3)`,
		deviceID, "UID-"+deviceID, now)
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
}

func TestPostgresStore_ReadingsRoundtrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	deviceID := "dev_000000000000000000002001"
	seedDevice(t, db, deviceID)
	store := NewPostgresStore(db)

	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)
	batch := make([]*Reading, 0, 5)
	for i := 0; i < 5; i++ {
		r := &Reading{
			ID:         generateReadingID(),
			DeviceID:   deviceID,
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
			Metric:     MetricTemperature,
			Value:      21.5,
			Unit:       "C",
			CreatedAt:  time.Now(),
		}
		if i == 4 {
			r.Metric = MetricAcceleration
			r.Value = 9.1
			r.Unit = "g"
			r.Anomalous = true
		}
		batch = append(batch, r)
	}
	if err := store.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	readings, err := store.ListByDevice(ctx, deviceID, "", base.Add(-time.Minute), time.Now(), 10)
	if err != nil {
		t.Fatalf("ListByDevice failed: %v", err)
	}
	if len(readings) != 5 {
		t.Fatalf("Expected 5 readings, got %d", len(readings))
	}
	// Newest first
	if !readings[0].Anomalous || readings[0].Metric != MetricAcceleration || readings[0].Value != 9.1 {
		t.Errorf("Reading fields lost: %+v", readings[0])
	}
	if readings[0].Unit != "g" || readings[1].Unit != "C" {
		t.Errorf("Unit not persisted: %q/%q", readings[0].Unit, readings[1].Unit)
	}

	temps, err := store.ListByDevice(ctx, deviceID, MetricTemperature, base.Add(-time.Minute), time.Now(), 10)
	if err != nil {
		t.Fatalf("ListByDevice with metric failed: %v", err)
	}
	if len(temps) != 4 {
		t.Errorf("Expected 4 temperature readings, got %d", len(temps))
	}

	anomalies, err := store.ListRecentAnomalies(ctx, deviceID, 10)
	if err != nil || len(anomalies) != 1 {
		t.Fatalf("ListRecentAnomalies: %v, %d", err, len(anomalies))
	}

	count, err := store.RecentAnomalyCount(ctx, deviceID, 3)
	if err != nil || count != 1 {
		t.Errorf("RecentAnomalyCount = %d, %v", count, err)
	}

	rate, total, err := store.AnomalyRate(ctx, deviceID, base.Add(-time.Minute))
	if err != nil || total != 5 || rate != 0.2 {
		t.Errorf("AnomalyRate = %v/%d, %v", rate, total, err)
	}

	stats, err := store.Stats(ctx, deviceID, "", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Count != 5 || stats.AnomalyCount != 1 {
		t.Errorf("Stats counts = %d/%d", stats.Count, stats.AnomalyCount)
	}
	if stats.Min != 9.1 || stats.Max != 21.5 {
		t.Errorf("Stats min/max = %v/%v, want 9.1/21.5", stats.Min, stats.Max)
	}
	wantAvg := (4*21.5 + 9.1) / 5.0
	if stats.Avg != wantAvg {
		t.Errorf("Stats avg = %v, want %v", stats.Avg, wantAvg)
	}

	tempStats, err := store.Stats(ctx, deviceID, MetricTemperature, base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Stats with metric failed: %v", err)
	}
	if tempStats.Count != 4 || tempStats.AnomalyCount != 0 || tempStats.Avg != 21.5 {
		t.Errorf("Per-metric stats = %+v", tempStats)
	}

	if err := store.MarkProcessed(ctx, []string{batch[4].ID}); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	anomalies, _ = store.ListRecentAnomalies(ctx, deviceID, 10)
	if len(anomalies) != 1 || !anomalies[0].Processed {
		t.Errorf("Processed flag not persisted")
	}
}
