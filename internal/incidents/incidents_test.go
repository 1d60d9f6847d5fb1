package incidents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockBroadcaster records broadcast payloads.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []map[string]interface{}
}

func (m *mockBroadcaster) BroadcastIncident(data map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, data)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		metrics  []string
		wantType IncidentType
		wantSev  Severity
	}{
		{"acceleration wins over everything", []string{"speed", "gas", "acceleration"}, TypeCrash, SeverityHigh},
		{"gas wins over the rest", []string{"temperature", "gas"}, TypeLeak, SeverityHigh},
		{"speed alone is damage", []string{"speed"}, TypeDamage, SeverityMedium},
		{"water alone is damage", []string{"water"}, TypeDamage, SeverityMedium},
		{"temperature alone is damage", []string{"temperature"}, TypeDamage, SeverityMedium},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotType, gotSev := classify(tc.metrics)
			if gotType != tc.wantType || gotSev != tc.wantSev {
				t.Errorf("classify(%v) = %s/%s, want %s/%s",
					tc.metrics, gotType, gotSev, tc.wantType, tc.wantSev)
			}
		})
	}
}

func TestRecordAnomalousBatch(t *testing.T) {
	broadcaster := &mockBroadcaster{}
	svc := NewService(NewMemoryStore(), broadcaster)
	ctx := context.Background()

	occurred := time.Now().Add(-5 * time.Minute)
	incident, err := svc.RecordAnomalousBatch(ctx, "pol_1", "dev_1", BatchReport{
		Metrics:    []string{"acceleration", "speed"},
		ReadingIDs: []string{"rdg_1", "rdg_2"},
		OccurredAt: occurred,
	})
	if err != nil {
		t.Fatalf("RecordAnomalousBatch failed: %v", err)
	}

	if incident.Type != TypeCrash {
		t.Errorf("Expected crash, got %s", incident.Type)
	}
	if incident.Severity != SeverityHigh {
		t.Errorf("Expected high severity, got %s", incident.Severity)
	}
	if incident.Status != StatusOpen {
		t.Errorf("Expected open, got %s", incident.Status)
	}
	if incident.Source != SourceTelemetry {
		t.Errorf("Expected telemetry source, got %s", incident.Source)
	}
	if !incident.OccurredAt.Equal(occurred) {
		t.Errorf("OccurredAt not carried over: %v", incident.OccurredAt)
	}
	if len(incident.ReadingIDs) != 2 {
		t.Errorf("Reading refs not carried over: %v", incident.ReadingIDs)
	}

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if len(broadcaster.events) != 1 {
		t.Fatalf("Expected one broadcast, got %d", len(broadcaster.events))
	}
	if broadcaster.events[0]["policyId"] != "pol_1" {
		t.Errorf("Broadcast missing policy: %v", broadcaster.events[0])
	}
}

func TestRecordAnomalousBatch_Empty(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)

	_, err := svc.RecordAnomalousBatch(context.Background(), "pol_1", "dev_1", BatchReport{})
	if !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch, got %v", err)
	}
}

func TestReport_Manual(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	ctx := context.Background()

	incident, err := svc.Report(ctx, ReportRequest{
		PolicyID:    "pol_1",
		Type:        TypeDamage,
		Description: "Hail damage to the roof",
	})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if incident.Source != SourceManual {
		t.Errorf("Expected manual source, got %s", incident.Source)
	}
	if incident.Severity != SeverityMedium {
		t.Errorf("Expected default medium severity, got %s", incident.Severity)
	}

	theft, err := svc.Report(ctx, ReportRequest{
		PolicyID:    "pol_1",
		Type:        TypeTheft,
		Description: "Vehicle stolen from driveway",
	})
	if err != nil {
		t.Fatalf("Report theft failed: %v", err)
	}
	if theft.Type != TypeTheft {
		t.Errorf("Expected theft, got %s", theft.Type)
	}

	other, err := svc.Report(ctx, ReportRequest{
		PolicyID:    "pol_1",
		Type:        TypeOther,
		Description: "Fallen tree blocked the garage",
	})
	if err != nil {
		t.Fatalf("Report other failed: %v", err)
	}
	if other.Type != TypeOther {
		t.Errorf("Expected other, got %s", other.Type)
	}

	if _, err := svc.Report(ctx, ReportRequest{PolicyID: "pol_1", Type: "meteor", Description: "x"}); err == nil {
		t.Error("Expected error for invalid type")
	}
	if _, err := svc.Report(ctx, ReportRequest{PolicyID: "pol_1", Type: TypeDamage, Severity: "extreme", Description: "x"}); err == nil {
		t.Error("Expected error for invalid severity")
	}
}

func TestVerifyAndDismiss(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	ctx := context.Background()

	incident, err := svc.Report(ctx, ReportRequest{
		PolicyID: "pol_1", Type: TypeLeak, Description: "Gas smell in the basement",
	})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	verified, err := svc.Verify(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.Status != StatusVerified {
		t.Errorf("Expected verified, got %s", verified.Status)
	}
	if verified.VerifiedAt == nil {
		t.Error("VerifiedAt not set")
	}

	if _, err := svc.Verify(ctx, incident.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Expected ErrAlreadyResolved on double verify, got %v", err)
	}
	if _, err := svc.Dismiss(ctx, incident.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Expected ErrAlreadyResolved dismissing verified incident, got %v", err)
	}

	other, _ := svc.Report(ctx, ReportRequest{
		PolicyID: "pol_1", Type: TypeDamage, Description: "Scratch",
	})
	dismissed, err := svc.Dismiss(ctx, other.ID)
	if err != nil {
		t.Fatalf("Dismiss failed: %v", err)
	}
	if dismissed.Status != StatusDismissed {
		t.Errorf("Expected dismissed, got %s", dismissed.Status)
	}
	if dismissed.VerifiedAt != nil {
		t.Error("Dismissed incident must not carry VerifiedAt")
	}
}

func TestListByPolicy(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Report(ctx, ReportRequest{
			PolicyID: "pol_1", Type: TypeDamage, Description: "d",
		}); err != nil {
			t.Fatalf("Report failed: %v", err)
		}
	}
	first, _ := svc.ListByPolicy(ctx, "pol_1", "", 0)
	if len(first) != 3 {
		t.Fatalf("Expected 3 incidents, got %d", len(first))
	}

	if _, err := svc.Verify(ctx, first[0].ID); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	open, _ := svc.ListByPolicy(ctx, "pol_1", string(StatusOpen), 0)
	if len(open) != 2 {
		t.Errorf("Expected 2 open incidents, got %d", len(open))
	}
	verified, _ := svc.ListByPolicy(ctx, "pol_1", string(StatusVerified), 0)
	if len(verified) != 1 {
		t.Errorf("Expected 1 verified incident, got %d", len(verified))
	}
}
