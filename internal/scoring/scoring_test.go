package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedInvoker returns queued responses and errors.
type scriptedInvoker struct {
	damage    []*DamageEstimate
	fraud     []*FraudAssessment
	errs      []error
	callCount atomic.Int32
}

func (s *scriptedInvoker) Model() string { return "scripted" }

func (s *scriptedInvoker) next() (int, error) {
	i := int(s.callCount.Add(1)) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return i, s.errs[i]
	}
	return i, nil
}

func (s *scriptedInvoker) EstimateDamage(ctx context.Context, req Request) (*DamageEstimate, error) {
	i, err := s.next()
	if err != nil {
		return nil, err
	}
	if i >= len(s.damage) {
		i = len(s.damage) - 1
	}
	return s.damage[i], nil
}

func (s *scriptedInvoker) AssessFraud(ctx context.Context, req Request) (*FraudAssessment, error) {
	i, err := s.next()
	if err != nil {
		return nil, err
	}
	if i >= len(s.fraud) {
		i = len(s.fraud) - 1
	}
	return s.fraud[i], nil
}

func testRequest() Request {
	return Request{
		ClaimID:          "clm_1",
		PolicyID:         "pol_1",
		InsuranceType:    "vehicle",
		ClaimAmountCents: 250_000,
	}
}

// ---------------------------------------------------------------------------
// Simulator
// ---------------------------------------------------------------------------

func TestSimulator_Ranges(t *testing.T) {
	sim := NewSimulator(42)
	ctx := context.Background()
	req := testRequest()

	for i := 0; i < 100; i++ {
		estimate, err := sim.EstimateDamage(ctx, req)
		if err != nil {
			t.Fatalf("EstimateDamage failed: %v", err)
		}
		if estimate.CostCents < 200_000 || estimate.CostCents > 300_000 {
			t.Fatalf("Cost %d outside 80%%-120%% of claim", estimate.CostCents)
		}
		if estimate.Confidence < 0.85 || estimate.Confidence > 0.95 {
			t.Fatalf("Damage confidence %v outside [0.85,0.95]", estimate.Confidence)
		}

		fraud, err := sim.AssessFraud(ctx, req)
		if err != nil {
			t.Fatalf("AssessFraud failed: %v", err)
		}
		if fraud.Score < 0 || fraud.Score >= 0.5 {
			t.Fatalf("Fraud score %v outside [0,0.5)", fraud.Score)
		}
		if fraud.Confidence < 0.75 || fraud.Confidence > 0.95 {
			t.Fatalf("Fraud confidence %v outside [0.75,0.95]", fraud.Confidence)
		}
		wantRec := "review"
		if fraud.Score < 0.3 {
			wantRec = "approve"
		}
		if fraud.Recommendation != wantRec {
			t.Fatalf("Recommendation %q for score %v", fraud.Recommendation, fraud.Score)
		}
	}
}

func TestSimulator_FlagsFrequentClaimants(t *testing.T) {
	sim := NewSimulator(7)
	ctx := context.Background()

	req := testRequest()
	fraud, err := sim.AssessFraud(ctx, req)
	if err != nil {
		t.Fatalf("AssessFraud failed: %v", err)
	}
	if len(fraud.Indicators) != 0 {
		t.Errorf("No-history claim flagged: %v", fraud.Indicators)
	}

	for i := 0; i < 3; i++ {
		req.History = append(req.History, PriorClaim{ClaimNumber: "CLM-2026-00000" + string(rune('1'+i)), Status: "approved"})
	}
	fraud, err = sim.AssessFraud(ctx, req)
	if err != nil {
		t.Fatalf("AssessFraud failed: %v", err)
	}
	if len(fraud.Indicators) != 1 || fraud.Indicators[0] != "frequent_claims" {
		t.Errorf("Expected frequent_claims indicator, got %v", fraud.Indicators)
	}
}

// ---------------------------------------------------------------------------
// Risk level
// ---------------------------------------------------------------------------

func TestRiskLevel(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.0, "low"},
		{0.29, "low"},
		{0.30, "medium"},
		{0.49, "medium"},
		{0.50, "high"},
		{0.69, "high"},
		{0.70, "critical"},
		{1.0, "critical"},
	}
	for _, tc := range cases {
		if got := RiskLevel(tc.score); got != tc.want {
			t.Errorf("RiskLevel(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

func TestEngine_RetriesThenSucceeds(t *testing.T) {
	invoker := &scriptedInvoker{
		errs:   []error{errors.New("timeout"), errors.New("timeout"), nil},
		damage: []*DamageEstimate{nil, nil, {CostCents: 200_000, Confidence: 0.9}},
	}
	store := NewMemoryStore()
	engine := NewEngine(invoker, store, nil)

	estimate, err := engine.EstimateDamage(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("EstimateDamage failed: %v", err)
	}
	if estimate.CostCents != 200_000 {
		t.Errorf("Wrong estimate: %d", estimate.CostCents)
	}
	if got := invoker.callCount.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}

	results, _ := store.ListByClaim(context.Background(), "clm_1")
	if len(results) != 1 {
		t.Fatalf("Expected 1 audit row, got %d", len(results))
	}
	if !results[0].Success || results[0].Operation != OpEstimateDamage {
		t.Errorf("Audit row wrong: %+v", results[0])
	}
	if results[0].CostCents == nil || *results[0].CostCents != 200_000 {
		t.Errorf("Audit row missing cost: %+v", results[0])
	}
}

func TestEngine_FraudAuditCarriesAssessment(t *testing.T) {
	invoker := &scriptedInvoker{
		fraud: []*FraudAssessment{{
			Score:          0.62,
			Confidence:     0.88,
			Indicators:     []string{"rapid_refiling", "amount_spike"},
			Recommendation: "review",
		}},
	}
	store := NewMemoryStore()
	engine := NewEngine(invoker, store, nil)

	req := testRequest()
	req.History = []PriorClaim{{ClaimNumber: "CLM-2026-000001", Status: "rejected", AmountCents: 500_000}}
	if _, err := engine.AssessFraud(context.Background(), req); err != nil {
		t.Fatalf("AssessFraud failed: %v", err)
	}

	results, _ := store.ListByClaim(context.Background(), "clm_1")
	if len(results) != 1 {
		t.Fatalf("Expected 1 audit row, got %d", len(results))
	}
	row := results[0]
	if len(row.Reasons) != 2 || row.Reasons[0] != "rapid_refiling" {
		t.Errorf("Indicators not audited: %v", row.Reasons)
	}
	if row.Recommendation != "review" {
		t.Errorf("Recommendation not audited: %q", row.Recommendation)
	}
	if row.InputRef == "" {
		t.Error("Audit row missing input fingerprint")
	}

	// The same request fingerprints identically; a different one does not.
	if got := inputRef(req); got != row.InputRef {
		t.Errorf("Fingerprint not stable: %q vs %q", got, row.InputRef)
	}
	other := req
	other.ClaimAmountCents++
	if inputRef(other) == row.InputRef {
		t.Error("Different requests must not share a fingerprint")
	}
}

func TestEngine_ExhaustedRetriesIsUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	invoker := &scriptedInvoker{errs: []error{boom, boom, boom}}
	store := NewMemoryStore()
	engine := NewEngine(invoker, store, nil)

	_, err := engine.EstimateDamage(context.Background(), testRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if got := invoker.callCount.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}

	// The failed call is still audited.
	results, _ := store.ListByClaim(context.Background(), "clm_1")
	if len(results) != 1 {
		t.Fatalf("Expected 1 audit row, got %d", len(results))
	}
	if results[0].Success {
		t.Error("Audit row should record failure")
	}
	if results[0].Error == "" {
		t.Error("Audit row should carry the error message")
	}
}

func TestEngine_RejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name    string
		invoker *scriptedInvoker
		fraud   bool
	}{
		{"negative cost", &scriptedInvoker{
			damage: []*DamageEstimate{{CostCents: -1, Confidence: 0.9}},
		}, false},
		{"confidence above one", &scriptedInvoker{
			damage: []*DamageEstimate{{CostCents: 100, Confidence: 1.5}},
		}, false},
		{"fraud score above one", &scriptedInvoker{
			fraud: []*FraudAssessment{{Score: 1.2, Confidence: 0.9}},
		}, true},
		{"negative fraud score", &scriptedInvoker{
			fraud: []*FraudAssessment{{Score: -0.1, Confidence: 0.9}},
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewEngine(tc.invoker, nil, nil)
			var err error
			if tc.fraud {
				_, err = engine.AssessFraud(context.Background(), testRequest())
			} else {
				_, err = engine.EstimateDamage(context.Background(), testRequest())
			}
			if !errors.Is(err, ErrInvalidScore) {
				t.Fatalf("Expected ErrInvalidScore, got %v", err)
			}
			// Range violations are not retried.
			if got := tc.invoker.callCount.Load(); got != 1 {
				t.Errorf("Expected 1 attempt, got %d", got)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// HTTP invoker
// ---------------------------------------------------------------------------

func TestHTTPInvoker(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/api/estimate-damage":
			_ = json.NewEncoder(w).Encode(DamageEstimate{CostCents: req.ClaimAmountCents, Confidence: 0.91})
		case "/api/assess-fraud":
			_ = json.NewEncoder(w).Encode(FraudAssessment{Score: 0.12, Confidence: 0.88, Recommendation: "approve"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	invoker := NewHTTPInvoker(srv.URL, "secret-key", 5*time.Second)
	ctx := context.Background()

	estimate, err := invoker.EstimateDamage(ctx, testRequest())
	if err != nil {
		t.Fatalf("EstimateDamage failed: %v", err)
	}
	if estimate.CostCents != 250_000 {
		t.Errorf("Wrong cost: %d", estimate.CostCents)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Wrong auth header: %q", gotAuth)
	}
	if gotPath != "/api/estimate-damage" {
		t.Errorf("Wrong path: %q", gotPath)
	}

	fraud, err := invoker.AssessFraud(ctx, testRequest())
	if err != nil {
		t.Fatalf("AssessFraud failed: %v", err)
	}
	if fraud.Score != 0.12 || gotPath != "/api/assess-fraud" {
		t.Errorf("Wrong fraud call: score=%v path=%q", fraud.Score, gotPath)
	}
}

func TestHTTPInvoker_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	engine := NewEngine(NewHTTPInvoker(srv.URL, "k", time.Second), nil, nil)
	_, err := engine.EstimateDamage(context.Background(), testRequest())
	if err == nil {
		t.Fatal("Expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("4xx must not be retried, got %d calls", got)
	}
}

func TestHTTPInvoker_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(DamageEstimate{CostCents: 1000, Confidence: 0.9})
	}))
	defer srv.Close()

	engine := NewEngine(NewHTTPInvoker(srv.URL, "k", time.Second), nil, nil)
	estimate, err := engine.EstimateDamage(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Expected success after retries: %v", err)
	}
	if estimate.CostCents != 1000 {
		t.Errorf("Wrong estimate: %d", estimate.CostCents)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected 3 calls, got %d", got)
	}
}
