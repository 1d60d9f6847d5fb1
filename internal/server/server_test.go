package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartsure/smartsure/internal/claims"
	"github.com/smartsure/smartsure/internal/config"
	"github.com/smartsure/smartsure/internal/devices"
	"github.com/smartsure/smartsure/internal/incidents"
	"github.com/smartsure/smartsure/internal/logging"
	"github.com/smartsure/smartsure/internal/policies"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Port:                    "0",
		Env:                     "test",
		LogLevel:                "error",
		LogFormat:               "text",
		ScoringTimeout:          5 * time.Second,
		AutoApproveCeilingCents: 5_000_000,
		MinConfidence:           0.90,
		MaxFraudScore:           0.70,
		MaxBatchSize:            100,
		RateLimitPerMinute:      100_000,
	}
	srv, err := New(cfg, WithLogger(logging.New("error", "text")))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	if code := doJSON(t, srv, http.MethodGet, "/health/live", nil, nil); code != http.StatusOK {
		t.Errorf("liveness: expected 200, got %d", code)
	}
	// Readiness flips only once Run has started.
	if code := doJSON(t, srv, http.MethodGet, "/health/ready", nil, nil); code != http.StatusServiceUnavailable {
		t.Errorf("readiness before Run: expected 503, got %d", code)
	}
	// No checkers registered in memory mode, so aggregate health is OK.
	var health HealthResponse
	if code := doJSON(t, srv, http.MethodGet, "/health", nil, &health); code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", code)
	}
	if health.Status != "healthy" {
		t.Errorf("health status = %q", health.Status)
	}
}

func TestInfoEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var info map[string]interface{}
	if code := doJSON(t, srv, http.MethodGet, "/", nil, &info); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if info["name"] != "SmartSure" {
		t.Errorf("Unexpected info payload: %v", info)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
}

func TestAdminRoutesDisabledWithoutSecret(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/policies/expire-sweep", nil)
	req.Header.Set("X-Admin-Secret", "anything")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when no admin secret configured, got %d", w.Code)
	}
}

func TestAdminExpireSweep(t *testing.T) {
	cfg := &config.Config{
		Port:                    "0",
		Env:                     "test",
		LogLevel:                "error",
		LogFormat:               "text",
		ScoringTimeout:          5 * time.Second,
		AutoApproveCeilingCents: 5_000_000,
		MinConfidence:           0.90,
		MaxFraudScore:           0.70,
		MaxBatchSize:            100,
		RateLimitPerMinute:      100_000,
		AdminSecret:             "sweep-secret",
	}
	srv, err := New(cfg, WithLogger(logging.New("error", "text")))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/policies/expire-sweep", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 without secret header, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/policies/expire-sweep", nil)
	req.Header.Set("X-Admin-Secret", "sweep-secret")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 with correct secret, got %d", w.Code)
	}
}

func TestInvalidIDParamRejected(t *testing.T) {
	srv := newTestServer(t)
	if code := doJSON(t, srv, http.MethodGet, "/v1/claims/not-a-valid-id", nil, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed ID, got %d", code)
	}
}

// TestClaimLifecycleOverHTTP walks the full pipeline against in-memory
// storage: customer, policy, device, anomalous telemetry, incident,
// claim, evaluation.
func TestClaimLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	// Customer
	var custResp struct {
		Customer policies.Customer `json:"customer"`
	}
	code := doJSON(t, srv, http.MethodPost, "/v1/customers", map[string]interface{}{
		"name":        "Ada Example",
		"email":       "ada@example.com",
		"riskProfile": "medium",
	}, &custResp)
	if code != http.StatusCreated {
		t.Fatalf("create customer: expected 201, got %d", code)
	}

	// Policy with IoT enabled
	var polResp struct {
		Policy policies.Policy `json:"policy"`
	}
	now := time.Now()
	code = doJSON(t, srv, http.MethodPost, "/v1/policies", map[string]interface{}{
		"customerId":     custResp.Customer.ID,
		"insuranceType":  "vehicle",
		"startDate":      now.Format(time.RFC3339),
		"endDate":        now.AddDate(1, 0, 0).Format(time.RFC3339),
		"premiumCents":   1_000_000,
		"dynamicPremium": true,
		"iotEnabled":     true,
	}, &polResp)
	if code != http.StatusCreated {
		t.Fatalf("create policy: expected 201, got %d", code)
	}
	policyID := polResp.Policy.ID

	if code = doJSON(t, srv, http.MethodPost, "/v1/policies/"+policyID+"/activate", nil, nil); code != http.StatusOK {
		t.Fatalf("activate policy: expected 200, got %d", code)
	}

	// Device
	var devResp struct {
		Device devices.Device `json:"device"`
	}
	code = doJSON(t, srv, http.MethodPost, "/v1/devices", map[string]interface{}{
		"uid":      "VIN-TRACKER-001",
		"policyId": policyID,
		"type":     "vehicle_tracker",
	}, &devResp)
	if code != http.StatusCreated {
		t.Fatalf("register device: expected 201, got %d", code)
	}

	// Anomalous telemetry (hard impact)
	code = doJSON(t, srv, http.MethodPost, "/v1/telemetry/VIN-TRACKER-001", map[string]interface{}{
		"readings": []map[string]interface{}{
			{"metric": "acceleration", "value": 9.5, "unit": "g"},
		},
	}, nil)
	if code != http.StatusAccepted && code != http.StatusOK {
		t.Fatalf("ingest: expected 2xx, got %d", code)
	}

	// Incident generation is asynchronous; poll briefly.
	var incResp struct {
		Incidents []*incidents.Incident `json:"incidents"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		doJSON(t, srv, http.MethodGet, "/v1/policies/"+policyID+"/incidents", nil, &incResp)
		if len(incResp.Incidents) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(incResp.Incidents) != 1 {
		t.Fatalf("Expected 1 incident, got %d", len(incResp.Incidents))
	}
	incident := incResp.Incidents[0]
	if incident.Type != incidents.TypeCrash {
		t.Errorf("Expected crash incident, got %s", incident.Type)
	}

	// File and evaluate a claim against the incident
	var claimResp struct {
		Claim claims.Claim `json:"claim"`
	}
	code = doJSON(t, srv, http.MethodPost, "/v1/claims", map[string]interface{}{
		"policyId":    policyID,
		"incidentId":  incident.ID,
		"amountCents": 300_000,
		"description": "collision damage",
	}, &claimResp)
	if code != http.StatusCreated {
		t.Fatalf("file claim: expected 201, got %d", code)
	}

	var decided struct {
		Claim claims.Claim `json:"claim"`
	}
	code = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v1/claims/%s/evaluate", claimResp.Claim.ID), nil, &decided)
	if code != http.StatusOK {
		t.Fatalf("evaluate claim: expected 200, got %d", code)
	}
	if decided.Claim.Status != claims.StatusAutoPaid && decided.Claim.Status != claims.StatusPending {
		t.Fatalf("Expected auto_paid or pending, got %s", decided.Claim.Status)
	}
	if decided.Claim.AIEstimateCents == nil || decided.Claim.FraudScore == nil {
		t.Error("Scoring results missing from evaluated claim")
	}

	// A second evaluation of a paid claim must be rejected.
	if decided.Claim.Status == claims.StatusAutoPaid {
		code = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v1/claims/%s/evaluate", claimResp.Claim.ID), nil, nil)
		if code != http.StatusConflict {
			t.Errorf("re-evaluate decided claim: expected 409, got %d", code)
		}
	}
}
