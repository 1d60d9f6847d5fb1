package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{202, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	scrape := func() string {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/metrics", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		return w.Body.String()
	}

	// Gauges export immediately with their zero value.
	body := scrape()
	for _, name := range []string{
		"smartsure_active_websocket_clients",
		"smartsure_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}

	// Counters only appear after the first observation.
	ClaimsTotal.WithLabelValues("approved").Inc()
	PayoutsTotal.WithLabelValues("success").Inc()
	AnomaliesDetectedTotal.WithLabelValues("acceleration").Inc()

	body = scrape()
	for _, name := range []string{
		"smartsure_claims_total",
		"smartsure_payouts_total",
		"smartsure_anomalies_detected_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s after incrementing", name)
		}
	}
}

func TestMiddleware_RecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/metrics", Handler())
	r.POST("/v1/telemetry/:deviceUid", func(c *gin.Context) {
		c.JSON(202, gin.H{"accepted": 1})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/telemetry/VIN-TRACKER-001", nil)
	r.ServeHTTP(w, req)
	if w.Code != 202 {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/metrics", nil)
	r.ServeHTTP(w, req)

	// The route label must be the pattern, not the raw path, or cardinality
	// explodes with one series per device.
	if body := w.Body.String(); !strings.Contains(body, "/v1/telemetry/:deviceUid") {
		t.Error("Expected request metrics labeled by route pattern")
	}
}
