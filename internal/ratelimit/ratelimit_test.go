package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestLimiter_Burst(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	key := "10.1.2.3"

	for i := 0; i < 5; i++ {
		if !limiter.Allow(key) {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow(key) {
		t.Error("Request after burst should be denied")
	}

	// One token replenishes per second at 60/min.
	time.Sleep(time.Second)

	if !limiter.Allow(key) {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiter_IndependentClients(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("device:VIN-TRACKER-001")
	}

	if limiter.Allow("device:VIN-TRACKER-001") {
		t.Error("Exhausted device should be rate limited")
	}
	if !limiter.Allow("device:HOME-HUB-002") {
		t.Error("A different device should not be rate limited")
	}
}

func TestLimiter_Replenishment(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 600,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	key := "10.9.9.9"

	if !limiter.Allow(key) {
		t.Error("First request should be allowed")
	}
	if limiter.Allow(key) {
		t.Error("Second immediate request should be denied")
	}

	// 600/min replenishes a token every 100ms.
	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow(key) {
		t.Error("Request after replenishment should be allowed")
	}
}

func TestDeviceMiddleware_LimitsPerDevice(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         2,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	router := gin.New()
	router.POST("/v1/telemetry/:deviceUid", limiter.DeviceMiddleware("deviceUid"), func(c *gin.Context) {
		c.String(202, "ok")
	})

	post := func(uid string) int {
		req := httptest.NewRequest("POST", "/v1/telemetry/"+uid, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := post("VIN-TRACKER-001"); code != 202 {
		t.Fatalf("first reading: got %d, want 202", code)
	}
	if code := post("VIN-TRACKER-001"); code != 202 {
		t.Fatalf("second reading: got %d, want 202", code)
	}
	if code := post("VIN-TRACKER-001"); code != 429 {
		t.Fatalf("chatty device: got %d, want 429", code)
	}
	// A different device still gets through.
	if code := post("HOME-HUB-002"); code != 202 {
		t.Fatalf("other device: got %d, want 202", code)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerMinute != 60 {
		t.Errorf("Expected 60 requests/min, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("Expected burst size 10, got %d", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("Expected 1 minute cleanup interval, got %v", cfg.CleanupInterval)
	}
}
