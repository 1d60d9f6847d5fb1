// Package metrics provides Prometheus instrumentation for the SmartSure platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartsure",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smartsure",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ReadingsIngestedTotal counts accepted sensor readings by device type.
	ReadingsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartsure",
			Name:      "readings_ingested_total",
			Help:      "Total sensor readings ingested by device type.",
		},
		[]string{"device_type"},
	)

	// AnomaliesDetectedTotal counts anomalous readings by metric name.
	AnomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartsure",
			Name:      "anomalies_detected_total",
			Help:      "Total anomalous readings detected by metric.",
		},
		[]string{"metric"},
	)

	// IncidentsCreatedTotal counts incidents by type and severity.
	IncidentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartsure",
			Name:      "incidents_created_total",
			Help:      "Total incidents created by type and severity.",
		},
		[]string{"type", "severity"},
	)

	// ClaimsTotal counts claim transitions by resulting status.
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartsure",
			Name:      "claims_total",
			Help:      "Total claim status transitions by resulting status.",
		},
		[]string{"status"},
	)

	// ClaimsAutoApprovedTotal counts claims decided without human review.
	ClaimsAutoApprovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "smartsure",
		Name:      "claims_auto_approved_total",
		Help:      "Total claims auto-approved by the adjudication rule.",
	})

	// ScoringCallsTotal counts AI scoring calls by model and result.
	ScoringCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartsure",
			Name:      "scoring_calls_total",
			Help:      "Total AI scoring calls by model and result.",
		},
		[]string{"model", "result"},
	)

	// ScoringDuration observes AI scoring latency by model.
	ScoringDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smartsure",
			Name:      "scoring_duration_seconds",
			Help:      "AI scoring call duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	// PayoutsTotal counts payout attempts by result.
	PayoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartsure",
			Name:      "payouts_total",
			Help:      "Total claim payouts by result.",
		},
		[]string{"result"},
	)

	// PremiumRecalcsTotal counts premium recalculations by direction.
	PremiumRecalcsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartsure",
			Name:      "premium_recalcs_total",
			Help:      "Total premium recalculations by direction of change.",
		},
		[]string{"direction"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "smartsure",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smartsure", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smartsure", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smartsure", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smartsure", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smartsure", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smartsure", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// ClaimDecisionDuration measures time from claim filing to decision.
	ClaimDecisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "smartsure",
		Name:      "claim_decision_duration_seconds",
		Help:      "Time from claim filing to approve/deny/review decision in seconds.",
		Buckets:   []float64{1, 5, 15, 60, 300, 1800, 3600, 86400},
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ReadingsIngestedTotal,
		AnomaliesDetectedTotal,
		IncidentsCreatedTotal,
		ClaimsTotal,
		ClaimsAutoApprovedTotal,
		ScoringCallsTotal,
		ScoringDuration,
		PayoutsTotal,
		PremiumRecalcsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		ClaimDecisionDuration,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
