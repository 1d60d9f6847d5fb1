// Package server wires the HTTP API together.
//
// Flow:
//  1. New builds storage (Postgres or in-memory), the domain services,
//     the scoring engine, the payout gateway, and the realtime hub.
//  2. Cross-package dependencies go through small adapters defined at the
//     bottom of this file, so domain packages never import each other's
//     services directly.
//  3. Run starts the HTTP server, the hub, and the policy-expiry timer,
//     then blocks until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/smartsure/smartsure/internal/circuitbreaker"
	"github.com/smartsure/smartsure/internal/claims"
	"github.com/smartsure/smartsure/internal/config"
	"github.com/smartsure/smartsure/internal/devices"
	"github.com/smartsure/smartsure/internal/health"
	"github.com/smartsure/smartsure/internal/idgen"
	"github.com/smartsure/smartsure/internal/incidents"
	"github.com/smartsure/smartsure/internal/logging"
	"github.com/smartsure/smartsure/internal/metrics"
	"github.com/smartsure/smartsure/internal/payments"
	"github.com/smartsure/smartsure/internal/policies"
	"github.com/smartsure/smartsure/internal/ratelimit"
	"github.com/smartsure/smartsure/internal/realtime"
	"github.com/smartsure/smartsure/internal/scoring"
	"github.com/smartsure/smartsure/internal/security"
	"github.com/smartsure/smartsure/internal/telemetry"
	"github.com/smartsure/smartsure/internal/validation"
)

const (
	scoringBreakerThreshold = 5
	scoringBreakerCooldown  = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	rateLimiter  *ratelimit.Limiter
	hub          *realtime.Hub
	checks       *health.Registry
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	policySvc    *policies.Service
	policyTimer  *policies.Timer
	deviceSvc    *devices.Service
	telemetrySvc *telemetry.Service
	incidentSvc  *incidents.Service
	scoringEng   *scoring.Engine
	claimSvc     *claims.Service
	paymentSvc   *payments.Service

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithScorer overrides the scoring invoker (for testing)
func WithScorer(engine *scoring.Engine) Option {
	return func(s *Server) {
		s.scoringEng = engine
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	var (
		policyStore    policies.Store
		deviceStore    devices.Store
		telemetryStore telemetry.Store
		incidentStore  incidents.Store
		claimStore     claims.Store
		scoringStore   scoring.Store
		paymentStore   payments.Store
	)

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		policyStore = policies.NewPostgresStore(db)
		deviceStore = devices.NewPostgresStore(db)
		telemetryStore = telemetry.NewPostgresStore(db)
		incidentStore = incidents.NewPostgresStore(db)
		claimStore = claims.NewPostgresStore(db)
		scoringStore = scoring.NewPostgresStore(db)
		paymentStore = payments.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Unhealthy("database", err.Error())
			}
			return health.OK("database")
		})
	} else {
		policyStore = policies.NewMemoryStore()
		deviceStore = devices.NewMemoryStore()
		telemetryStore = telemetry.NewMemoryStore()
		incidentStore = incidents.NewMemoryStore()
		claimStore = claims.NewMemoryStore()
		scoringStore = scoring.NewMemoryStore()
		paymentStore = payments.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Realtime hub for WebSocket streaming
	s.hub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Domain services. The device, telemetry, and policy services reference
	// each other through lazy adapters because construction order cannot
	// satisfy the cycle directly.
	s.incidentSvc = incidents.NewService(incidentStore, s.hub)
	s.telemetrySvc = telemetry.NewService(telemetryStore, &deviceGatewayAdapter{s}, &incidentSinkAdapter{s}, nil, cfg.MaxBatchSize)
	s.deviceSvc = devices.NewService(deviceStore, &policyDirectoryAdapter{s}, &telemetryStatsAdapter{s})
	s.policySvc = policies.NewService(policyStore, &deviceSourceAdapter{s}, &telemetryStatsAdapter{s}, s.hub)
	s.policyTimer = policies.NewTimer(s.policySvc, s.logger)

	// Scoring engine: remote model when configured, simulator otherwise
	if s.scoringEng == nil {
		var invoker scoring.Invoker
		if cfg.AIServiceURL != "" {
			if err := security.ValidateEndpointURL(cfg.AIServiceURL); err != nil {
				return nil, fmt.Errorf("invalid AI_SERVICE_URL: %w", err)
			}
			invoker = scoring.NewHTTPInvoker(cfg.AIServiceURL, cfg.AIServiceAPIKey, cfg.ScoringTimeout)
			s.logger.Info("remote scoring enabled", "url", cfg.AIServiceURL)
		} else {
			invoker = scoring.NewSimulator(time.Now().UnixNano())
			s.logger.Info("simulated scoring enabled")
		}
		breaker := circuitbreaker.New(scoringBreakerThreshold, scoringBreakerCooldown)
		s.scoringEng = scoring.NewEngine(invoker, scoringStore, breaker)
	}

	// Payments: Stripe when a key is configured, simulator otherwise
	var gateway payments.Gateway
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeGateway(cfg.StripeAPIKey)
		s.logger.Info("stripe payouts enabled")
	} else {
		gateway = payments.NewSimulatedGateway()
		s.logger.Info("simulated payouts enabled")
	}
	s.paymentSvc = payments.NewService(paymentStore, gateway, s.hub)

	// Claims adjudication
	rules := claims.AutoApprovalRules{
		CeilingCents:  cfg.AutoApproveCeilingCents,
		MinConfidence: cfg.MinConfidence,
		MaxFraudScore: cfg.MaxFraudScore,
	}
	s.claimSvc = claims.NewService(
		claimStore,
		&claimPolicyAdapter{s},
		&claimIncidentAdapter{s},
		s.scoringEng,
		&claimTelemetryAdapter{s},
		s.paymentSvc,
		s.hub,
		rules,
		cfg.AutoEvaluateClaims,
	)
	s.logger.Info("claim adjudication enabled",
		"autoApproveCeilingCents", rules.CeilingCents,
		"minConfidence", rules.MinConfidence,
		"maxFraudScore", rules.MaxFraudScore,
		"autoEvaluate", cfg.AutoEvaluateClaims,
	)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitPerMinute > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitPerMinute
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/", s.infoHandler)
	s.router.GET("/api", s.infoHandler)

	// WebSocket for the live operations feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.IDParamMiddleware("id"))

	policies.NewHandler(s.policySvc).RegisterRoutes(v1)
	devices.NewHandler(s.deviceSvc).RegisterRoutes(v1)
	telemetry.NewHandler(s.telemetrySvc, s.rateLimiter).RegisterRoutes(v1)
	incidents.NewHandler(s.incidentSvc).RegisterRoutes(v1)
	claims.NewHandler(s.claimSvc).RegisterRoutes(v1)
	payments.NewHandler(s.paymentSvc).RegisterRoutes(v1)

	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})

	// Operational endpoints, disabled unless ADMIN_SECRET is set
	admin := v1.Group("/admin", security.RequireAdmin(s.cfg.AdminSecret))
	admin.POST("/policies/expire-sweep", s.expireSweepHandler)
}

// expireSweepHandler handles POST /v1/admin/policies/expire-sweep. It runs
// the same sweep the background timer runs, on demand.
func (s *Server) expireSweepHandler(c *gin.Context) {
	s.policySvc.CheckExpired(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "swept"})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "SmartSure",
		"description": "IoT-driven insurance claims platform",
		"version":     "0.1.0",
		"realtime":    "/ws",
		"health":      "/health",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start policy-expiry sweep timer
	go s.policyTimer.Start(runCtx)

	// Collect connection pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timer, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.policyTimer != nil {
		s.policyTimer.Stop()
		s.logger.Info("policy timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	return idgen.Hex(16)
}
