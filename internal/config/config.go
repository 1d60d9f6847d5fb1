// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// AI scoring service
	AIServiceURL    string        // Base URL of the damage/fraud scoring service (optional, simulator if not set)
	AIServiceAPIKey string        // Bearer token for the scoring service
	ScoringTimeout  time.Duration // Per-call timeout for scoring requests

	// Adjudication thresholds
	AutoApproveCeilingCents int64   // Claims above this payout are never auto-approved
	MinConfidence           float64 // Minimum damage-assessment confidence for auto-approval
	MaxFraudScore           float64 // Fraud scores at or above this block auto-approval
	AutoEvaluateClaims      bool    // Evaluate freshly filed claims in the background

	// Payments
	StripeAPIKey string // Optional, simulated gateway if not set

	// Telemetry ingestion
	MaxBatchSize int // Maximum readings accepted per ingest request

	// Security
	AdminSecret        string // Admin API secret
	RateLimitPerMinute int    // Per-client request budget per minute

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultScoringTimeout     = 30 * time.Second
	DefaultAutoApproveCeiling = 5_000_000 // $50,000.00 in cents
	DefaultMinConfidence      = 0.90
	DefaultMaxFraudScore      = 0.70
	DefaultMaxBatchSize       = 500
	DefaultRateLimit          = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", DefaultPort),
		Env:                     getEnv("ENV", DefaultEnv),
		LogLevel:                getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:               getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:             os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		AIServiceURL:            os.Getenv("AI_SERVICE_URL"),
		AIServiceAPIKey:         os.Getenv("AI_SERVICE_API_KEY"),
		ScoringTimeout:          getEnvDuration("SCORING_TIMEOUT", DefaultScoringTimeout),
		AutoApproveCeilingCents: getEnvInt64("AUTO_APPROVE_CEILING_CENTS", DefaultAutoApproveCeiling),
		MinConfidence:           getEnvFloat("AUTO_APPROVE_MIN_CONFIDENCE", DefaultMinConfidence),
		MaxFraudScore:           getEnvFloat("AUTO_APPROVE_MAX_FRAUD_SCORE", DefaultMaxFraudScore),
		AutoEvaluateClaims:      getEnvBool("AUTO_EVALUATE_CLAIMS", true),
		StripeAPIKey:            os.Getenv("STRIPE_API_KEY"),
		MaxBatchSize:            int(getEnvInt64("MAX_BATCH_SIZE", DefaultMaxBatchSize)),
		AdminSecret:             os.Getenv("ADMIN_SECRET"),
		RateLimitPerMinute:      int(getEnvInt64("RATE_LIMIT_PER_MINUTE", int64(DefaultRateLimit))),
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent
func (c *Config) Validate() error {
	if c.AutoApproveCeilingCents < 0 {
		return fmt.Errorf("AUTO_APPROVE_CEILING_CENTS must be non-negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("AUTO_APPROVE_MIN_CONFIDENCE must be in [0,1]")
	}
	if c.MaxFraudScore < 0 || c.MaxFraudScore > 1 {
		return fmt.Errorf("AUTO_APPROVE_MAX_FRAUD_SCORE must be in [0,1]")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}
	if c.AIServiceURL != "" && c.AIServiceAPIKey == "" {
		return fmt.Errorf("AI_SERVICE_API_KEY is required when AI_SERVICE_URL is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
