package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "SCORING_TIMEOUT", "10s")
	setEnv(t, "AUTO_APPROVE_CEILING_CENTS", "2500000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.ScoringTimeout)
	assert.Equal(t, int64(2_500_000), cfg.AutoApproveCeilingCents)
	assert.Equal(t, DefaultMinConfidence, cfg.MinConfidence)
	assert.Equal(t, DefaultMaxFraudScore, cfg.MaxFraudScore)
	assert.True(t, cfg.AutoEvaluateClaims)
}

func TestLoad_AutoEvaluateDisabled(t *testing.T) {
	setEnv(t, "AUTO_EVALUATE_CLAIMS", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.AutoEvaluateClaims)
}

func TestLoad_ScoringURLRequiresKey(t *testing.T) {
	setEnv(t, "AI_SERVICE_URL", "https://scoring.internal.example.com")
	setEnv(t, "AI_SERVICE_API_KEY", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "AI_SERVICE_API_KEY is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		AutoApproveCeilingCents: DefaultAutoApproveCeiling,
		MinConfidence:           DefaultMinConfidence,
		MaxFraudScore:           DefaultMaxFraudScore,
		MaxBatchSize:            DefaultMaxBatchSize,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "negative ceiling",
			mutate:  func(c *Config) { c.AutoApproveCeilingCents = -1 },
			wantErr: "AUTO_APPROVE_CEILING_CENTS",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.MinConfidence = 1.5 },
			wantErr: "AUTO_APPROVE_MIN_CONFIDENCE",
		},
		{
			name:    "fraud score out of range",
			mutate:  func(c *Config) { c.MaxFraudScore = -0.1 },
			wantErr: "AUTO_APPROVE_MAX_FRAUD_SCORE",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.MaxBatchSize = 0 },
			wantErr: "MAX_BATCH_SIZE",
		},
		{
			name:    "scoring URL without key",
			mutate:  func(c *Config) { c.AIServiceURL = "https://scoring.example.com" },
			wantErr: "AI_SERVICE_API_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvBool(t *testing.T) {
	setEnv(t, "TEST_BOOL", "false")
	setEnv(t, "TEST_BAD_BOOL", "nope")

	assert.False(t, getEnvBool("TEST_BOOL", true))
	assert.True(t, getEnvBool("TEST_BAD_BOOL", true))
	assert.True(t, getEnvBool("NONEXISTENT_VAR", true))
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "250ms")
	setEnv(t, "TEST_BAD_DUR", "soon")

	assert.Equal(t, 250*time.Millisecond, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_BAD_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("NONEXISTENT_VAR", time.Second))
}
