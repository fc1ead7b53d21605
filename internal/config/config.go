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
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// Challenge settings
	StepDeadline   time.Duration // per-step deadline for provider-backed steps
	RAGDeadline    time.Duration // deadline spanning a whole RAG step
	RAGMaxAttempts int           // answer attempts before the RAG step fails
	SessionGrace   time.Duration // added to the sum of step deadlines for session TTL
	QuestionBank   string        // path to a JSON question bank (optional, built-in bank if not set)

	// Security
	WebhookSecret  string // default HMAC secret for webhook signing
	CallbackSecret string // shared secret for provider callback authentication
	AdminSecret    string // Admin API secret
	RateLimitRPM   int
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultStepDeadline   = 30 * time.Second
	DefaultRAGDeadline    = 30 * time.Second
	DefaultRAGMaxAttempts = 3
	DefaultSessionGrace   = 30 * time.Second
	DefaultRateLimit      = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		StepDeadline:   getEnvSeconds("STEP_DEADLINE_SECONDS", DefaultStepDeadline),
		RAGDeadline:    getEnvSeconds("RAG_DEADLINE_SECONDS", DefaultRAGDeadline),
		RAGMaxAttempts: int(getEnvInt64("RAG_MAX_ATTEMPTS", DefaultRAGMaxAttempts)),
		SessionGrace:   getEnvSeconds("SESSION_GRACE_SECONDS", DefaultSessionGrace),
		QuestionBank:   os.Getenv("QUESTION_BANK_PATH"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		CallbackSecret: os.Getenv("PROVIDER_CALLBACK_SECRET"),
		AdminSecret:    os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.StepDeadline <= 0 {
		return fmt.Errorf("STEP_DEADLINE_SECONDS must be positive")
	}
	if c.RAGDeadline <= 0 {
		return fmt.Errorf("RAG_DEADLINE_SECONDS must be positive")
	}
	if c.RAGMaxAttempts < 1 {
		return fmt.Errorf("RAG_MAX_ATTEMPTS must be at least 1")
	}
	if c.SessionGrace < 0 {
		return fmt.Errorf("SESSION_GRACE_SECONDS must not be negative")
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

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}
