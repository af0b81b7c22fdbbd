// Package config provides configuration loading and management for the
// warranty service. It handles environment variable parsing and provides
// default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
func init() {
	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the warranty service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // Database connection string (PostgreSQL); empty selects in-memory storage
	NATSURL     string // NATS server URL
	RedisURL    string // Redis URL for the alert dedup guard

	// AI provider
	AIBaseURL string // Base URL of the generative AI API
	AIAPIKey  string // API key for the AI provider
	AIModel   string // Model name to request

	// Email delivery
	EmailAPIURL string // Base URL of the Resend-compatible email API
	EmailAPIKey string // API key for the email API
	EmailFrom   string // From address for outbound mail

	// Owner directory
	OwnerDirectoryURL string // Base URL of the owner directory; empty disables alert emails

	// Auth
	JWTIssuer   string // Expected issuer for JWT validation
	JWTAudience string // Expected audience for JWT validation
	JWKSURL     string // JWKS endpoint of the auth provider
	CronSecret  string // Shared secret authorizing the scheduled check endpoint

	// Expiry engine
	CheckIntervalHours int // Interval for the built-in scheduler; 0 disables it

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort        = "8080"
	defaultEnv         = "dev"
	defaultAIBaseURL   = "https://generativelanguage.googleapis.com"
	defaultAIModel     = "gemini-1.5-flash"
	defaultEmailAPIURL = "https://api.resend.com"
	defaultEmailFrom   = "onboarding@resend.dev"
)

// Load reads environment variables and produces a Config suitable for wiring
// the service. Returns an error if required parameters are missing.
func Load() (Config, error) {
	cfg := Config{
		Env:         getEnv("WP_ENV", defaultEnv),
		Port:        getEnv("WP_PORT", defaultPort),
		DatabaseDSN: os.Getenv("WP_DB_DSN"),
		NATSURL:     os.Getenv("WP_NATS_URL"),
		RedisURL:    os.Getenv("WP_REDIS_URL"),

		AIBaseURL: getEnv("WP_AI_BASE_URL", defaultAIBaseURL),
		AIAPIKey:  os.Getenv("WP_AI_API_KEY"),
		AIModel:   getEnv("WP_AI_MODEL", defaultAIModel),

		EmailAPIURL: getEnv("WP_EMAIL_API_URL", defaultEmailAPIURL),
		EmailAPIKey: os.Getenv("WP_EMAIL_API_KEY"),
		EmailFrom:   getEnv("WP_EMAIL_FROM", defaultEmailFrom),

		OwnerDirectoryURL: os.Getenv("WP_OWNER_DIRECTORY_URL"),

		JWTIssuer:   os.Getenv("WP_JWT_ISSUER"),
		JWTAudience: os.Getenv("WP_JWT_AUDIENCE"),
		JWKSURL:     os.Getenv("WP_JWKS_URL"),
		CronSecret:  os.Getenv("WP_CRON_SECRET"),
	}

	if interval, exists := os.LookupEnv("WP_CHECK_INTERVAL_HOURS"); exists {
		if v, err := strconv.Atoi(interval); err == nil && v >= 0 {
			cfg.CheckIntervalHours = v
		}
	} else {
		cfg.CheckIntervalHours = 24
	}

	if corsOrigins, exists := os.LookupEnv("WP_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i, origin := range cfg.CORSAllowedOrigins {
			cfg.CORSAllowedOrigins[i] = strings.TrimSpace(origin)
		}
	}

	// Validate required parameters
	if cfg.JWTIssuer == "" {
		return cfg, fmt.Errorf("WP_JWT_ISSUER is required")
	}

	if cfg.JWTAudience == "" {
		return cfg, fmt.Errorf("WP_JWT_AUDIENCE is required")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}
