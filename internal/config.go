package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// minJWTSecretLength matches auth.MinSecretLength.
const minJWTSecretLength = 32

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Bearer token verification
	JWTSecret string
	JWTIssuer string

	// Usage ledger storage: "memory", "postgres" or "redis"
	LedgerBackend string
	RedisURL      string
	RedisPrefix   string

	// Plan catalog YAML. Empty uses the embedded default catalog.
	PlanCatalogPath string

	// Browser origins allowed to call the API
	CORSAllowedOrigins []string

	// Stale-period sweeper
	SweepEnabled       bool
	SweepSchedule      string
	SweepRetainPeriods int
	SweepTimeout       time.Duration

	ShutdownTimeout time.Duration

	// Development-only user fixtures, "uuid=plan,uuid=plan"
	DevUsers string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		DatabaseUrl: os.Getenv("DATABASE_URL"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: getEnv("JWT_ISSUER", "plangate"),

		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", LedgerMemory)),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPrefix:   getEnv("REDIS_PREFIX", "plangate"),

		PlanCatalogPath: getEnv("PLAN_CATALOG_PATH", ""),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		// Sweep at 03:15 UTC daily, keeping the current and two prior months
		SweepEnabled:       getEnvBool("SWEEP_ENABLED", true),
		SweepSchedule:      getEnv("SWEEP_SCHEDULE", "15 3 * * *"),
		SweepRetainPeriods: getEnvInt("SWEEP_RETAIN_PERIODS", 3),
		SweepTimeout:       getEnvDuration("SWEEP_TIMEOUT", time.Minute),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		DevUsers: getEnv("DEV_USERS", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// Required
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes, got %d", minJWTSecretLength, len(c.JWTSecret))
	}

	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerPostgres:
		if c.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_BACKEND is 'postgres'")
		}
	case LedgerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LEDGER_BACKEND is 'redis'")
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be one of 'memory', 'postgres' or 'redis', got: %s", c.LedgerBackend)
	}

	// The user directory lives in Postgres outside development
	if c.DatabaseUrl == "" && !c.IsDevelopment() {
		return fmt.Errorf("DATABASE_URL is required when ENV is %q", c.Env)
	}
	if c.DevUsers != "" && !c.IsDevelopment() {
		return fmt.Errorf("DEV_USERS is only allowed in development")
	}

	if c.SweepRetainPeriods < 1 {
		return fmt.Errorf("SWEEP_RETAIN_PERIODS must be at least 1, got %d", c.SweepRetainPeriods)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
