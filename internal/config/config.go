package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the panel server.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Polling   PollingConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	AllowedOrigins []string
	MigrationsDir  string
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
	MaxRPS  float64
}

type DatabaseConfig struct {
	URL                  string
	MaxOpenConns         int
	MaxIdleConns         int
	ConnMaxLifetime      time.Duration
	ConnectRetryInterval time.Duration
	ConnectTimeout       time.Duration
}

type RedisConfig struct {
	URL              string
	ArtifactCacheTTL time.Duration
}

type PollingConfig struct {
	AnalysisInterval     time.Duration
	CaptureInterval      time.Duration
	ScriptInterval       time.Duration
	PreviewInterval      time.Duration
	ArtifactRecheckDelay time.Duration
	SubmitLockTTL        time.Duration
}

type AuthConfig struct {
	OperatorTokenHash string
}

type RateLimitConfig struct {
	PerMinute     int
	PollPerMinute int
}

// PollRequestsPerMinute is the read load of one open panel polling every
// kind with a live preview, doubled for a second tab, plus room for review
// and artifact fetches.
func (p PollingConfig) PollRequestsPerMinute() int {
	n := perMinute(p.AnalysisInterval) + perMinute(p.CaptureInterval) + perMinute(p.ScriptInterval) +
		2*perMinute(p.PreviewInterval)
	return 2*n + 60
}

func perMinute(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((time.Minute + d - 1) / d)
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("PANEL_PORT", 8080),
			Env:            envString("PANEL_ENV", "development"),
			AllowedOrigins: envList("PANEL_ALLOWED_ORIGINS", []string{"*"}),
			MigrationsDir:  envString("MIGRATIONS_DIR", "migrations"),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(os.Getenv("BACKEND_BASE_URL"), "/"),
			Timeout: envDuration("BACKEND_TIMEOUT", 10*time.Second),
			MaxRPS:  envFloat("BACKEND_MAX_RPS", 20),
		},
		Database: DatabaseConfig{
			URL:                  os.Getenv("DATABASE_URL"),
			MaxOpenConns:         envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:         envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:      envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectRetryInterval: envDuration("DATABASE_CONNECT_RETRY_INTERVAL", 500*time.Millisecond),
			ConnectTimeout:       envDuration("DATABASE_CONNECT_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:              os.Getenv("REDIS_URL"),
			ArtifactCacheTTL: envDuration("ARTIFACT_CACHE_TTL", 10*time.Minute),
		},
		Polling: PollingConfig{
			AnalysisInterval:     envDuration("ANALYSIS_POLL_INTERVAL", time.Second),
			CaptureInterval:      envDuration("CAPTURE_POLL_INTERVAL", 1500*time.Millisecond),
			ScriptInterval:       envDuration("SCRIPT_POLL_INTERVAL", 3*time.Second),
			PreviewInterval:      envDuration("PREVIEW_INTERVAL", 800*time.Millisecond),
			ArtifactRecheckDelay: envDuration("ARTIFACT_RECHECK_DELAY", 2*time.Second),
			SubmitLockTTL:        envDuration("SUBMIT_LOCK_TTL", 2*time.Minute),
		},
		Auth: AuthConfig{
			OperatorTokenHash: os.Getenv("OPERATOR_TOKEN_HASH"),
		},
		RateLimit: RateLimitConfig{
			PerMinute:     envInt("RATE_LIMIT_PER_MIN", 120),
			PollPerMinute: envInt("RATE_LIMIT_POLL_PER_MIN", 0),
		},
	}
	if cfg.RateLimit.PollPerMinute == 0 {
		cfg.RateLimit.PollPerMinute = cfg.Polling.PollRequestsPerMinute()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("BACKEND_BASE_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.OperatorTokenHash == "" {
		return fmt.Errorf("OPERATOR_TOKEN_HASH is required")
	}
	if !strings.HasPrefix(c.Auth.OperatorTokenHash, "$2") {
		return fmt.Errorf("OPERATOR_TOKEN_HASH must be a bcrypt hash")
	}

	for name, d := range map[string]time.Duration{
		"ANALYSIS_POLL_INTERVAL": c.Polling.AnalysisInterval,
		"CAPTURE_POLL_INTERVAL":  c.Polling.CaptureInterval,
		"SCRIPT_POLL_INTERVAL":   c.Polling.ScriptInterval,
		"PREVIEW_INTERVAL":       c.Polling.PreviewInterval,
	} {
		if d < 100*time.Millisecond {
			return fmt.Errorf("%s must be at least 100ms, got %s", name, d)
		}
	}

	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must be positive, got %d", c.RateLimit.PerMinute)
	}
	if floor := c.Polling.PollRequestsPerMinute() / 2; c.RateLimit.PollPerMinute < floor {
		return fmt.Errorf("RATE_LIMIT_POLL_PER_MIN must be at least %d for the configured poll intervals, got %d",
			floor, c.RateLimit.PollPerMinute)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
