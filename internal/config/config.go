// Package config defines the matcher's configuration and how it is loaded.
package config

import (
	"fmt"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// CORSOrigins lists the origins allowed to call the API. Empty allows all.
	CORSOrigins []string `koanf:"cors_origins"`
	// TrustUserHeader accepts X-User-Email as the caller's identity when the
	// identity-aware proxy header is missing. Leave it off unless the server
	// is unreachable from untrusted clients.
	TrustUserHeader bool `koanf:"trust_user_header"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// PoolBackend selects the pool: "memory" or "redis".
	PoolBackend   string `koanf:"pool_backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// DatabaseURL is a PostgreSQL DSN. Empty keeps matches and users in memory.
	DatabaseURL string `koanf:"database_url"`

	// NATSURL enables match.found publishing when set.
	NATSURL string `koanf:"nats_url"`

	// Email notification over SMTP.
	EmailEnabled  bool   `koanf:"email_enabled"`
	SMTPHost      string `koanf:"smtp_host"`
	SMTPPort      int    `koanf:"smtp_port"`
	SMTPUsername  string `koanf:"smtp_username"`
	SMTPPassword  string `koanf:"smtp_password"`
	EmailFrom     string `koanf:"email_from"`
	EmailFromName string `koanf:"email_from_name"`
	EmailDomain   string `koanf:"email_domain"`

	// Matching rules.
	Padding           time.Duration `koanf:"padding"`
	DurationTolerance time.Duration `koanf:"duration_tolerance"`
	MinSameFields     int           `koanf:"min_same_fields"`
	ClaimRetries      int           `koanf:"claim_retries"`
	CleanupInterval   time.Duration `koanf:"cleanup_interval"`

	// Per-user join throttling.
	JoinRateLimit  int           `koanf:"join_rate_limit"`
	JoinRateWindow time.Duration `koanf:"join_rate_window"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":8080",
		ShutdownTimeout:   10 * time.Second,
		PoolBackend:       "memory",
		RedisAddr:         "localhost:6379",
		SMTPHost:          "smtp.gmail.com",
		SMTPPort:          587,
		EmailFrom:         "Adlib-Step@gmail.com",
		EmailFromName:     "Ad-lib",
		EmailDomain:       "google.com",
		Padding:           10 * time.Minute,
		DurationTolerance: 0,
		MinSameFields:     1,
		ClaimRetries:      3,
		CleanupInterval:   time.Minute,
		JoinRateLimit:     10,
		JoinRateWindow:    time.Minute,
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.PoolBackend != "memory" && c.PoolBackend != "redis":
		return fmt.Errorf("%w: pool_backend must be memory or redis, got %q", ErrInvalidConfig, c.PoolBackend)
	case c.PoolBackend == "redis" && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr is required for the redis pool", ErrInvalidConfig)
	case c.Padding < 0:
		return fmt.Errorf("%w: padding must not be negative", ErrInvalidConfig)
	case c.DurationTolerance < 0:
		return fmt.Errorf("%w: duration_tolerance must not be negative", ErrInvalidConfig)
	case c.MinSameFields < 1:
		return fmt.Errorf("%w: min_same_fields must be at least 1", ErrInvalidConfig)
	case c.ClaimRetries < 1:
		return fmt.Errorf("%w: claim_retries must be at least 1", ErrInvalidConfig)
	case c.CleanupInterval <= 0:
		return fmt.Errorf("%w: cleanup_interval must be positive", ErrInvalidConfig)
	case c.JoinRateLimit < 1 || c.JoinRateWindow <= 0:
		return fmt.Errorf("%w: join rate limit must be positive", ErrInvalidConfig)
	case c.EmailEnabled && (c.SMTPHost == "" || c.EmailDomain == "" || c.EmailFrom == ""):
		return fmt.Errorf("%w: email needs smtp_host, email_from and email_domain", ErrInvalidConfig)
	}
	return nil
}
