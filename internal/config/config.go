// Package config provides configuration management for herald.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT, REDIS_ADDR)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	River        RiverConfig        `mapstructure:"river"`
	Security     SecurityConfig     `mapstructure:"security"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Stream       StreamConfig       `mapstructure:"stream"`
	Notification NotificationConfig `mapstructure:"notification"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// WriteTimeout applies to regular responses only; the stream route clears
	// its write deadline because sessions are long-lived.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// AllowedOrigins lists browser origins allowed to open streams and call
	// the JSON API. "*" is honored only with UnsafeAllowAllOrigins.
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One pgxpool is shared by the stores and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// RedisConfig contains the latest-hint cache settings.
// An empty Addr disables Redis: streams then query PostgreSQL every tick and
// rate limiting is off.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains token settings.
type SecurityConfig struct {
	// JWTSecret verifies end-user tokens issued by the platform's auth service.
	JWTSecret string `mapstructure:"jwt_secret"`
	// JWTVerificationKeys are previous secrets still accepted during rotation.
	JWTVerificationKeys []string `mapstructure:"jwt_verification_keys"`
	JWTIssuer           string   `mapstructure:"jwt_issuer"`
	// DevTokenTTL is the lifetime of tokens minted by cmd/seed.
	DevTokenTTL time.Duration `mapstructure:"dev_token_ttl"`
	// InternalToken is the shared secret for system-to-system calls.
	InternalToken string `mapstructure:"internal_token"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	FanoutPoolSize  int `mapstructure:"fanout_pool_size"`
}

// StreamConfig tunes live stream sessions.
type StreamConfig struct {
	HydrateLimit  int           `mapstructure:"hydrate_limit"`
	LiveBatch     int           `mapstructure:"live_batch"`
	PollFloor     time.Duration `mapstructure:"poll_floor"`
	PollCeiling   time.Duration `mapstructure:"poll_ceiling"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
	JitterRatio   float64       `mapstructure:"jitter_ratio"`
	JitterMin     time.Duration `mapstructure:"jitter_min"`
	StoreCheck    time.Duration `mapstructure:"store_check"`
	CallBudget    int           `mapstructure:"call_budget"`
}

// NotificationConfig contains store and hint settings.
type NotificationConfig struct {
	HintTTL   time.Duration `mapstructure:"hint_ttl"`
	Retention time.Duration `mapstructure:"retention"`
	// EmailEnabled turns on the email channel outbox.
	EmailEnabled bool `mapstructure:"email_enabled"`
}

// RateLimitConfig is a fixed-window limit applied per user and route.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Nested keys map to environment names by replacing "." with "_":
// stream.call_budget → STREAM_CALL_BUDGET.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/herald")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if len(c.Security.InternalToken) < 32 {
		return fmt.Errorf("security.internal_token must be at least 32 characters")
	}
	if c.Stream.PollFloor <= 0 || c.Stream.PollCeiling < c.Stream.PollFloor {
		return fmt.Errorf("stream.poll_floor must be positive and not exceed stream.poll_ceiling")
	}
	if c.Stream.BackoffFactor < 1 {
		return fmt.Errorf("stream.backoff_factor must be >= 1")
	}
	if c.Stream.CallBudget < 1 {
		return fmt.Errorf("stream.call_budget must be positive")
	}
	if c.Stream.JitterRatio < 0 || c.Stream.JitterRatio > 1 {
		return fmt.Errorf("stream.jitter_ratio must be within [0,1]")
	}
	return nil
}

// ensureSecrets auto-generates missing secrets so a dev instance boots.
// Generated secrets do not survive a restart; production sets them explicitly.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt secret: %w", err)
		}
		c.Security.JWTSecret = secret
		logBootstrapWarn(
			"auto-generated jwt_secret; set SECURITY_JWT_SECRET to accept tokens from the auth service",
			zap.Int("length", len(secret)),
		)
	}
	if c.Security.InternalToken == "" {
		token, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate internal token: %w", err)
		}
		c.Security.InternalToken = token
		logBootstrapWarn(
			"auto-generated internal_token; set SECURITY_INTERNAL_TOKEN for internal callers",
			zap.Int("length", len(token)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "herald")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "herald")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Redis (latest-hint side channel)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Security
	v.SetDefault("security.jwt_issuer", "")
	v.SetDefault("security.dev_token_ttl", "24h")

	// Worker Pool
	v.SetDefault("worker.general_pool_size", 50)
	v.SetDefault("worker.fanout_pool_size", 32)

	// Stream sessions
	v.SetDefault("stream.hydrate_limit", 10)
	v.SetDefault("stream.live_batch", 50)
	v.SetDefault("stream.poll_floor", "3s")
	v.SetDefault("stream.poll_ceiling", "60s")
	v.SetDefault("stream.backoff_factor", 1.6)
	v.SetDefault("stream.heartbeat", "25s")
	v.SetDefault("stream.jitter_ratio", 0.2)
	v.SetDefault("stream.jitter_min", "200ms")
	v.SetDefault("stream.store_check", "30s")
	v.SetDefault("stream.call_budget", 900)

	// Notifications
	v.SetDefault("notification.hint_ttl", "168h")
	v.SetDefault("notification.retention", "2160h")
	v.SetDefault("notification.email_enabled", false)

	// Rate limit
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")
}
