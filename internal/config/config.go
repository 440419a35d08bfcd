package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay. It is read once at startup.
type Config struct {
	Port     string `env:"PORT"      envDefault:"8080"`
	Env      string `env:"ENV"       envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Browser origins allowed on the REST API; empty allows any.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Message store
	StoreDriver  string        `env:"STORE_DRIVER"  envDefault:"sqlite"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	SQLitePath   string        `env:"SQLITE_PATH"   envDefault:"./data/livechat.db"`
	RedisURL     string        `env:"REDIS_URL"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// Sessions and sites
	IdleTimeout            time.Duration `env:"IDLE_TIMEOUT"             envDefault:"5m"`
	DefaultConnectionLimit int           `env:"DEFAULT_CONNECTION_LIMIT" envDefault:"0"`
	MaxConnectionLimit     int           `env:"MAX_CONNECTION_LIMIT"     envDefault:"0"`
	SiteCacheTTL           time.Duration `env:"SITE_CACHE_TTL"           envDefault:"30s"`
	StaticSites            []string      `env:"STATIC_SITES"             envSeparator:","`
	OpenSites              bool          `env:"OPEN_SITES"               envDefault:"false"`

	// Credentials
	AuthHMACSecret string `env:"AUTH_HMAC_SECRET"`
	AuthPublicKey  string `env:"AUTH_PUBLIC_KEY"`
	AuthIssuer     string `env:"AUTH_ISSUER"`

	HistoryPageSize int `env:"HISTORY_PAGE_SIZE" envDefault:"50"`

	// WebSocket transport
	WSPingInterval   time.Duration `env:"WS_PING_INTERVAL"    envDefault:"30s"`
	WSReadTimeout    time.Duration `env:"WS_READ_TIMEOUT"     envDefault:"60s"`
	WSWriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT"    envDefault:"10s"`
	WSMaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"16384"`
	WSSendBuffer     int           `env:"WS_SEND_BUFFER"      envDefault:"256"`

	// Rate limiting
	MessageRate        float64  `env:"MESSAGE_RATE"         envDefault:"5"`
	MessageBurst       int      `env:"MESSAGE_BURST"        envDefault:"10"`
	MaxMessageLength   int      `env:"MAX_MESSAGE_LENGTH"   envDefault:"4096"`
	RateLimitWhitelist []string `env:"RATE_LIMIT_WHITELIST" envSeparator:","` // IPs or CIDRs
	AutoBlockEnabled   bool     `env:"AUTO_BLOCK_ENABLED"   envDefault:"false"`
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.StaticSites = trimAll(cfg.StaticSites)
	cfg.RateLimitWhitelist = trimAll(cfg.RateLimitWhitelist)
	cfg.CORSAllowedOrigins = trimAll(cfg.CORSAllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for STORE_DRIVER=postgres"))
		}
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for STORE_DRIVER=redis"))
		}
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.AuthHMACSecret == "" && c.AuthPublicKey == "" {
		errs = append(errs, errors.New("one of AUTH_HMAC_SECRET or AUTH_PUBLIC_KEY is required"))
	}
	if !c.IsDevelopment() {
		if c.OpenSites {
			errs = append(errs, errors.New("OPEN_SITES is only allowed in development"))
		}
		if c.AuthHMACSecret != "" && len(c.AuthHMACSecret) < 32 {
			errs = append(errs, errors.New("AUTH_HMAC_SECRET must be at least 32 bytes outside development"))
		}
	}

	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("IDLE_TIMEOUT must be positive"))
	}
	if c.DefaultConnectionLimit < 0 || c.MaxConnectionLimit < 0 {
		errs = append(errs, errors.New("connection limits must not be negative"))
	}
	if c.MaxConnectionLimit > 0 && c.DefaultConnectionLimit > c.MaxConnectionLimit {
		errs = append(errs, errors.New("DEFAULT_CONNECTION_LIMIT exceeds MAX_CONNECTION_LIMIT"))
	}
	if c.HistoryPageSize < 1 || c.HistoryPageSize > 200 {
		errs = append(errs, errors.New("HISTORY_PAGE_SIZE must be between 1 and 200"))
	}
	if c.WSReadTimeout <= c.WSPingInterval {
		errs = append(errs, errors.New("WS_READ_TIMEOUT must be longer than WS_PING_INTERVAL"))
	}
	if c.WSSendBuffer < 1 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be positive"))
	}
	if c.MessageRate < 0 {
		errs = append(errs, errors.New("MESSAGE_RATE must not be negative"))
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func trimAll(entries []string) []string {
	out := entries[:0]
	for _, entry := range entries {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
