package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/arinzecomie/livechat-relay/internal/metrics"
)

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Options selects and parameterises the durable backend.
type Options struct {
	Driver         string
	DatabaseURL    string
	SQLitePath     string
	RedisURL       string
	ConnectTimeout time.Duration
}

// Open connects to the configured backend. It never fails: when the durable backend
// cannot be reached the result is a MemoryStore, and the fallback is logged at error
// level and exported through the livechat_store_durable gauge.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) MessageStore {
	s, err := connect(ctx, opts)
	if err == nil {
		metrics.StoreDurable.Set(1)
		logger.Info().Str("driver", opts.Driver).Msg("message store connected")
		return s
	}

	metrics.StoreDurable.Set(0)
	if opts.Driver == DriverMemory {
		logger.Warn().
			Bool("durable", false).
			Msg("message store is in-memory; history is lost on restart")
	} else {
		logger.Error().
			Err(err).
			Str("driver", opts.Driver).
			Bool("durable", false).
			Msg("message store unreachable, falling back to in-memory store; history is lost on restart")
	}
	return NewMemoryStore()
}

var errMemoryDriver = fmt.Errorf("%w: memory driver selected", ErrUnavailable)

func connect(ctx context.Context, opts Options) (MessageStore, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch opts.Driver {
	case DriverPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("%w: DATABASE_URL not set", ErrUnavailable)
		}
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case DriverSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case DriverRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("%w: REDIS_URL not set", ErrUnavailable)
		}
		return NewRedisStore(ctx, opts.RedisURL)
	case DriverMemory:
		return nil, errMemoryDriver
	}
	return nil, fmt.Errorf("%w: unknown driver %q", ErrUnavailable, opts.Driver)
}
