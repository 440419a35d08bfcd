package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/arinzecomie/livechat-relay/internal/api"
	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/config"
	"github.com/arinzecomie/livechat-relay/internal/crypto"
	"github.com/arinzecomie/livechat-relay/internal/directory"
	"github.com/arinzecomie/livechat-relay/internal/ratelimit"
	"github.com/arinzecomie/livechat-relay/internal/relay"
	"github.com/arinzecomie/livechat-relay/internal/store"
	"github.com/arinzecomie/livechat-relay/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootstrap := zerolog.New(os.Stderr)
		bootstrap.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	} else {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx := context.Background()

	// Message store; falls back to memory rather than failing
	rawStore := store.Open(ctx, store.Options{
		Driver:         cfg.StoreDriver,
		DatabaseURL:    cfg.DatabaseURL,
		SQLitePath:     cfg.SQLitePath,
		RedisURL:       cfg.RedisURL,
		ConnectTimeout: cfg.StoreTimeout,
	}, logger)
	defer rawStore.Close()

	indexCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	if err := rawStore.CreateIndexesIfAbsent(indexCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to ensure message indexes")
	}
	cancel()

	dir := newDirectory(ctx, cfg, rawStore, logger)

	authn, err := newAuthenticator(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("auth configuration failed")
	}

	// Relay core
	opts := relay.Options{
		IdleTimeout:            cfg.IdleTimeout,
		DefaultConnectionLimit: cfg.DefaultConnectionLimit,
		MaxConnectionLimit:     cfg.MaxConnectionLimit,
		HistoryPageSize:        cfg.HistoryPageSize,
		SendBuffer:             cfg.WSSendBuffer,
		StoreTimeout:           cfg.StoreTimeout,
		MessageRate:            rate.Limit(cfg.MessageRate),
		MessageBurst:           cfg.MessageBurst,
		MaxMessageLength:       cfg.MaxMessageLength,
		Clock:                  time.Now,
	}
	messages := store.Instrument(rawStore)
	state := relay.NewState()
	router := relay.NewRouter(messages, opts, logger)
	registry := relay.NewRegistry(state, router, opts, logger)
	gateway := relay.NewGateway(state, registry, router, authn, dir, opts, logger)

	wsServer := ws.NewServer(gateway, ws.Config{
		PingInterval:   cfg.WSPingInterval,
		ReadTimeout:    cfg.WSReadTimeout,
		WriteTimeout:   cfg.WSWriteTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
	}, logger)

	limiter, closeLimiter := newRateLimiter(ctx, cfg, rawStore, logger)
	defer closeLimiter()

	handler := api.NewRouter(api.Deps{
		Logger:         logger,
		Store:          messages,
		State:          state,
		Registry:       registry,
		Authenticator:  authn,
		WebSocket:      wsServer,
		RateLimit:      limiter,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		PageSize:       cfg.HistoryPageSize,
	})

	// WriteTimeout stays zero: hijacked WebSocket connections manage their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store_mode", string(rawStore.Mode())).
			Msg("starting livechat relay")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server forced to shutdown")
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Int("open", wsServer.Count()).Msg("websocket connections did not drain")
	}

	logger.Info().Msg("server stopped")
}

// newDirectory prefers the SQL site table of the message store. STATIC_SITES are
// seeded into it; OPEN_SITES forces the static directory so unknown sites are admitted.
func newDirectory(ctx context.Context, cfg *config.Config, s store.MessageStore, logger zerolog.Logger) directory.Directory {
	static, err := directory.ParseStatic(cfg.StaticSites, cfg.OpenSites)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid STATIC_SITES")
	}

	sites, ok := s.(store.SiteStore)
	if !ok || static.Open() {
		logger.Info().
			Int("sites", len(cfg.StaticSites)).
			Bool("open", static.Open()).
			Msg("using static site directory")
		return directory.NewCached(static, cfg.SiteCacheTTL, logger)
	}

	seedCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	n, err := directory.Seed(seedCtx, sites, static)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to seed static sites")
	}
	logger.Info().Int("seeded", n).Msg("using sql site directory")
	return directory.NewCached(directory.NewSQL(sites), cfg.SiteCacheTTL, logger)
}

func newAuthenticator(cfg *config.Config) (*auth.JWTAuthenticator, error) {
	ac := auth.Config{Issuer: cfg.AuthIssuer}
	if cfg.AuthHMACSecret != "" {
		ac.HMACSecret = []byte(cfg.AuthHMACSecret)
	}
	if cfg.AuthPublicKey != "" {
		pub, err := crypto.ParsePublicKey(cfg.AuthPublicKey)
		if err != nil {
			return nil, err
		}
		ac.PublicKey = pub
	}
	return auth.NewJWTAuthenticator(ac)
}

// newRateLimiter shares counters through Redis when one is reachable, either as the
// message store or through REDIS_URL. Otherwise limits are per process. The returned
// func closes any Redis connection opened only for rate limiting.
func newRateLimiter(ctx context.Context, cfg *config.Config, s store.MessageStore, logger zerolog.Logger) (*ratelimit.Middleware, func()) {
	rl := ratelimit.Config{
		Rules:     ratelimit.DefaultRules(),
		Whitelist: cfg.RateLimitWhitelist,
	}

	redisStore, owned := rateLimitRedis(ctx, cfg, s, logger)
	if redisStore == nil {
		return ratelimit.NewMiddleware(ratelimit.NewLocalLimiter(), rl, logger), func() {}
	}

	release := func() {}
	if owned {
		var once sync.Once
		release = func() { once.Do(redisStore.Close) }
	}

	if cfg.AutoBlockEnabled {
		rl.Blocker = ratelimit.NewIPBlocker(redisStore.Client(), 10, 24*time.Hour)
	}
	logger.Info().Bool("auto_block", cfg.AutoBlockEnabled).Bool("dedicated", owned).Msg("using redis rate limits")
	return ratelimit.NewMiddleware(ratelimit.NewRedisLimiter(redisStore.Client()), rl, logger), release
}

// rateLimitRedis returns the Redis store rate limits should use, or nil. owned is
// true when the store was opened here and must be closed by the caller.
func rateLimitRedis(ctx context.Context, cfg *config.Config, s store.MessageStore, logger zerolog.Logger) (rs *store.RedisStore, owned bool) {
	if rs, ok := s.(*store.RedisStore); ok {
		return rs, false
	}
	if cfg.RedisURL == "" {
		return nil, false
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	rs, err := store.NewRedisStore(connectCtx, cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, using in-process rate limits")
		return nil, false
	}
	return rs, true
}
