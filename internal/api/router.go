package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/arinzecomie/livechat-relay/internal/api/middleware"
	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/handlers"
	"github.com/arinzecomie/livechat-relay/internal/ratelimit"
	"github.com/arinzecomie/livechat-relay/internal/relay"
	"github.com/arinzecomie/livechat-relay/internal/store"
	"github.com/arinzecomie/livechat-relay/internal/ws"
)

// Deps are the components the HTTP surface is built from.
type Deps struct {
	Logger         zerolog.Logger
	Store          store.MessageStore
	State          *relay.State
	Registry       *relay.Registry
	Authenticator  auth.Authenticator
	WebSocket      *ws.Server
	RateLimit      *ratelimit.Middleware // nil disables rate limiting
	AllowedOrigins []string
	PageSize       int
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	if d.RateLimit != nil {
		r.Use(d.RateLimit.Handler)
	}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(d.Store, d.State, d.Registry, d.PageSize)
	if d.WebSocket != nil {
		h.WithWebSocketCount(d.WebSocket.Count)
	}
	authz := middleware.NewAuthMiddleware(d.Authenticator)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	if d.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", d.WebSocket)
	}

	// Site admin routes
	r.Route("/sites/{siteID}", func(r chi.Router) {
		r.Use(authz.RequireSiteAdmin)

		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{sessionID}/participants", h.ListParticipants)
		r.Get("/sessions/{sessionID}/messages", h.GetSessionMessages)
	})

	return r
}
