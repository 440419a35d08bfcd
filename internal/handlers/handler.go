package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/arinzecomie/livechat-relay/internal/relay"
	"github.com/arinzecomie/livechat-relay/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.MessageStore
	state    *relay.State
	registry *relay.Registry
	started  time.Time
	pageSize int

	// websockets reports open WebSocket connections; optional.
	websockets func() int
}

// NewHandler creates a new Handler.
func NewHandler(s store.MessageStore, state *relay.State, registry *relay.Registry, pageSize int) *Handler {
	if pageSize <= 0 {
		pageSize = store.DefaultPageSize
	}
	return &Handler{
		store:    s,
		state:    state,
		registry: registry,
		started:  time.Now(),
		pageSize: pageSize,
	}
}

// WithWebSocketCount reports open WebSocket connections in /health and /stats.
func (h *Handler) WithWebSocketCount(count func() int) *Handler {
	h.websockets = count
	return h
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
