package handlers

import (
	"net/http"
	"time"

	"github.com/arinzecomie/livechat-relay/internal/relay"
	"github.com/arinzecomie/livechat-relay/internal/store"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	relay.Stats
	WebSockets int        `json:"websockets"`
	StoreMode  store.Mode `json:"store_mode"`
	Uptime     string     `json:"uptime"`
}

// Stats returns process-wide relay counters. Per-site detail is only available
// to that site's admins.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Stats:     h.state.Stats(),
		StoreMode: h.store.Mode(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	}
	if h.websockets != nil {
		resp.WebSockets = h.websockets()
	}
	h.JSON(w, http.StatusOK, resp)
}
