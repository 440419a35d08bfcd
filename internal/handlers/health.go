package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/arinzecomie/livechat-relay/internal/store"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Region    string           `json:"region,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	StoreMode store.Mode       `json:"store_mode"`
	Checks    map[string]Check `json:"checks"`
	Relay     map[string]int   `json:"relay"`
	Timestamp string           `json:"timestamp"`
}

// Health handles the health check endpoint. A store that fell back to memory is
// reported as degraded: the relay works but history will not survive a restart.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	storeStart := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = Check{Status: "fail", Message: "connection failed"}
		allHealthy = false
	} else {
		checks["store"] = Check{Status: "pass", Latency: time.Since(storeStart).String()}
	}

	mode := h.store.Mode()
	if mode == store.ModeDurable {
		checks["durability"] = Check{Status: "pass"}
	} else {
		checks["durability"] = Check{Status: "fail", Message: "history is kept in memory only"}
		allHealthy = false
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	stats := h.state.Stats()
	relay := map[string]int{
		"sites":       stats.Sites,
		"sessions":    stats.Sessions,
		"connections": stats.Connections,
	}
	if h.websockets != nil {
		relay["websockets"] = h.websockets()
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Region:    os.Getenv("FLY_REGION"),
		Instance:  os.Getenv("FLY_ALLOC_ID"),
		StoreMode: mode,
		Checks:    checks,
		Relay:     relay,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
