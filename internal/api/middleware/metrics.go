package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/arinzecomie/livechat-relay/internal/metrics"
)

// Metrics returns middleware that records Prometheus metrics. The wrapped writer
// keeps http.Hijacker so WebSocket upgrades pass through.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := routePattern(r)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(status(ww, r)),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(time.Since(start).Seconds())
	})
}

// routePattern labels requests by their chi route to keep cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// isUpgrade reports whether r asked to switch to the WebSocket protocol.
func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// status is the response code; hijacked upgrades never call WriteHeader.
func status(ww chimw.WrapResponseWriter, r *http.Request) int {
	if code := ww.Status(); code != 0 {
		return code
	}
	if isUpgrade(r) {
		return http.StatusSwitchingProtocols
	}
	return http.StatusOK
}
