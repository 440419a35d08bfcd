package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger returns an access log middleware. Health and metrics scrapes are logged at debug level.
// A WebSocket request is logged once, when the connection ends, with its lifetime
// as the duration.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	quiet := map[string]bool{"/health": true, "/metrics": true}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			ev := logger.Info()
			if quiet[r.URL.Path] {
				ev = logger.Debug()
			}
			msg := "request completed"
			if isUpgrade(r) {
				msg = "websocket closed"
			}
			ev.Str("method", r.Method).
				Str("route", routePattern(r)).
				Str("path", r.URL.Path).
				Int("status", status(ww, r)).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("remote_ip", r.RemoteAddr).
				Msg(msg)
		})
	}
}
