// Package ratelimit throttles HTTP entry points per client IP. Counters live in
// Redis when it is configured, so limits hold across relay instances; otherwise
// each process keeps its own token buckets.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// Rule allows Requests per Window for one key.
type Rule struct {
	Requests int
	Window   time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Decision, error)
}

// DefaultRules are applied by path prefix ("METHOD /prefix").
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"GET /ws":     {Requests: 60, Window: time.Minute},
		"GET /sites/": {Requests: 120, Window: time.Minute},
	}
}

// RealIP extracts the client IP from proxy headers or the connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}
