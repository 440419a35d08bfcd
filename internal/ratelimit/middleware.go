package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the middleware configuration.
type Config struct {
	Rules     map[string]Rule
	Whitelist []string   // IPs or CIDRs exempt from rate limiting
	Blocker   *IPBlocker // optional; requires Redis
}

// Middleware applies per-IP rules to matching requests.
type Middleware struct {
	limiter      Limiter
	rules        map[string]Rule
	blocker      *IPBlocker
	logger       zerolog.Logger
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
}

// NewMiddleware creates the rate limiting middleware.
func NewMiddleware(limiter Limiter, cfg Config, logger zerolog.Logger) *Middleware {
	m := &Middleware{
		limiter:      limiter,
		rules:        cfg.Rules,
		blocker:      cfg.Blocker,
		logger:       logger.With().Str("component", "ratelimit").Logger(),
		whitelistIPs: make(map[string]bool),
	}
	if m.rules == nil {
		m.rules = DefaultRules()
	}

	for _, entry := range cfg.Whitelist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				m.logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			m.whitelist = append(m.whitelist, ipNet)
		} else {
			m.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		m.logger.Info().
			Int("ips", len(m.whitelistIPs)).
			Int("cidrs", len(m.whitelist)).
			Msg("rate limit whitelist configured")
	}
	return m
}

func (m *Middleware) isWhitelisted(ipStr string) bool {
	if m.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range m.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// findRule returns the longest matching rule for the request.
func (m *Middleware) findRule(r *http.Request) (string, Rule, bool) {
	key := r.Method + " " + r.URL.Path
	var (
		best  string
		found Rule
	)
	for pattern, rule := range m.rules {
		if strings.HasPrefix(key, pattern) && len(pattern) > len(best) {
			best, found = pattern, rule
		}
	}
	return best, found, best != ""
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if m.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if m.blocker != nil && m.blocker.IsBlocked(r.Context(), ip) {
			m.logger.Warn().
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			writeError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		pattern, rule, ok := m.findRule(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := ipKey(r) + ":" + pattern
		d, err := m.limiter.Allow(r.Context(), key, rule)
		if err != nil {
			// Fail open.
			m.logger.Error().Err(err).Str("key", key).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(d.ResetAt).Seconds())))
			if m.blocker != nil {
				if count, blocked := m.blocker.RecordViolation(r.Context(), ip); blocked {
					m.logger.Warn().
						Str("event", "ip_auto_blocked").
						Str("ip", ip).
						Int64("violations", count).
						Msg("IP auto-blocked for repeated violations")
				}
			}
			m.logger.Warn().
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Str("key", key).
				Msg("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
