package relay

import (
	"time"

	"golang.org/x/time/rate"
)

// Options are the relay's process-wide settings, fixed at startup.
type Options struct {
	IdleTimeout            time.Duration
	DefaultConnectionLimit int // 0 means unlimited
	MaxConnectionLimit     int // 0 means no cap
	HistoryPageSize        int
	SendBuffer             int
	StoreTimeout           time.Duration
	MessageRate            rate.Limit // per connection; 0 disables throttling
	MessageBurst           int
	MaxMessageLength       int

	// Clock is the time source for message stamps and session timestamps.
	Clock func() time.Time
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:      5 * time.Minute,
		HistoryPageSize:  50,
		SendBuffer:       256,
		StoreTimeout:     5 * time.Second,
		MessageRate:      5,
		MessageBurst:     10,
		MaxMessageLength: 4096,
		Clock:            time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.HistoryPageSize <= 0 {
		o.HistoryPageSize = d.HistoryPageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = d.MaxMessageLength
	}
	if o.MessageRate > 0 && o.MessageBurst <= 0 {
		o.MessageBurst = 1
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}

// connectionLimit resolves the effective limit for a site; 0 means unlimited.
func (o Options) connectionLimit(siteLimit int) int {
	limit := siteLimit
	if limit <= 0 {
		limit = o.DefaultConnectionLimit
	}
	if o.MaxConnectionLimit > 0 && (limit <= 0 || limit > o.MaxConnectionLimit) {
		limit = o.MaxConnectionLimit
	}
	return limit
}
