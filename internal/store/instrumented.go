package store

import (
	"context"
	"time"

	"github.com/arinzecomie/livechat-relay/internal/metrics"
	"github.com/arinzecomie/livechat-relay/internal/models"
)

// instrumented records store latency for every call.
type instrumented struct {
	MessageStore
}

// Instrument wraps s so Append and QueryHistory report latency metrics.
func Instrument(s MessageStore) MessageStore {
	return instrumented{s}
}

func (s instrumented) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	start := time.Now()
	defer func() { metrics.StoreLatency.WithLabelValues("append").Observe(time.Since(start).Seconds()) }()
	return s.MessageStore.Append(ctx, msg)
}

func (s instrumented) QueryHistory(ctx context.Context, q HistoryQuery) ([]models.Message, error) {
	start := time.Now()
	defer func() { metrics.StoreLatency.WithLabelValues("query").Observe(time.Since(start).Seconds()) }()
	return s.MessageStore.QueryHistory(ctx, q)
}

// Unwrap returns the wrapped store.
func (s instrumented) Unwrap() MessageStore {
	return s.MessageStore
}
