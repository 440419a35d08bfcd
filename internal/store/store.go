package store

import (
	"context"
	"errors"
	"time"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

// Mode reports whether a store survives a process restart.
type Mode string

const (
	ModeDurable Mode = "durable"
	ModeMemory  Mode = "memory"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200

	// maxQueryRows leaves room for the lookahead row callers use to detect has_more.
	maxQueryRows = MaxPageSize + 1
)

var (
	ErrInvalidMessage = errors.New("message is missing site, session or timestamp")
	ErrUnavailable    = errors.New("message store unavailable")
)

// HistoryQuery selects one page of a session's history. Before is an exclusive
// upper bound in Unix microseconds; zero means "latest".
type HistoryQuery struct {
	SiteID    string
	SessionID string
	Limit     int
	Before    int64
}

func (q HistoryQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > maxQueryRows:
		return maxQueryRows
	}
	return q.Limit
}

// MessageStore defines the append/query interface over a message backend.
// PostgresStore, SQLiteStore, RedisStore and MemoryStore implement this interface.
type MessageStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error
	Mode() Mode

	// CreateIndexesIfAbsent is idempotent and called once at process start.
	CreateIndexesIfAbsent(ctx context.Context) error

	// Append persists msg, assigning an ID when it has none.
	Append(ctx context.Context, msg models.Message) (models.Message, error)

	// QueryHistory returns up to q.Limit messages created strictly before q.Before,
	// ordered oldest-first.
	QueryHistory(ctx context.Context, q HistoryQuery) ([]models.Message, error)
}

// SiteStore is implemented by the SQL backends, which also hold the site directory table.
type SiteStore interface {
	GetSite(ctx context.Context, siteID string) (*models.Site, error)
	UpsertSite(ctx context.Context, site models.Site) error
}

func validate(msg models.Message) error {
	if msg.SiteID == "" || msg.SessionID == "" || msg.CreatedAt.IsZero() {
		return ErrInvalidMessage
	}
	return nil
}

// reverse flips a newest-first page into oldest-first order.
func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func timeFromMicro(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
