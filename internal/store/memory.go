package store

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

// MemoryStore is an in-process append-only log per session. It is not durable:
// everything is lost when the process exits.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]models.Message)}
}

func memoryKey(siteID, sessionID string) string {
	return siteID + "\x00" + sessionID
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Mode reports ModeMemory.
func (s *MemoryStore) Mode() Mode { return ModeMemory }

// CreateIndexesIfAbsent is a no-op; logs are kept sorted.
func (s *MemoryStore) CreateIndexesIfAbsent(ctx context.Context) error { return nil }

// Append adds msg to its session log.
func (s *MemoryStore) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := validate(msg); err != nil {
		return models.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(msg.SiteID, msg.SessionID)
	log := s.logs[key]
	// Stamps normally arrive in order; keep the log sorted if they don't.
	i := sort.Search(len(log), func(i int) bool { return log[i].CreatedAt.After(msg.CreatedAt) })
	log = append(log, models.Message{})
	copy(log[i+1:], log[i:])
	log[i] = msg
	s.logs[key] = log

	return msg, nil
}

// QueryHistory returns a page of messages, oldest-first.
func (s *MemoryStore) QueryHistory(ctx context.Context, q HistoryQuery) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[memoryKey(q.SiteID, q.SessionID)]
	end := len(log)
	if q.Before > 0 {
		end = sort.Search(len(log), func(i int) bool { return log[i].Cursor() >= q.Before })
	}
	start := end - q.limit()
	if start < 0 {
		start = 0
	}

	page := make([]models.Message, end-start)
	copy(page, log[start:end])
	return page, nil
}
