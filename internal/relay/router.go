package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arinzecomie/livechat-relay/internal/metrics"
	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/protocol"
	"github.com/arinzecomie/livechat-relay/internal/store"
)

// Router fans events out to a session's participants and the site's roster
// watchers, and serialises message persistence with delivery.
type Router struct {
	store  store.MessageStore
	opts   Options
	logger zerolog.Logger
}

// NewRouter creates a router persisting through s.
func NewRouter(s store.MessageStore, opts Options, logger zerolog.Logger) *Router {
	return &Router{
		store:  s,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "router").Logger(),
	}
}

// RouteMessage stamps, persists and then broadcasts one message. Nothing is
// broadcast when the append fails; the caller gets ErrPersistenceFailed.
func (r *Router) RouteMessage(ctx context.Context, s *Session, sender *Conn, text string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == models.SessionClosed {
		return models.Message{}, ErrSessionClosed
	}
	m, ok := s.members[sender.id]
	if !ok {
		return models.Message{}, ErrNotJoined
	}

	msg := models.Message{
		SiteID:     s.site.id,
		SessionID:  s.id,
		SenderRole: m.info.Role,
		SenderName: m.info.DisplayName,
		Text:       text,
		CreatedAt:  s.nextStampLocked(r.opts.Clock()),
	}
	if m.info.Role == models.RoleAdmin {
		msg.SenderID = m.info.Identity
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
	defer cancel()

	stored, err := r.store.Append(ctx, msg)
	if err != nil {
		metrics.PersistenceFailures.Inc()
		r.logger.Error().
			Err(err).
			Str("site_id", s.site.id).
			Str("session_id", s.id).
			Str("conn_id", sender.id).
			Msg("message append failed")
		return models.Message{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	s.lastStamp = stored.CreatedAt

	r.broadcastLocked(s, protocol.NewMessage(stored), "")
	metrics.MessagesRouted.WithLabelValues(string(m.info.Role)).Inc()
	return stored, nil
}

// RouteTyping records a typing change and tells the other participants of the session.
func (r *Router) RouteTyping(s *Session, c *Conn, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == models.SessionClosed {
		return ErrSessionClosed
	}
	m, ok := s.members[c.id]
	if !ok {
		return ErrNotJoined
	}
	if m.info.Typing == typing {
		return nil
	}

	m.info.Typing = typing
	m.info.TypingAt = r.opts.Clock()
	s.withMemberLocked(m)

	ev := protocol.Typing(s.site.id, s.id, c.id, typing)
	for id, other := range s.members {
		if id != c.id {
			other.conn.send(ev)
		}
	}
	return nil
}

// broadcastLocked delivers ev to every participant of s and every roster watcher
// of its site, once per connection, skipping the connection except. s.mu must be held
// so that events reach all readers in the order they were applied.
func (r *Router) broadcastLocked(s *Session, ev protocol.Event, except string) {
	for id, m := range s.members {
		if id != except {
			m.conn.send(ev)
		}
	}
	for id, w := range s.site.loadWatchers() {
		if id == except {
			continue
		}
		if _, member := s.members[id]; member {
			continue
		}
		w.send(ev)
	}
}

// sendHistoryLocked queries one page of history for c. It runs under s.mu so the
// page and the live stream that follows it neither overlap nor leave a gap.
func (r *Router) sendHistoryLocked(ctx context.Context, s *Session, c *Conn, requestID string, before int64, limit int) error {
	if limit <= 0 {
		limit = r.opts.HistoryPageSize
	}
	if limit > store.MaxPageSize {
		limit = store.MaxPageSize
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
	defer cancel()

	page, err := r.store.QueryHistory(ctx, store.HistoryQuery{
		SiteID:    s.site.id,
		SessionID: s.id,
		Limit:     limit + 1,
		Before:    before,
	})
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("site_id", s.site.id).
			Str("session_id", s.id).
			Msg("history query failed")
		return fmt.Errorf("%w: %v", ErrHistoryFailed, err)
	}

	hasMore := len(page) > limit
	if hasMore {
		page = page[1:] // oldest-first: drop the extra oldest entry
	}
	ev := protocol.History(s.site.id, s.id, page, hasMore)
	ev.RequestID = requestID
	c.send(ev)
	return nil
}

// SendHistory answers a history request from a participant of s.
func (r *Router) SendHistory(ctx context.Context, s *Session, c *Conn, requestID string, before int64, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isMemberLocked(c) {
		return ErrNotJoined
	}
	return r.sendHistoryLocked(ctx, s, c, requestID, before, limit)
}
