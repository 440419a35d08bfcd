package relay

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/arinzecomie/livechat-relay/internal/crypto"
	"github.com/arinzecomie/livechat-relay/internal/metrics"
	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/protocol"
)

// Registry owns session lifecycle (Open -> Active -> Closed) and the Presence Table.
type Registry struct {
	state  *State
	router *Router
	opts   Options
	logger zerolog.Logger
}

// NewRegistry creates a registry over state, broadcasting through router.
func NewRegistry(state *State, router *Router, opts Options, logger zerolog.Logger) *Registry {
	return &Registry{
		state:  state,
		router: router,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// JoinOrCreate returns the visitor's current non-closed session on the site,
// creating one if there is none. created reports whether a new session was made.
func (r *Registry) JoinOrCreate(siteID, visitorID string) (s *Session, created bool) {
	site := r.state.site(siteID)

	site.mu.Lock()
	defer site.mu.Unlock()

	if cur := site.byVisitor[visitorID]; cur != nil && !cur.Closed() {
		return cur, false
	}

	s = newSession(crypto.NewID("sess"), site, visitorID, r.opts.Clock())
	site.sessions[s.id] = s
	site.byVisitor[visitorID] = s
	metrics.SessionsActive.Inc()

	s.mu.Lock()
	r.armIdleLocked(s)
	r.router.broadcastLocked(s, protocol.SessionOpened(s.snapshotLocked()), "")
	s.mu.Unlock()

	r.logger.Info().
		Str("site_id", siteID).
		Str("session_id", s.id).
		Str("visitor_id", visitorID).
		Msg("session created")
	return s, true
}

// Lookup finds a registered session by ID.
func (r *Registry) Lookup(siteID, sessionID string) (*Session, bool) {
	site := r.state.site(siteID)
	site.mu.Lock()
	defer site.mu.Unlock()
	s, ok := site.sessions[sessionID]
	return s, ok
}

// AddParticipant binds c to s. The new participant receives a joined ack and the
// latest history page; the others and the roster watchers get participant_joined.
func (r *Registry) AddParticipant(ctx context.Context, s *Session, c *Conn, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == models.SessionClosed {
		return ErrSessionClosed
	}
	if cur, ok := s.members[c.id]; ok {
		ack := protocol.Joined(s.snapshotLocked(), cur.info, s.participantsLocked())
		ack.RequestID = requestID
		c.send(ack)
		return nil
	}

	m := member{conn: c, info: c.participant(r.opts.Clock())}
	s.withMemberLocked(m)
	s.stopIdleLocked()
	if m.info.Role == models.RoleAdmin && s.state == models.SessionOpen {
		s.state = models.SessionActive
	}
	c.setSession(s)

	snap := s.snapshotLocked()
	ack := protocol.Joined(snap, m.info, s.participantsLocked())
	ack.RequestID = requestID
	c.send(ack)
	if err := r.router.sendHistoryLocked(ctx, s, c, "", 0, 0); err != nil {
		c.send(protocol.Error("", ErrorCode(err), err.Error()))
	}
	r.router.broadcastLocked(s, protocol.ParticipantJoined(snap, m.info), c.id)

	r.logger.Debug().
		Str("site_id", s.site.id).
		Str("session_id", s.id).
		Str("conn_id", c.id).
		Str("role", string(m.info.Role)).
		Str("state", snap.State.String()).
		Msg("participant joined")
	return nil
}

// RemoveParticipant unbinds c from s and evaluates the lifecycle: the visitor's
// last connection leaving with no admin present closes the session, and a
// session left with nobody starts its idle timer.
func (r *Registry) RemoveParticipant(s *Session, c *Conn) {
	s.mu.Lock()
	gone, ok := s.withoutMemberLocked(c)
	if !ok {
		s.mu.Unlock()
		return
	}
	c.clearSession(s)

	snap := s.snapshotLocked()
	r.router.broadcastLocked(s, protocol.ParticipantLeft(snap, gone.info), "")

	if s.state != models.SessionClosed {
		switch {
		case gone.info.Role == models.RoleVisitor && !s.hasRoleLocked(models.RoleVisitor) && !s.hasRoleLocked(models.RoleAdmin):
			r.closeLocked(s, models.ClosedByVisitorDisconnect)
		case len(s.members) == 0:
			r.armIdleLocked(s)
		}
	}
	evict := r.evictableLocked(s)
	s.mu.Unlock()

	if evict {
		r.evict(s)
	}
}

// ListParticipants returns a snapshot of the session's Presence Table row.
func (r *Registry) ListParticipants(s *Session) []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked()
}

// AdminJoinSite registers c as a roster watcher for its site and sends it the
// current roster. Events racing the registration may arrive before the roster.
func (r *Registry) AdminJoinSite(c *Conn, requestID string) {
	site := c.site

	site.mu.Lock()
	site.addWatcher(c)
	sessions := site.sessionsLocked()
	site.mu.Unlock()

	c.mu.Lock()
	c.watching = true
	c.mu.Unlock()

	ev := protocol.Roster(site.id, rosterOf(sessions))
	ev.RequestID = requestID
	c.send(ev)
}

// LeaveSite removes c from its site's roster watchers.
func (r *Registry) LeaveSite(c *Conn) {
	c.site.mu.Lock()
	c.site.removeWatcher(c)
	c.site.mu.Unlock()
}

// Roster returns the open and active sessions of a site.
func (r *Registry) Roster(siteID string) []models.Session {
	site := r.state.site(siteID)
	site.mu.Lock()
	sessions := site.sessionsLocked()
	site.mu.Unlock()

	return rosterOf(sessions)
}

// rosterOf snapshots the non-closed sessions, oldest first. It takes each
// session's lock in turn, so site.mu must not be held.
func rosterOf(sessions []*Session) []models.Session {
	roster := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		if snap := s.Snapshot(); snap.State != models.SessionClosed {
			roster = append(roster, snap)
		}
	}
	sortSessions(roster)
	return roster
}

// Close moves s to Closed. It returns false, without broadcasting, when the
// session was already closed.
func (r *Registry) Close(s *Session, reason models.CloseReason) bool {
	s.mu.Lock()
	closed := r.closeLocked(s, reason)
	evict := r.evictableLocked(s)
	s.mu.Unlock()

	if evict {
		r.evict(s)
	}
	return closed
}

func (r *Registry) closeLocked(s *Session, reason models.CloseReason) bool {
	if s.state == models.SessionClosed {
		return false
	}
	s.state = models.SessionClosed
	s.closedAt = r.opts.Clock()
	s.closedBy = reason
	s.closed.Store(true)
	s.stopIdleLocked()

	r.router.broadcastLocked(s, protocol.SessionClosed(s.snapshotLocked()), "")
	metrics.SessionsClosed.WithLabelValues(string(reason)).Inc()

	r.logger.Info().
		Str("site_id", s.site.id).
		Str("session_id", s.id).
		Str("reason", string(reason)).
		Msg("session closed")
	return true
}

// evictableLocked reports whether s is closed and empty and not yet evicted,
// marking it evicted so only one caller removes it.
func (r *Registry) evictableLocked(s *Session) bool {
	if s.state != models.SessionClosed || len(s.members) > 0 || s.evicted {
		return false
	}
	s.evicted = true
	return true
}

// evict drops s from the registry. Its history stays in the store.
func (r *Registry) evict(s *Session) {
	site := s.site
	site.mu.Lock()
	defer site.mu.Unlock()

	if site.sessions[s.id] == s {
		delete(site.sessions, s.id)
		metrics.SessionsActive.Dec()
	}
	if site.byVisitor[s.visitorID] == s {
		delete(site.byVisitor, s.visitorID)
	}
}

// armIdleLocked starts the idle timer for an empty session. A stale timer
// from an earlier arm is ignored through the generation counter.
func (r *Registry) armIdleLocked(s *Session) {
	s.stopIdleLocked()
	gen := s.idleGen
	s.idle = time.AfterFunc(r.opts.IdleTimeout, func() {
		r.expire(s, gen)
	})
}

func (r *Registry) expire(s *Session, gen uint64) {
	s.mu.Lock()
	if s.idleGen != gen || len(s.members) > 0 {
		s.mu.Unlock()
		return
	}
	r.closeLocked(s, models.ClosedByTimeout)
	evict := r.evictableLocked(s)
	s.mu.Unlock()

	if evict {
		r.evict(s)
	}
}

func sortSessions(sessions []models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
