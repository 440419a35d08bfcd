package relay

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

// member is one Presence Table entry.
type member struct {
	conn *Conn
	info models.Participant
}

// Session is the live registry entry for one visitor's conversation. Its mutex
// serialises every presence mutation, message stamp and broadcast for the session.
type Session struct {
	id        string
	visitorID string
	createdAt time.Time
	site      *siteState

	closed atomic.Bool // mirrors state == Closed for lock-free checks

	mu       sync.Mutex
	state    models.SessionState
	closedAt time.Time
	closedBy models.CloseReason
	// members is the Presence Table row for this session. It is replaced, never
	// edited in place, so a failed mutation leaves the previous map intact.
	members   map[string]member
	lastStamp time.Time
	idle      *time.Timer
	idleGen   uint64
	evicted   bool
}

func newSession(id string, site *siteState, visitorID string, now time.Time) *Session {
	return &Session{
		id:        id,
		visitorID: visitorID,
		createdAt: now,
		site:      site,
		state:     models.SessionOpen,
		members:   make(map[string]member),
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// SiteID returns the owning site.
func (s *Session) SiteID() string { return s.site.id }

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool { return s.closed.Load() }

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.Session {
	snap := models.Session{
		ID:           s.id,
		SiteID:       s.site.id,
		VisitorID:    s.visitorID,
		State:        s.state,
		CreatedAt:    s.createdAt,
		ClosedBy:     s.closedBy,
		Participants: len(s.members),
	}
	if !s.closedAt.IsZero() {
		closedAt := s.closedAt
		snap.ClosedAt = &closedAt
	}
	return snap
}

// participantsLocked returns the Presence Table row ordered by join time.
func (s *Session) participantsLocked() []models.Participant {
	out := make([]models.Participant, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (s *Session) isMemberLocked(c *Conn) bool {
	_, ok := s.members[c.id]
	return ok
}

// withMemberLocked commits a copy of the members map with m set.
func (s *Session) withMemberLocked(m member) {
	next := make(map[string]member, len(s.members)+1)
	for id, cur := range s.members {
		next[id] = cur
	}
	next[m.conn.id] = m
	s.members = next
}

// withoutMemberLocked commits a copy of the members map without c.
func (s *Session) withoutMemberLocked(c *Conn) (member, bool) {
	gone, ok := s.members[c.id]
	if !ok {
		return member{}, false
	}
	next := make(map[string]member, len(s.members))
	for id, cur := range s.members {
		if id != c.id {
			next[id] = cur
		}
	}
	s.members = next
	return gone, true
}

func (s *Session) hasRoleLocked(role models.Role) bool {
	for _, m := range s.members {
		if m.info.Role == role {
			return true
		}
	}
	return false
}

// nextStampLocked returns a timestamp strictly after the last one handed out,
// truncated to the microsecond resolution the stores keep.
func (s *Session) nextStampLocked(now time.Time) time.Time {
	stamp := now.UTC().Truncate(time.Microsecond)
	if !stamp.After(s.lastStamp) {
		stamp = s.lastStamp.Add(time.Microsecond)
	}
	return stamp
}

func (s *Session) stopIdleLocked() {
	s.idleGen++
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
}
