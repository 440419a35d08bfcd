package relay

import (
	"sync"
	"sync/atomic"
)

// State is the process-wide relay state, constructed once and shared by the
// Gateway, Registry and Router. The top-level lock only guards the site map;
// each site has its own locks, and each session its own.
type State struct {
	mu    sync.RWMutex
	sites map[string]*siteState
}

// NewState creates empty relay state.
func NewState() *State {
	return &State{sites: make(map[string]*siteState)}
}

// siteState holds one tenant's sessions, roster watchers and connection counter.
// siteState.mu is only held together with the lock of a session being created,
// which no other goroutine can reach yet; a live session's lock may be held across
// a store append. countMu is never held with another lock.
type siteState struct {
	id string

	countMu     sync.Mutex
	connections int

	mu        sync.Mutex
	sessions  map[string]*Session // by session ID, including closed-but-occupied ones
	byVisitor map[string]*Session // latest session per visitor identity

	// watchers is replaced wholesale on change so routers can read it without locking.
	watchers atomic.Pointer[map[string]*Conn]
}

func newSiteState(id string) *siteState {
	s := &siteState{
		id:        id,
		sessions:  make(map[string]*Session),
		byVisitor: make(map[string]*Session),
	}
	empty := make(map[string]*Conn)
	s.watchers.Store(&empty)
	return s
}

// site returns the state for id, creating it on first use.
func (st *State) site(id string) *siteState {
	st.mu.RLock()
	s, ok := st.sites[id]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sites[id]; ok {
		return s
	}
	s = newSiteState(id)
	st.sites[id] = s
	return s
}

// sessionsLocked copies the registered sessions. s.mu must be held.
func (s *siteState) sessionsLocked() []*Session {
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// reserve takes one connection slot if the site is under limit (0 = unlimited).
func (s *siteState) reserve(limit int) bool {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	if limit > 0 && s.connections >= limit {
		return false
	}
	s.connections++
	return true
}

func (s *siteState) release() {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	if s.connections > 0 {
		s.connections--
	}
}

func (s *siteState) connectionCount() int {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	return s.connections
}

func (s *siteState) loadWatchers() map[string]*Conn {
	return *s.watchers.Load()
}

// addWatcher and removeWatcher must be called with s.mu held.
func (s *siteState) addWatcher(c *Conn) {
	cur := s.loadWatchers()
	next := make(map[string]*Conn, len(cur)+1)
	for id, w := range cur {
		next[id] = w
	}
	next[c.id] = c
	s.watchers.Store(&next)
}

func (s *siteState) removeWatcher(c *Conn) bool {
	cur := s.loadWatchers()
	if _, ok := cur[c.id]; !ok {
		return false
	}
	next := make(map[string]*Conn, len(cur))
	for id, w := range cur {
		if id != c.id {
			next[id] = w
		}
	}
	s.watchers.Store(&next)
	return true
}

// Stats is a point-in-time summary of the relay.
type Stats struct {
	Sites       int `json:"sites"`
	Sessions    int `json:"sessions"`
	Connections int `json:"connections"`
}

// Stats counts sites, registered sessions and admitted connections.
func (st *State) Stats() Stats {
	st.mu.RLock()
	sites := make([]*siteState, 0, len(st.sites))
	for _, s := range st.sites {
		sites = append(sites, s)
	}
	st.mu.RUnlock()

	stats := Stats{Sites: len(sites)}
	for _, s := range sites {
		s.mu.Lock()
		stats.Sessions += len(s.sessions)
		s.mu.Unlock()
		stats.Connections += s.connectionCount()
	}
	return stats
}

// ConnectionCount returns the number of admitted connections for a site.
func (st *State) ConnectionCount(siteID string) int {
	st.mu.RLock()
	s, ok := st.sites[siteID]
	st.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.connectionCount()
}
