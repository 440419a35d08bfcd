package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/protocol"
)

func TestJoinOrCreateIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")

	s1, created := h.registry.JoinOrCreate("shop1", "visitor-1")
	assert.True(t, created)
	s2, created := h.registry.JoinOrCreate("shop1", "visitor-1")
	assert.False(t, created)
	assert.Same(t, s1, s2)

	other, created := h.registry.JoinOrCreate("shop1", "visitor-2")
	assert.True(t, created)
	assert.NotEqual(t, s1.ID(), other.ID())

	elsewhere, _ := h.registry.JoinOrCreate("shop2", "visitor-1")
	assert.NotEqual(t, s1.ID(), elsewhere.ID())
	assert.Equal(t, "shop2", elsewhere.SiteID())
}

func TestConcurrentJoinOrCreateYieldsOneSession(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _ := h.registry.JoinOrCreate("shop1", "visitor-1")
			ids[i] = s.ID()
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, h.registry.Roster("shop1"), 1)
}

func TestConcurrentCloseBroadcastsOnce(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	v := h.join(t, h.visitor("v", "shop1", "v1"), protocol.Inbound{})
	a1 := h.join(t, h.admin("a1", "shop1", "agent-1"), protocol.Inbound{SessionID: v.SessionID()})
	a2 := h.join(t, h.admin("a2", "shop1", "agent-2"), protocol.Inbound{SessionID: v.SessionID()})

	var wg sync.WaitGroup
	for _, a := range []*Conn{a1, a2} {
		wg.Add(1)
		go func(a *Conn) {
			defer wg.Done()
			assert.NoError(t, h.gateway.ForwardInbound(context.Background(), a, protocol.Inbound{Type: protocol.TypeCloseSession}))
		}(a)
	}
	wg.Wait()

	for _, c := range []*Conn{v, a1, a2} {
		assert.Len(t, ofType(drain(c), protocol.TypeSessionClosed), 1, c.ID())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	s, _ := h.registry.JoinOrCreate("shop1", "v1")

	assert.True(t, h.registry.Close(s, models.ClosedByAdmin))
	assert.False(t, h.registry.Close(s, models.ClosedByTimeout))
	assert.Equal(t, models.ClosedByAdmin, s.Snapshot().ClosedBy)
	assert.NotNil(t, s.Snapshot().ClosedAt)
}

func TestStateOnlyMovesForward(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	v := h.join(t, h.visitor("v", "shop1", "v1"), protocol.Inbound{})
	s := v.currentSession()
	assert.Equal(t, models.SessionOpen, s.Snapshot().State)

	a := h.join(t, h.admin("a", "shop1", "agent"), protocol.Inbound{SessionID: s.ID()})
	assert.Equal(t, models.SessionActive, s.Snapshot().State)

	h.gateway.OnDisconnect(a)
	assert.Equal(t, models.SessionActive, s.Snapshot().State, "active is sticky")

	h.gateway.OnDisconnect(v)
	assert.Equal(t, models.SessionClosed, s.Snapshot().State)

	err := h.registry.AddParticipant(context.Background(), s, v, "")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestVisitorLeavingWithAdminPresentKeepsSession(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: 40 * time.Millisecond}, "shop1:active")
	v := h.join(t, h.visitor("v", "shop1", "v1"), protocol.Inbound{})
	a := h.join(t, h.admin("a", "shop1", "agent"), protocol.Inbound{SessionID: v.SessionID()})
	s := v.currentSession()

	h.gateway.OnDisconnect(v)
	left := next(t, a, protocol.TypeParticipantLeft)
	assert.Equal(t, models.RoleVisitor, left.Participant.Role)
	assert.False(t, s.Closed())

	h.gateway.OnDisconnect(a)
	require.Eventually(t, s.Closed, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ClosedByTimeout, s.Snapshot().ClosedBy)
}

func TestIdleSessionTimesOut(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: 30 * time.Millisecond}, "shop1:active")

	idle, _ := h.registry.JoinOrCreate("shop1", "v1")
	require.Eventually(t, idle.Closed, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ClosedByTimeout, idle.Snapshot().ClosedBy)
	require.Eventually(t, func() bool {
		_, ok := h.registry.Lookup("shop1", idle.ID())
		return !ok
	}, time.Second, 5*time.Millisecond)

	v := h.join(t, h.visitor("v2", "shop1", "v2"), protocol.Inbound{})
	time.Sleep(100 * time.Millisecond)
	assert.False(t, v.currentSession().Closed(), "sessions with participants never time out")
}

func TestRosterWatcher(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	existing := h.join(t, h.visitor("v1", "shop1", "v1"), protocol.Inbound{})

	w := h.join(t, h.admin("w", "shop1", "agent"), protocol.Inbound{Type: protocol.TypeAdminJoinSite, RequestID: "r1"})
	roster := next(t, w, protocol.TypeRoster)
	assert.Equal(t, "r1", roster.RequestID)
	require.Len(t, roster.Sessions, 1)
	assert.Equal(t, existing.SessionID(), roster.Sessions[0].ID)
	assert.Empty(t, w.SessionID())

	v := h.join(t, h.visitor("v2", "shop1", "v2"), protocol.Inbound{})
	opened := next(t, w, protocol.TypeSessionOpened)
	assert.Equal(t, v.SessionID(), opened.SessionID)

	h.send(t, v, "anyone?")
	assert.Equal(t, "anyone?", next(t, w, protocol.TypeNewMessage).Message.Text)

	h.gateway.OnDisconnect(v)
	closed := next(t, w, protocol.TypeSessionClosed)
	assert.Equal(t, models.ClosedByVisitorDisconnect, closed.Reason)
	assert.Len(t, h.registry.Roster("shop1"), 1)
}

func TestWatcherInSessionGetsNoDuplicates(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	v := h.join(t, h.visitor("v", "shop1", "v1"), protocol.Inbound{})
	a := h.join(t, h.admin("a", "shop1", "agent"), protocol.Inbound{Type: protocol.TypeAdminJoinSite})
	require.NoError(t, h.gateway.ForwardInbound(context.Background(), a, protocol.Inbound{Type: protocol.TypeJoin, SessionID: v.SessionID()}))
	drain(a)

	h.send(t, v, "once")
	assert.Equal(t, []string{"once"}, messageTexts(drain(a)))

	h.gateway.OnDisconnect(a)
	h.send(t, v, "after")
	assert.Empty(t, messageTexts(drain(a)))
}

func TestStalledAppendDoesNotBlockOtherSessions(t *testing.T) {
	h := newHarness(t, Options{StoreTimeout: 5 * time.Second}, "shop1:active")
	ctx := context.Background()

	v1 := h.join(t, h.visitor("v1", "shop1", "v1"), protocol.Inbound{})
	adminToken := h.admin("w", "shop1", "agent")
	v2Token := h.visitor("v2", "shop1", "v2")

	entered, release := h.store.stall()
	defer release()

	sent := make(chan error, 1)
	go func() {
		sent <- h.gateway.ForwardInbound(ctx, v1, protocol.Inbound{Type: protocol.TypeSendMessage, Text: "stuck"})
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("append never started")
	}

	// The roster request waits on v1's session, which is held by the append.
	watcher := make(chan *Conn, 1)
	go func() {
		c, err := h.gateway.Admit(ctx, auth.Credentials{Token: adminToken}, protocol.Inbound{Type: protocol.TypeAdminJoinSite, SiteID: "shop1"})
		if err != nil {
			watcher <- nil
			return
		}
		watcher <- c
	}()
	rosters := make(chan int, 1)
	go func() { rosters <- len(h.registry.Roster("shop1")) }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	v2 := h.join(t, v2Token, protocol.Inbound{})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.NotEqual(t, v1.SessionID(), v2.SessionID())

	_, ok := h.registry.Lookup("shop1", v2.SessionID())
	assert.True(t, ok)

	release()
	require.NoError(t, <-sent)

	w := <-watcher
	require.NotNil(t, w)
	t.Cleanup(func() { h.gateway.OnDisconnect(w) })
	roster := next(t, w, protocol.TypeRoster)
	assert.NotEmpty(t, roster.Sessions)
	assert.GreaterOrEqual(t, <-rosters, 1)
}
