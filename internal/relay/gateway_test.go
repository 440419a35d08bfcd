package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/protocol"
	"github.com/arinzecomie/livechat-relay/internal/store"
)

func TestShop1Conversation(t *testing.T) {
	h := newHarness(t, Options{Clock: frozenClock}, "shop1:active")

	v := h.join(t, h.visitor("v", "shop1", "visitor-1"), protocol.Inbound{SiteID: "shop1"})
	joined := next(t, v, protocol.TypeJoined)
	require.NotNil(t, joined.Session)
	assert.Equal(t, models.SessionOpen, joined.Session.State)
	sessionID := joined.SessionID

	a := h.join(t, h.admin("a", "shop1", "agent-1"), protocol.Inbound{SiteID: "shop1", SessionID: sessionID})
	ack := next(t, a, protocol.TypeJoined)
	assert.Equal(t, models.SessionActive, ack.Session.State)
	assert.Len(t, ack.Participants, 2)
	assert.Equal(t, models.RoleAdmin, next(t, v, protocol.TypeParticipantJoined).Participant.Role)

	h.send(t, v, "hello")
	m1 := next(t, a, protocol.TypeNewMessage).Message
	assert.Equal(t, "hello", m1.Text)
	assert.Equal(t, models.RoleVisitor, m1.SenderRole)
	assert.Empty(t, m1.SenderID)
	echo := next(t, v, protocol.TypeNewMessage).Message
	assert.Equal(t, m1.ID, echo.ID, "the sender receives its own message in the same order")

	h.send(t, a, "hi")
	m2 := next(t, v, protocol.TypeNewMessage).Message
	assert.Equal(t, "hi", m2.Text)
	assert.Equal(t, "agent-1", m2.SenderID)
	assert.True(t, m2.CreatedAt.After(m1.CreatedAt), "t2 must be after t1")

	require.NoError(t, h.gateway.ForwardInbound(context.Background(), a, protocol.Inbound{Type: protocol.TypeCloseSession}))
	for _, c := range []*Conn{v, a} {
		closed := next(t, c, protocol.TypeSessionClosed)
		assert.Equal(t, models.SessionClosed, closed.Session.State)
		assert.Equal(t, models.ClosedByAdmin, closed.Reason)
	}

	err := h.gateway.ForwardInbound(context.Background(), v, protocol.Inbound{Type: protocol.TypeSendMessage, Text: "still there?"})
	assert.ErrorIs(t, err, ErrSessionClosed)

	page, err := h.store.QueryHistory(context.Background(), store.HistoryQuery{SiteID: "shop1", SessionID: sessionID})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, m1.ID, page[0].ID)
	assert.Equal(t, m2.ID, page[1].ID)
}

func TestAdmitRejections(t *testing.T) {
	h := newHarness(t, Options{}, "open1:active", "frozen:suspended")
	h.visitor("suspended", "frozen", "v1")
	h.visitor("unknown-site", "ghost", "v1")
	h.visitor("other-site", "open1", "v1")

	tests := []struct {
		name  string
		token string
		ev    protocol.Inbound
		want  error
		code  string
	}{
		{"bad token", "nope", protocol.Inbound{Type: protocol.TypeJoin}, ErrUnauthorized, protocol.CodeUnauthorized},
		{"suspended site", "suspended", protocol.Inbound{Type: protocol.TypeJoin}, ErrSiteSuspended, protocol.CodeSiteSuspended},
		{"unknown site", "unknown-site", protocol.Inbound{Type: protocol.TypeJoin}, ErrUnauthorized, protocol.CodeUnauthorized},
		{"site mismatch", "other-site", protocol.Inbound{Type: protocol.TypeJoin, SiteID: "frozen"}, ErrUnauthorized, protocol.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := h.gateway.Admit(context.Background(), auth.Credentials{Token: tt.token}, tt.ev)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsAdmissionError(err))
			assert.Equal(t, tt.code, ErrorCode(err))
		})
	}

	stats := h.state.Stats()
	assert.Zero(t, stats.Sessions)
	assert.Zero(t, stats.Connections)
}

func TestAdmitRequiresJoinFirst(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	_, err := h.gateway.Admit(context.Background(), auth.Credentials{Token: h.visitor("v", "shop1", "v1")},
		protocol.Inbound{Type: protocol.TypeSendMessage, Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.False(t, IsAdmissionError(err))
	assert.Zero(t, h.state.ConnectionCount("shop1"))
}

func TestConnectionLimitIsPerSite(t *testing.T) {
	h := newHarness(t, Options{}, "x:active:2", "y:active:2")

	first := h.join(t, h.visitor("x1", "x", "v1"), protocol.Inbound{})
	h.join(t, h.visitor("x2", "x", "v2"), protocol.Inbound{})

	_, err := h.gateway.Admit(context.Background(), auth.Credentials{Token: h.visitor("x3", "x", "v3")}, protocol.Inbound{Type: protocol.TypeJoin})
	assert.ErrorIs(t, err, ErrConnectionLimitExceeded)
	assert.Equal(t, 2, h.state.ConnectionCount("x"))

	h.join(t, h.visitor("y1", "y", "v1"), protocol.Inbound{})
	assert.Equal(t, 1, h.state.ConnectionCount("y"))

	h.gateway.OnDisconnect(first)
	h.gateway.OnDisconnect(first)
	assert.Equal(t, 1, h.state.ConnectionCount("x"))
	h.join(t, "x3", protocol.Inbound{})
}

func TestConnectionLimitFallsBackToDefaults(t *testing.T) {
	h := newHarness(t, Options{DefaultConnectionLimit: 1, MaxConnectionLimit: 5}, "shop1:trial", "big:active:100")

	h.join(t, h.visitor("v1", "shop1", "v1"), protocol.Inbound{})
	_, err := h.gateway.Admit(context.Background(), auth.Credentials{Token: h.visitor("v2", "shop1", "v2")}, protocol.Inbound{Type: protocol.TypeJoin})
	assert.ErrorIs(t, err, ErrConnectionLimitExceeded)

	for i := 0; i < 5; i++ {
		h.join(t, h.visitor(fmt.Sprintf("big%d", i), "big", fmt.Sprintf("v%d", i)), protocol.Inbound{})
	}
	_, err = h.gateway.Admit(context.Background(), auth.Credentials{Token: h.visitor("big5", "big", "v5")}, protocol.Inbound{Type: protocol.TypeJoin})
	assert.ErrorIs(t, err, ErrConnectionLimitExceeded)
}

func TestConcurrentAdmissionsRespectLimit(t *testing.T) {
	h := newHarness(t, Options{}, "x:active:10")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []*Conn
		rejected int
	)
	tokens := make([]string, 30)
	for i := range tokens {
		tokens[i] = h.visitor(fmt.Sprintf("t%d", i), "x", fmt.Sprintf("v%d", i))
	}
	for _, token := range tokens {
		token := token
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := h.gateway.Admit(context.Background(), auth.Credentials{Token: token}, protocol.Inbound{Type: protocol.TypeJoin})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
				return
			}
			admitted = append(admitted, c)
		}()
	}
	wg.Wait()

	assert.Len(t, admitted, 10)
	assert.Equal(t, 20, rejected)
	assert.Equal(t, 10, h.state.ConnectionCount("x"))
	for _, c := range admitted {
		h.gateway.OnDisconnect(c)
	}
	assert.Zero(t, h.state.ConnectionCount("x"))
}

func TestVisitorOnlyEvents(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	v := h.join(t, h.visitor("v", "shop1", "v1"), protocol.Inbound{})

	err := h.gateway.ForwardInbound(context.Background(), v, protocol.Inbound{Type: protocol.TypeCloseSession})
	assert.ErrorIs(t, err, ErrForbidden)

	err = h.gateway.ForwardInbound(context.Background(), v, protocol.Inbound{Type: protocol.TypeAdminJoinSite})
	assert.ErrorIs(t, err, ErrForbidden)

	err = h.gateway.ForwardInbound(context.Background(), v, protocol.Inbound{Type: "shout"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	s, ok := h.registry.Lookup("shop1", v.SessionID())
	require.True(t, ok)
	assert.False(t, s.Closed())
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t, Options{MaxMessageLength: 10, MessageRate: 1, MessageBurst: 2}, "shop1:active")
	v := h.join(t, h.visitor("v", "shop1", "v1"), protocol.Inbound{})
	ctx := context.Background()

	err := h.gateway.ForwardInbound(ctx, v, protocol.Inbound{Type: protocol.TypeSendMessage, Text: "   "})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	err = h.gateway.ForwardInbound(ctx, v, protocol.Inbound{Type: protocol.TypeSendMessage, Text: strings.Repeat("x", 11)})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	h.send(t, v, "one")
	h.send(t, v, "two")
	err = h.gateway.ForwardInbound(ctx, v, protocol.Inbound{Type: protocol.TypeSendMessage, Text: "three"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, protocol.CodeRateLimited, ErrorCode(err))
}

func TestAdminJoinUnknownSessionReleasesSlot(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")

	_, err := h.gateway.Admit(context.Background(), auth.Credentials{Token: h.admin("a", "shop1", "agent")},
		protocol.Inbound{Type: protocol.TypeJoin, SessionID: "sess_missing"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, h.state.ConnectionCount("shop1"))

	_, err = h.gateway.Admit(context.Background(), auth.Credentials{Token: "a"}, protocol.Inbound{Type: protocol.TypeJoin})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestAdminSwitchesSessions(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	v1 := h.join(t, h.visitor("v1", "shop1", "visitor-1"), protocol.Inbound{})
	v2 := h.join(t, h.visitor("v2", "shop1", "visitor-2"), protocol.Inbound{})
	require.NotEqual(t, v1.SessionID(), v2.SessionID())

	a := h.join(t, h.admin("a", "shop1", "agent"), protocol.Inbound{SessionID: v1.SessionID()})
	require.NoError(t, h.gateway.ForwardInbound(context.Background(), a, protocol.Inbound{Type: protocol.TypeJoin, SessionID: v2.SessionID()}))
	assert.Equal(t, v2.SessionID(), a.SessionID())

	left := next(t, v1, protocol.TypeParticipantLeft)
	assert.Equal(t, a.ID(), left.Participant.ConnectionID)

	s1, _ := h.registry.Lookup("shop1", v1.SessionID())
	assert.Len(t, h.registry.ListParticipants(s1), 1)
	assert.Equal(t, models.SessionActive, s1.Snapshot().State)
}

func TestVisitorRejoinIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	v := h.join(t, h.visitor("v", "shop1", "v1"), protocol.Inbound{})
	first := v.SessionID()
	drain(v)

	require.NoError(t, h.gateway.ForwardInbound(context.Background(), v, protocol.Inbound{Type: protocol.TypeJoin, RequestID: "r2"}))
	ack := next(t, v, protocol.TypeJoined)
	assert.Equal(t, "r2", ack.RequestID)
	assert.Equal(t, first, v.SessionID())
	assert.Len(t, ack.Participants, 1)
}

func TestSecondTabJoinsSameSession(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	tab1 := h.join(t, h.visitor("v", "shop1", "v1"), protocol.Inbound{})
	tab2 := h.join(t, "v", protocol.Inbound{})
	assert.Equal(t, tab1.SessionID(), tab2.SessionID())

	h.gateway.OnDisconnect(tab1)
	s, ok := h.registry.Lookup("shop1", tab2.SessionID())
	require.True(t, ok)
	assert.False(t, s.Closed(), "another visitor tab is still connected")

	h.gateway.OnDisconnect(tab2)
	assert.True(t, s.Closed())
	assert.Equal(t, models.ClosedByVisitorDisconnect, s.Snapshot().ClosedBy)
	_, ok = h.registry.Lookup("shop1", s.ID())
	assert.False(t, ok, "closed and empty sessions are evicted")
}

func TestRejoinAfterCloseOpensNewSession(t *testing.T) {
	h := newHarness(t, Options{}, "shop1:active")
	v := h.join(t, h.visitor("v", "shop1", "v1"), protocol.Inbound{})
	a := h.join(t, h.admin("a", "shop1", "agent"), protocol.Inbound{SessionID: v.SessionID()})
	old := v.SessionID()

	require.NoError(t, h.gateway.ForwardInbound(context.Background(), a, protocol.Inbound{Type: protocol.TypeCloseSession}))
	drain(v)
	require.NoError(t, h.gateway.ForwardInbound(context.Background(), v, protocol.Inbound{Type: protocol.TypeJoin}))
	assert.NotEqual(t, old, v.SessionID())

	ack := next(t, v, protocol.TypeJoined)
	assert.Equal(t, v.SessionID(), ack.SessionID)
	assert.Equal(t, models.SessionOpen, ack.Session.State)

	_, ok := h.registry.Lookup("shop1", old)
	assert.True(t, ok, "the admin is still attached to the closed session")
}
