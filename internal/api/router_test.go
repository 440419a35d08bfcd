package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinzecomie/livechat-relay/clients/go/livechat"
	"github.com/arinzecomie/livechat-relay/internal/api"
	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/directory"
	"github.com/arinzecomie/livechat-relay/internal/handlers"
	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/relay"
	"github.com/arinzecomie/livechat-relay/internal/store"
	"github.com/arinzecomie/livechat-relay/internal/ws"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func newServer(t *testing.T, messages store.MessageStore, origins ...string) *httptest.Server {
	t.Helper()

	dir, err := directory.ParseStatic([]string{"shop1:active", "shop2:active"}, false)
	require.NoError(t, err)
	authn, err := auth.NewJWTAuthenticator(auth.Config{HMACSecret: secret})
	require.NoError(t, err)

	logger := zerolog.Nop()
	opts := relay.DefaultOptions()
	state := relay.NewState()
	router := relay.NewRouter(messages, opts, logger)
	registry := relay.NewRegistry(state, router, opts, logger)
	gateway := relay.NewGateway(state, registry, router, authn, dir, opts, logger)

	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Logger:         logger,
		Store:          messages,
		State:          state,
		Registry:       registry,
		Authenticator:  authn,
		WebSocket:      ws.NewServer(gateway, ws.Config{}, logger),
		AllowedOrigins: origins,
		PageSize:       10,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, siteID string, role models.Role, identity string) string {
	t.Helper()
	tok, err := auth.Sign(auth.NewClaims(models.Principal{
		SiteID:   siteID,
		Role:     role,
		Identity: identity,
	}, "", time.Now(), time.Hour), secret)
	require.NoError(t, err)
	return tok
}

func get(t *testing.T, url, tok string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	t.Run("memory store is degraded", func(t *testing.T) {
		srv := newServer(t, store.NewMemoryStore())

		var body handlers.HealthResponse
		resp := get(t, srv.URL+"/health", "", &body)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, store.ModeMemory, body.StoreMode)
		assert.Equal(t, "pass", body.Checks["store"].Status)
		assert.Equal(t, "fail", body.Checks["durability"].Status)
	})

	t.Run("durable store is healthy", func(t *testing.T) {
		sqlite, err := store.NewSQLiteStore(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(sqlite.Close)
		srv := newServer(t, sqlite)

		health, err := livechat.NewClient(srv.URL, "").Health(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "durable", health.StoreMode)
		assert.Contains(t, health.Relay, "websockets")
	})
}

func TestSecurityHeaders(t *testing.T) {
	srv := newServer(t, store.NewMemoryStore())
	resp := get(t, srv.URL+"/stats", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestCORSOrigins(t *testing.T) {
	request := func(t *testing.T, srv *httptest.Server, origin string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/stats", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	t.Run("any origin by default", func(t *testing.T) {
		srv := newServer(t, store.NewMemoryStore())
		resp := request(t, srv, "https://anywhere.example")
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("restricted", func(t *testing.T) {
		srv := newServer(t, store.NewMemoryStore(), "https://shop1.example")

		resp := request(t, srv, "https://shop1.example")
		assert.Equal(t, "https://shop1.example", resp.Header.Get("Access-Control-Allow-Origin"))

		resp = request(t, srv, "https://evil.example")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestSiteRoutesRequireSiteAdmin(t *testing.T) {
	srv := newServer(t, store.NewMemoryStore())
	url := srv.URL + "/sites/shop1/sessions"

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"visitor", token(t, "shop1", models.RoleVisitor, "v1"), http.StatusForbidden},
		{"admin of another site", token(t, "shop2", models.RoleAdmin, "bob"), http.StatusForbidden},
		{"site admin", token(t, "shop1", models.RoleAdmin, "alice"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(t, url, tt.token, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHistoryPaging(t *testing.T) {
	messages := store.NewMemoryStore()
	srv := newServer(t, messages)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		_, err := messages.Append(ctx, models.Message{
			SiteID:     "shop1",
			SessionID:  "sess-1",
			SenderRole: models.RoleVisitor,
			Text:       fmt.Sprintf("m%d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Microsecond),
		})
		require.NoError(t, err)
	}

	client := livechat.NewClient(srv.URL, token(t, "shop1", models.RoleAdmin, "alice"))

	page, err := client.History(ctx, "shop1", "sess-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5"}, texts(page.Messages))
	assert.True(t, page.HasMore)

	page, err = client.History(ctx, "shop1", "sess-1", 10, page.Messages[0].Cursor())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, texts(page.Messages))
	assert.False(t, page.HasMore)

	page, err = client.History(ctx, "shop1", "unknown", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)

	resp := get(t, srv.URL+"/sites/shop1/sessions/sess-1/messages?limit=-3", client.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryServesFullMaxPage(t *testing.T) {
	messages := store.NewMemoryStore()
	srv := newServer(t, messages)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= store.MaxPageSize+1; i++ {
		_, err := messages.Append(ctx, models.Message{
			SiteID:     "shop1",
			SessionID:  "sess-1",
			SenderRole: models.RoleVisitor,
			Text:       fmt.Sprintf("m%d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Microsecond),
		})
		require.NoError(t, err)
	}

	client := livechat.NewClient(srv.URL, token(t, "shop1", models.RoleAdmin, "alice"))
	for _, limit := range []int{store.MaxPageSize, 1000} {
		page, err := client.History(ctx, "shop1", "sess-1", limit, 0)
		require.NoError(t, err)
		require.Len(t, page.Messages, store.MaxPageSize, "limit %d", limit)
		assert.True(t, page.HasMore)
		assert.Equal(t, "m2", page.Messages[0].Text)
	}

	page, err := client.History(ctx, "shop1", "sess-1", store.MaxPageSize, base.Add(2*time.Microsecond).UnixMicro())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, texts(page.Messages))
	assert.False(t, page.HasMore)
}

func TestSessionRosterAndParticipants(t *testing.T) {
	srv := newServer(t, store.NewMemoryStore())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	visitor, joined, err := livechat.NewClient(srv.URL, token(t, "shop1", models.RoleVisitor, "v1")).Join(ctx, "shop1", "")
	require.NoError(t, err)
	defer visitor.Close()
	sessionID := joined.Session.ID

	adminToken := token(t, "shop1", models.RoleAdmin, "alice")

	var roster handlers.SessionListResponse
	get(t, srv.URL+"/sites/shop1/sessions", adminToken, &roster)
	require.Len(t, roster.Sessions, 1)
	assert.Equal(t, sessionID, roster.Sessions[0].ID)
	assert.Equal(t, 1, roster.Connections)

	var presence handlers.ParticipantsResponse
	resp := get(t, srv.URL+"/sites/shop1/sessions/"+sessionID+"/participants", adminToken, &presence)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, presence.Participants, 1)
	assert.Equal(t, "v1", presence.Participants[0].Identity)

	resp = get(t, srv.URL+"/sites/shop1/sessions/nope/participants", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var stats handlers.StatsResponse
	get(t, srv.URL+"/stats", "", &stats)
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.WebSockets)
}

func texts(msgs []livechat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
