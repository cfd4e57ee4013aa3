package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textonly/internal/config"
	"textonly/internal/domain"
	"textonly/internal/httpserver"
	"textonly/internal/presence"
	"textonly/internal/realtime"
	"textonly/internal/security"
	"textonly/internal/service"
	"textonly/internal/store/sqlite"
)

type api struct {
	t      *testing.T
	srv    *httptest.Server
	tokens *security.TokenService
	users  *sqlite.UserRepo
}

func newAPI(t *testing.T) *api {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"

	users := sqlite.NewUserRepo(db)
	disp := realtime.NewDispatcher(realtime.NewDirectory())
	tokens := security.NewTokenService(cfg.Auth.JWTSecret, time.Hour)

	router := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Tokens:   tokens,
		Users:    users,
		Messages: service.NewMessageService(sqlite.NewMessageRepo(db), disp, nil, nil),
		Channels: service.NewChannelService(sqlite.NewChannelRepo(db)),
		Presence: presence.NewRegistry(users, disp, nil),
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, tokens: tokens, users: users}
}

func (a *api) user(name string, active bool) int64 {
	a.t.Helper()
	u := &domain.User{DisplayName: name, IsActive: active}
	require.NoError(a.t, a.users.Create(context.Background(), u))
	return u.ID
}

// do sends body as JSON with a token for userID (none when 0) and decodes
// the response into out when non-nil.
func (a *api) do(method, path string, userID int64, body, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		tok, err := a.tokens.CreateForUser(userID)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", 0, nil, &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/metrics", 0, nil, nil))
}

func TestAuthRequired(t *testing.T) {
	a := newAPI(t)
	inactive := a.user("ghost", false)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/messages/unread", 0, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/messages/unread", 999, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/messages/unread", inactive, nil, nil))
}

func TestDirectMessageFlow(t *testing.T) {
	a := newAPI(t)
	alice, bob := a.user("alice", true), a.user("bob", true)

	var sent domain.Message
	status := a.do(http.MethodPost, "/api/messages", alice, map[string]any{"receiver_id": bob, "content": "hi"}, &sent)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, domain.Unread, sent.ReadState)

	var conv []domain.Message
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, fmt.Sprintf("/api/messages/conversation/%d", alice), bob, nil, &conv))
	require.Len(t, conv, 1)
	assert.Equal(t, sent.ID, conv[0].ID)

	var unread []domain.Message
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/messages/unread", bob, nil, &unread))
	require.Len(t, unread, 1)

	readPath := fmt.Sprintf("/api/messages/%d/read", sent.ID)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPatch, readPath, alice, nil, nil))
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodPatch, readPath, bob, nil, nil))
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodPatch, readPath, bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPatch, "/api/messages/4242/read", bob, nil, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPatch, "/api/messages/abc/read", bob, nil, nil))

	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/messages/unread", bob, nil, &unread))
	assert.Empty(t, unread)
}

func TestDirectMessageErrors(t *testing.T) {
	a := newAPI(t)
	alice := a.user("alice", true)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/messages", alice, map[string]any{"receiver_id": 77, "content": ""}, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/api/messages", alice, map[string]any{"receiver_id": 77, "content": "x"}, nil))
}

func TestChannelFlow(t *testing.T) {
	a := newAPI(t)
	alice := a.user("alice", true)

	var ch domain.Channel
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/channels", alice, map[string]any{"name": "general", "type": "bogus"}, &ch))
	assert.Equal(t, domain.ChannelText, ch.Type)

	path := fmt.Sprintf("/api/channels/%d/messages", ch.ID)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, a.do(http.MethodPost, path, alice, map[string]any{"content": fmt.Sprintf("m%d", i), "kind": "weird"}, nil))
	}

	var hist []domain.Message
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, path+"?limit=2", alice, nil, &hist))
	require.Len(t, hist, 2)
	assert.Equal(t, "m2", hist[0].Content)
	assert.Equal(t, domain.KindText, hist[0].Kind)

	require.Equal(t, http.StatusOK, a.do(http.MethodGet, path+"?limit=abc", alice, nil, &hist))
	assert.Len(t, hist, 3)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/api/channels/999/messages", alice, map[string]any{"content": "x"}, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/channels/999", alice, nil, nil))
}

func TestStatusRoutes(t *testing.T) {
	a := newAPI(t)
	alice, bob := a.user("alice", true), a.user("bob", true)

	var rec domain.PresenceRecord
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, fmt.Sprintf("/api/users/%d/status", alice), bob, nil, &rec))
	assert.Equal(t, domain.StatusOffline, rec.Status)

	require.Equal(t, http.StatusOK, a.do(http.MethodPut, "/api/users/me/status", alice, map[string]string{"status": "Busy"}, &rec))
	assert.Equal(t, domain.StatusBusy, rec.Status)

	require.Equal(t, http.StatusOK, a.do(http.MethodGet, fmt.Sprintf("/api/users/%d/status", alice), bob, nil, &rec))
	assert.Equal(t, domain.StatusBusy, rec.Status)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, "/api/users/me/status", alice, map[string]string{"status": "napping"}, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/users/999/status", bob, nil, nil))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", domain.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("wrap: %w", domain.ErrUnauthorized), http.StatusForbidden},
		{domain.ErrConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpserver.StatusFor(tt.err), tt.err.Error())
	}
}
