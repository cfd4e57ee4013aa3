package ws_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textonly/internal/domain"
	"textonly/internal/presence"
	"textonly/internal/realtime"
	"textonly/internal/security"
	"textonly/internal/service"
	"textonly/internal/store/sqlite"
	"textonly/internal/topic"
	"textonly/internal/ws"
)

type testServer struct {
	srv      *httptest.Server
	tokens   *security.TokenService
	users    *sqlite.UserRepo
	channels *sqlite.ChannelRepo
	presence *presence.Registry
	hub      *ws.Hub
}

func newTestServer(t *testing.T, opts ws.Options) *testServer {
	t.Helper()
	return startTestServer(t, opts, nil)
}

func startTestServer(t *testing.T, opts ws.Options, beforeWrite func(), dispOpts ...realtime.Option) *testServer {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	users := sqlite.NewUserRepo(db)
	disp := realtime.NewDispatcher(realtime.NewDirectory(), dispOpts...)
	reg := presence.NewRegistry(users, disp, nil)
	msgs := service.NewMessageService(sqlite.NewMessageRepo(db), disp, nil, nil)
	tokens := security.NewTokenService("test-secret", time.Hour)
	hub := ws.NewHub(reg, nil)

	h := ws.NewHandler(disp, hub, tokens, users, msgs, reg, opts, nil)
	if beforeWrite != nil {
		ws.SetBeforeWrite(h, beforeWrite)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, tokens: tokens, users: users, channels: sqlite.NewChannelRepo(db), presence: reg, hub: hub}
}

func (ts *testServer) user(t *testing.T, name string) int64 {
	t.Helper()
	u := &domain.User{DisplayName: name, IsActive: true}
	require.NoError(t, ts.users.Create(context.Background(), u))
	return u.ID
}

func (ts *testServer) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if userID != 0 {
		tok, err := ts.tokens.CreateForUser(userID)
		require.NoError(t, err)
		header.Set("Authorization", "Bearer "+tok)
	}
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type serverFrame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func next(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f serverFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestDirectMessageOverSocket(t *testing.T) {
	ts := newTestServer(t, ws.Options{})
	alice, bob := ts.user(t, "alice"), ts.user(t, "bob")

	ca := ts.dial(t, alice)
	cb := ts.dial(t, bob)

	conv := topic.Conversation(alice, bob).String()
	send(t, ca, map[string]any{"type": "subscribe", "topic": conv})
	assert.Equal(t, realtime.ReplySubscribed, next(t, ca).Type)
	send(t, cb, map[string]any{"type": "subscribe", "topic": topic.Conversation(bob, alice).String()})
	assert.Equal(t, realtime.ReplySubscribed, next(t, cb).Type)

	send(t, ca, map[string]any{"type": "message", "receiver_id": bob, "content": "hi"})

	for _, c := range []*websocket.Conn{ca, cb} {
		f := next(t, c)
		require.Equal(t, realtime.EventMessageSent, f.Type)
		assert.Equal(t, conv, f.Topic)
		var m domain.Message
		require.NoError(t, json.Unmarshal(f.Data, &m))
		assert.Equal(t, "hi", m.Content)
		assert.Equal(t, alice, m.SenderID)
	}
}

func TestAuthFrameRequiredBeforeSubscribe(t *testing.T) {
	ts := newTestServer(t, ws.Options{})
	alice := ts.user(t, "alice")
	c := ts.dial(t, 0)

	send(t, c, map[string]any{"type": "subscribe", "topic": "presence"})
	f := next(t, c)
	assert.Equal(t, realtime.ReplyError, f.Type)
	assert.Contains(t, f.Message, "authenticate first")

	send(t, c, map[string]any{"type": "auth", "token": "garbage"})
	assert.Equal(t, realtime.ReplyError, next(t, c).Type)

	tok, err := ts.tokens.CreateForUser(alice)
	require.NoError(t, err)
	send(t, c, map[string]any{"type": "auth", "token": tok})
	assert.Equal(t, realtime.ReplyAuthenticated, next(t, c).Type)

	send(t, c, map[string]any{"type": "subscribe", "topic": "presence"})
	f = next(t, c)
	assert.Equal(t, realtime.ReplySubscribed, f.Type)
	assert.Equal(t, "presence", f.Topic)
}

func TestSubscribeRejections(t *testing.T) {
	ts := newTestServer(t, ws.Options{})
	alice := ts.user(t, "alice")
	c := ts.dial(t, alice)

	send(t, c, map[string]any{"type": "subscribe", "topic": "conversation:998:999"})
	assert.Equal(t, realtime.ReplyError, next(t, c).Type)

	send(t, c, map[string]any{"type": "subscribe", "topic": "nonsense"})
	assert.Equal(t, realtime.ReplyError, next(t, c).Type)

	send(t, c, map[string]any{"type": "dance"})
	assert.Equal(t, realtime.ReplyError, next(t, c).Type)
}

func TestStatusFrameBroadcasts(t *testing.T) {
	ts := newTestServer(t, ws.Options{})
	alice, bob := ts.user(t, "alice"), ts.user(t, "bob")

	watcher := ts.dial(t, bob)
	send(t, watcher, map[string]any{"type": "subscribe", "topic": topic.UserProfile(alice).String()})
	require.Equal(t, realtime.ReplySubscribed, next(t, watcher).Type)

	// Alice's first connection marks her online.
	c := ts.dial(t, alice)
	f := next(t, watcher)
	require.Equal(t, realtime.EventStatusChanged, f.Type)
	var rec domain.PresenceRecord
	require.NoError(t, json.Unmarshal(f.Data, &rec))
	assert.Equal(t, domain.StatusOnline, rec.Status)

	send(t, c, map[string]any{"type": "status", "status": "away"})
	f = next(t, watcher)
	require.Equal(t, realtime.EventStatusChanged, f.Type)
	require.NoError(t, json.Unmarshal(f.Data, &rec))
	assert.Equal(t, domain.StatusAway, rec.Status)

	send(t, c, map[string]any{"type": "status", "status": "sleeping"})
	assert.Equal(t, realtime.ReplyError, next(t, c).Type)
}

func TestPresenceFollowsConnections(t *testing.T) {
	ts := newTestServer(t, ws.Options{})
	alice := ts.user(t, "alice")

	c1 := ts.dial(t, alice)
	c2 := ts.dial(t, alice)
	require.Eventually(t, func() bool { return ts.hub.Connections(alice) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.StatusOnline, ts.presence.Get(alice).Status)

	c1.Close()
	require.Eventually(t, func() bool { return ts.hub.Connections(alice) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.StatusOnline, ts.presence.Get(alice).Status)

	c2.Close()
	require.Eventually(t, func() bool {
		return ts.presence.Get(alice).Status == domain.StatusOffline
	}, 2*time.Second, 10*time.Millisecond)

	u, err := ts.users.GetByID(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, u.Status)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	ts := newTestServer(t, ws.Options{})
	header := http.Header{"Authorization": []string{"Bearer nope"}}
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, ws.Options{AllowedOrigins: []string{"https://app.example"}})
	alice := ts.user(t, "alice")
	tok, err := ts.tokens.CreateForUser(alice)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")

	header := http.Header{"Authorization": []string{"Bearer " + tok}, "Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://app.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestInboundRateLimit(t *testing.T) {
	ts := newTestServer(t, ws.Options{RatePerSec: 0.001, RateBurst: 1})
	alice := ts.user(t, "alice")
	c := ts.dial(t, alice)

	send(t, c, map[string]any{"type": "subscribe", "topic": "presence"})
	assert.Equal(t, realtime.ReplySubscribed, next(t, c).Type)

	send(t, c, map[string]any{"type": "subscribe", "topic": "presence"})
	f := next(t, c)
	assert.Equal(t, realtime.ReplyError, f.Type)
	assert.Equal(t, "rate limit exceeded", f.Message)
}

func TestReadReceiptAndUnsubscribe(t *testing.T) {
	ts := newTestServer(t, ws.Options{})
	alice, bob := ts.user(t, "alice"), ts.user(t, "bob")
	ca, cb := ts.dial(t, alice), ts.dial(t, bob)

	conv := topic.Conversation(alice, bob).String()
	for _, c := range []*websocket.Conn{ca, cb} {
		send(t, c, map[string]any{"type": "subscribe", "topic": conv})
		require.Equal(t, realtime.ReplySubscribed, next(t, c).Type)
	}

	send(t, ca, map[string]any{"type": "message", "receiver_id": bob, "content": "ping"})
	next(t, ca)
	f := next(t, cb)
	var m domain.Message
	require.NoError(t, json.Unmarshal(f.Data, &m))

	send(t, ca, map[string]any{"type": "unsubscribe", "topic": conv})
	require.Equal(t, realtime.ReplyUnsubscribed, next(t, ca).Type)

	send(t, cb, map[string]any{"type": "mark_read", "message_id": m.ID})
	f = next(t, cb)
	require.Equal(t, realtime.EventMessageRead, f.Type)
	assert.JSONEq(t, fmt.Sprintf(`{"message_id":%d,"reader_id":%d}`, m.ID, bob), string(f.Data))

	// Alice left the topic; her next frame is the reply to her own request.
	send(t, ca, map[string]any{"type": "mark_read", "message_id": m.ID})
	f = next(t, ca)
	assert.Equal(t, realtime.ReplyError, f.Type)
}

func TestChannelMessageOverSocket(t *testing.T) {
	ts := newTestServer(t, ws.Options{})
	alice, bob := ts.user(t, "alice"), ts.user(t, "bob")
	ch := &domain.Channel{Name: "general"}
	require.NoError(t, ts.channels.Create(context.Background(), ch))

	cb := ts.dial(t, bob)
	send(t, cb, map[string]any{"type": "subscribe", "topic": topic.Channel(ch.ID).String()})
	require.Equal(t, realtime.ReplySubscribed, next(t, cb).Type)

	ca := ts.dial(t, alice)
	send(t, ca, map[string]any{"type": "channel_message", "channel_id": ch.ID, "content": "yo", "kind": "??"})

	f := next(t, cb)
	require.Equal(t, realtime.EventChannelMessageSent, f.Type)
	var m domain.Message
	require.NoError(t, json.Unmarshal(f.Data, &m))
	assert.Equal(t, domain.KindText, m.Kind)
	assert.Equal(t, ch.ID, m.ChannelID)

	send(t, ca, map[string]any{"type": "channel_message", "channel_id": 999, "content": "yo"})
	assert.Equal(t, realtime.ReplyError, next(t, ca).Type)
}

func TestSlowReaderGetsResyncAfterOverflow(t *testing.T) {
	var hold sync.Mutex
	ts := startTestServer(t, ws.Options{}, func() {
		hold.Lock()
		hold.Unlock()
	}, realtime.WithQueueSize(2))
	alice, bob := ts.user(t, "alice"), ts.user(t, "bob")

	c := ts.dial(t, alice)
	send(t, c, map[string]any{"type": "subscribe", "topic": "presence"})
	require.Equal(t, realtime.ReplySubscribed, next(t, c).Type)

	// Stall the writer while more frames arrive than the queue holds.
	hold.Lock()
	ctx := context.Background()
	for _, st := range []domain.Status{domain.StatusAway, domain.StatusOnline, domain.StatusAway, domain.StatusOnline, domain.StatusBusy} {
		_, err := ts.presence.SetStatus(ctx, bob, st)
		require.NoError(t, err)
	}
	hold.Unlock()

	// The newest frame survives eviction.
	var rec domain.PresenceRecord
	for rec.Status != domain.StatusBusy {
		f := next(t, c)
		require.Equal(t, realtime.EventStatusChanged, f.Type)
		require.NoError(t, json.Unmarshal(f.Data, &rec))
		require.Equal(t, bob, rec.UserID)
	}

	send(t, c, map[string]any{"type": "subscribe", "topic": topic.UserProfile(bob).String()})
	f := next(t, c)
	require.Equal(t, realtime.EventResync, f.Type)
	var lost struct {
		Dropped int `json:"dropped"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &lost))
	assert.GreaterOrEqual(t, lost.Dropped, 2)
	assert.Equal(t, realtime.ReplySubscribed, next(t, c).Type)

	// The notice is sent once per overflow.
	send(t, c, map[string]any{"type": "unsubscribe", "topic": topic.UserProfile(bob).String()})
	assert.Equal(t, realtime.ReplyUnsubscribed, next(t, c).Type)
}
