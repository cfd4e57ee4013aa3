package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"textonly/internal/domain"
	"textonly/internal/realtime"
	"textonly/internal/security"
	"textonly/internal/service"
	"textonly/internal/topic"
)

// Messenger is the message side of the live surface.
type Messenger interface {
	SendDirect(ctx context.Context, in service.DirectInput) (*domain.Message, error)
	SendChannel(ctx context.Context, in service.ChannelInput) (*domain.Message, error)
	MarkRead(ctx context.Context, readerID, messageID int64) (*domain.Message, error)
}

// Presence is the presence side of the live surface.
type Presence interface {
	StatusSetter
	SetOwnStatus(ctx context.Context, actorID, userID int64, status domain.Status) (domain.PresenceRecord, error)
}

// Options tunes connection handling.
type Options struct {
	AllowedOrigins  []string
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration // must be shorter than PongWait
	MaxMessageBytes int64
	RatePerSec      float64 // 0 disables inbound rate limiting
	RateBurst       int
}

func (o *Options) withDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.RatePerSec > 0 && o.RateBurst <= 0 {
		o.RateBurst = 1
	}
}

// Handler serves the /ws endpoint.
type Handler struct {
	disp     *realtime.Dispatcher
	hub      *Hub
	tokens   *security.TokenService
	users    domain.UserRepository
	msgs     Messenger
	presence Presence
	opts     Options
	log      *slog.Logger

	checkOrigin func(r *http.Request) bool
	upgrader    websocket.Upgrader

	// beforeWrite runs ahead of every data frame write; nil in production.
	beforeWrite func()
}

func NewHandler(
	disp *realtime.Dispatcher,
	hub *Hub,
	tokens *security.TokenService,
	users domain.UserRepository,
	msgs Messenger,
	presence Presence,
	opts Options,
	log *slog.Logger,
) *Handler {
	opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		disp:        disp,
		hub:         hub,
		tokens:      tokens,
		users:       users,
		msgs:        msgs,
		presence:    presence,
		opts:        opts,
		log:         log,
		checkOrigin: makeCheckOrigin(opts.AllowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:  h.checkOrigin,
		Subprotocols: []string{"bearer"},
	}
	return h
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts listed origins. Requests without an Origin header
// come from non-browser clients and are let through; they still have to
// authenticate.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// handshakeToken returns a bearer token from the Authorization header or
// the "bearer, <token>" subprotocol pair, or "" when neither is present.
func handshakeToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	if protocolHeader := r.Header.Get("Sec-WebSocket-Protocol"); protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1]
		}
	}
	return ""
}

// resolveUser verifies a token and loads its active user.
func (h *Handler) resolveUser(ctx context.Context, token string) (*domain.User, error) {
	id, err := h.tokens.UserID(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	user, err := h.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user not found", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user inactive", domain.ErrUnauthorized)
	}
	return user, nil
}

// ServeHTTP upgrades the request. A token offered in the handshake
// authenticates the session immediately; otherwise the client must send an
// auth frame before subscribing.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	var user *domain.User
	if token := handshakeToken(r); token != "" {
		u, err := h.resolveUser(r.Context(), token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		user = u
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &connection{
		h:    h,
		conn: conn,
		sess: h.disp.Open(),
	}
	if h.opts.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.RatePerSec), h.opts.RateBurst)
	}

	ctx := r.Context()
	if user != nil {
		if err := c.authenticate(ctx, user.ID); err != nil {
			h.disp.Close(c.sess)
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.readLoop(ctx)

	h.disp.Close(c.sess)
	wg.Wait()
	if c.attached {
		h.hub.Detach(context.Background(), c.sess.UserID())
	}
}

// connection binds one socket to its delivery session.
type connection struct {
	h        *Handler
	conn     *websocket.Conn
	sess     *realtime.Session
	limiter  *rate.Limiter
	attached bool
}

func (c *connection) authenticate(ctx context.Context, userID int64) error {
	if err := c.sess.Authenticate(userID); err != nil {
		return err
	}
	if !c.attached {
		c.attached = true
		c.h.hub.Attach(ctx, userID)
	}
	return nil
}

// inbound is the union of every client frame.
type inbound struct {
	Type          string  `json:"type"`
	Token         string  `json:"token"`
	Topic         string  `json:"topic"`
	ReceiverID    int64   `json:"receiver_id"`
	ChannelID     int64   `json:"channel_id"`
	Content       string  `json:"content"`
	Kind          string  `json:"kind"`
	AttachmentURL *string `json:"attachment_url"`
	MessageID     int64   `json:"message_id"`
	Status        string  `json:"status"`
}

func (c *connection) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(c.h.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.h.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.h.opts.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.h.log.Warn("ws: read", "conn", c.sess.ID(), "err", err)
			}
			return
		}

		if dropped, ok := c.sess.TakeDegraded(); ok {
			c.sess.Send(realtime.Reply(realtime.EventResync, topic.Topic{}, map[string]int{"dropped": dropped}))
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError("rate limit exceeded")
			continue
		}

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			c.sendError("invalid JSON frame")
			continue
		}
		if err := c.handle(ctx, in); err != nil {
			c.replyErr(in.Type, err)
		}
	}
}

func (c *connection) handle(ctx context.Context, in inbound) error {
	if in.Type != "auth" && c.sess.UserID() == 0 {
		return fmt.Errorf("%w: authenticate first", domain.ErrUnauthorized)
	}
	uid := c.sess.UserID()

	switch in.Type {
	case "auth":
		user, err := c.h.resolveUser(ctx, in.Token)
		if err != nil {
			return err
		}
		if err := c.authenticate(ctx, user.ID); err != nil {
			return err
		}
		c.sess.Send(realtime.Reply(realtime.ReplyAuthenticated, topic.Topic{}, map[string]int64{"user_id": user.ID}))

	case "subscribe", "unsubscribe":
		t, err := topic.Parse(in.Topic)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		reply := realtime.ReplySubscribed
		if in.Type == "subscribe" {
			err = c.h.disp.Subscribe(c.sess, t)
		} else {
			reply = realtime.ReplyUnsubscribed
			err = c.h.disp.Unsubscribe(c.sess, t)
		}
		if err != nil {
			return err
		}
		c.sess.Send(realtime.Reply(reply, t, nil))

	case "message":
		_, err := c.h.msgs.SendDirect(ctx, service.DirectInput{
			SenderID:      uid,
			ReceiverID:    in.ReceiverID,
			Content:       in.Content,
			AttachmentURL: in.AttachmentURL,
		})
		return err

	case "channel_message":
		_, err := c.h.msgs.SendChannel(ctx, service.ChannelInput{
			ChannelID:     in.ChannelID,
			SenderID:      uid,
			Content:       in.Content,
			Kind:          domain.MessageKind(in.Kind),
			AttachmentURL: in.AttachmentURL,
		})
		return err

	case "mark_read":
		_, err := c.h.msgs.MarkRead(ctx, uid, in.MessageID)
		return err

	case "status":
		st, ok := domain.ParseStatus(in.Status)
		if !ok {
			return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, in.Status)
		}
		_, err := c.h.presence.SetOwnStatus(ctx, uid, uid, st)
		return err

	default:
		return fmt.Errorf("%w: unknown frame type %q", domain.ErrValidation, in.Type)
	}
	return nil
}

func (c *connection) replyErr(frameType string, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrSessionClosed):
		c.sendError(err.Error())
	default:
		c.h.log.Error("ws: handle frame", "conn", c.sess.ID(), "type", frameType, "err", err)
		c.sendError(domain.ErrInternal.Error())
	}
}

func (c *connection) sendError(msg string) {
	c.sess.Send(realtime.ErrorFrame(msg))
}

// writeLoop is the only writer on the socket. It drains the session queue
// whenever it is signalled and pings on an interval.
func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.h.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		// Break readLoop.
		c.conn.Close()
	}()

	for {
		select {
		case <-c.sess.Ready():
			for {
				f, ok := c.sess.Pop()
				if !ok {
					break
				}
				if c.h.beforeWrite != nil {
					c.h.beforeWrite()
				}
				if err := c.write(websocket.TextMessage, f.Payload); err != nil {
					c.logWriteErr(err)
					return
				}
			}

		case <-c.sess.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logWriteErr(err)
				return
			}
		}
	}
}

func (c *connection) write(mt int, payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.h.opts.WriteWait))
	return c.conn.WriteMessage(mt, payload)
}

func (c *connection) logWriteErr(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
		websocket.CloseNormalClosure) {
		c.h.log.Warn("ws: write", "conn", c.sess.ID(), "err", err)
	}
}
