package realtime

import (
	"log/slog"
	"sync"
	"time"

	"textonly/internal/domain"
	"textonly/internal/keylock"
	"textonly/internal/metrics"
	"textonly/internal/topic"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize bounds each session's outbound queue.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher owns the live sessions and turns persisted events into
// per-session deliveries.
type Dispatcher struct {
	dir       *Directory
	queueSize int
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// order serializes snapshot+enqueue per topic so every common
	// subscriber observes the same event order.
	order *keylock.Striped

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewDispatcher(dir *Directory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		dir:       dir,
		queueSize: defaultQueueSize,
		log:       slog.Default(),
		now:       time.Now,
		order:     keylock.New(0),
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open creates a session in the Connecting state and registers it for
// delivery.
func (d *Dispatcher) Open() *Session {
	s := newSession(d.queueSize)
	d.mu.Lock()
	d.sessions[s.id] = s
	d.mu.Unlock()
	d.metrics.SessionOpened()
	return s
}

// Close moves s to Closed and drops its subscriptions. Repeat calls are
// no-ops; the directory is cleaned exactly once.
func (d *Dispatcher) Close(s *Session) {
	if !s.close() {
		return
	}
	n := d.dir.DropConnection(s.id)
	d.mu.Lock()
	delete(d.sessions, s.id)
	d.mu.Unlock()

	d.metrics.SubscriptionsDelta(-n)
	d.metrics.SessionClosed()
	d.log.Debug("session closed", "conn", s.id, "user", s.UserID(), "subscriptions", n)
}

// CloseAll closes every live session and returns how many it closed.
func (d *Dispatcher) CloseAll() int {
	d.mu.RLock()
	live := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		live = append(live, s)
	}
	d.mu.RUnlock()

	for _, s := range live {
		d.Close(s)
	}
	return len(live)
}

// Session looks up a live session by connection id.
func (d *Dispatcher) Session(connID string) *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[connID]
}

// Len returns the number of live sessions.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

func (d *Dispatcher) Subscribe(s *Session, t topic.Topic) error {
	added, err := s.subscribe(t, d.dir)
	if err != nil {
		return err
	}
	if added {
		d.metrics.SubscriptionsDelta(1)
	}
	return nil
}

func (d *Dispatcher) Unsubscribe(s *Session, t topic.Topic) error {
	removed, err := s.unsubscribe(t, d.dir)
	if err != nil {
		return err
	}
	if removed {
		d.metrics.SubscriptionsDelta(-1)
	}
	return nil
}

// MessageTopics derives the topics a persisted message is broadcast on.
func MessageTopics(m *domain.Message) []topic.Topic {
	if m.IsDirect() {
		return []topic.Topic{topic.Conversation(m.SenderID, m.ReceiverID)}
	}
	return []topic.Topic{topic.Channel(m.ChannelID)}
}

// PresenceTopics derives the topics a presence change is broadcast on:
// the user's own profile feed and the aggregate feed.
func PresenceTopics(userID int64) []topic.Topic {
	return []topic.Topic{topic.UserProfile(userID), topic.GlobalPresence()}
}

// PublishMessage fans a persisted message out and returns the number of
// sessions it was enqueued on. Both participants of a direct message,
// including the sender's other devices, receive it.
func (d *Dispatcher) PublishMessage(m *domain.Message) int {
	typ := EventChannelMessageSent
	if m.IsDirect() {
		typ = EventMessageSent
	}
	return d.publish(typ, MessageTopics(m), m.SenderID, m)
}

type readReceipt struct {
	MessageID int64 `json:"message_id"`
	ReaderID  int64 `json:"reader_id"`
}

// PublishRead announces that m was read by its receiver.
func (d *Dispatcher) PublishRead(m *domain.Message) int {
	return d.publish(EventMessageRead, MessageTopics(m), m.ReceiverID,
		readReceipt{MessageID: m.ID, ReaderID: m.ReceiverID})
}

// PublishPresence announces an applied presence transition.
func (d *Dispatcher) PublishPresence(rec domain.PresenceRecord) int {
	return d.publish(EventStatusChanged, PresenceTopics(rec.UserID), rec.UserID, rec)
}

func (d *Dispatcher) publish(typ string, topics []topic.Topic, senderID int64, data any) int {
	at := d.now()
	total := 0
	for _, t := range topics {
		f, err := newFrame(typ, t, senderID, data, at)
		if err != nil {
			d.log.Error("dispatch: build frame", "type", typ, "topic", t.String(), "err", err)
			continue
		}
		total += d.deliver(t, f)
	}
	return total
}

func (d *Dispatcher) deliver(t topic.Topic, f Frame) int {
	unlock := d.order.Lock(t.String())
	defer unlock()

	n := 0
	for _, connID := range d.dir.SubscribersOf(t) {
		s := d.Session(connID)
		if s == nil {
			d.metrics.Undeliverable()
			continue
		}
		ok, evicted, degradedNow := s.enqueue(f)
		if !ok {
			// Closed between snapshot and enqueue.
			d.metrics.Undeliverable()
			d.log.Debug("dispatch: skip closed session", "conn", connID, "topic", t.String(), "err", domain.ErrTransientDelivery)
			continue
		}
		if evicted {
			d.metrics.Dropped()
		}
		if degradedNow {
			d.metrics.Degraded()
			d.log.Warn("dispatch: session degraded, dropping oldest frames", "conn", connID, "user", s.UserID())
		}
		d.metrics.Delivered(t.Kind.String())
		n++
	}
	return n
}
