package realtime

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"textonly/internal/domain"
	"textonly/internal/topic"
)

// State of a delivery session. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is the runtime state of one live connection. Producers only ever
// enqueue; a single consumer drains with Pop after a signal on Ready.
type Session struct {
	id string

	mu       sync.Mutex
	state    State
	userID   int64
	topics   map[topic.Topic]struct{}
	queue    *outQueue
	degraded bool
	dropped  int

	// ready holds at most one pending wakeup for the consumer.
	ready chan struct{}
	done  chan struct{}
}

func newSession(queueSize int) *Session {
	return &Session{
		id:     uuid.NewString(),
		state:  StateConnecting,
		topics: make(map[topic.Topic]struct{}),
		queue:  newOutQueue(queueSize),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated user, or 0.
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Authenticate attaches an identity. Re-authenticating as the same user is
// a no-op; switching identity on a live session is refused.
func (s *Session) Authenticate(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: invalid user id", domain.ErrUnauthorized)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateClosed:
		return domain.ErrSessionClosed
	case s.state == StateConnecting:
		s.userID = userID
		s.state = StateAuthenticated
		return nil
	case s.userID == userID:
		return nil
	default:
		return fmt.Errorf("%w: session already bound to another user", domain.ErrUnauthorized)
	}
}

// Topics returns the session's current subscriptions.
func (s *Session) Topics() []topic.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]topic.Topic, 0, len(s.topics))
	for t := range s.topics {
		res = append(res, t)
	}
	return res
}

// subscribe registers t in dir while holding the session lock, so a
// concurrent close either rejects the subscription or sees it when dropping.
func (s *Session) subscribe(t topic.Topic, dir *Directory) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return false, domain.ErrSessionClosed
	case StateConnecting:
		return false, fmt.Errorf("%w: authenticate before subscribing", domain.ErrUnauthorized)
	}
	if t.Kind == topic.KindConversation && !t.Includes(s.userID) {
		return false, fmt.Errorf("%w: not a participant of %s", domain.ErrUnauthorized, t)
	}
	if _, ok := s.topics[t]; !ok {
		dir.Subscribe(s.id, t)
		s.topics[t] = struct{}{}
		added = true
	}
	s.state = StateActive
	return added, nil
}

func (s *Session) unsubscribe(t topic.Topic, dir *Directory) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false, domain.ErrSessionClosed
	}
	if _, ok := s.topics[t]; !ok {
		return false, nil
	}
	dir.Unsubscribe(s.id, t)
	delete(s.topics, t)
	return true, nil
}

// enqueue buffers f for the consumer. It returns false once the session is
// closed. evicted is set when a full queue dropped its oldest frame, and
// degradedNow when that eviction is the one that degraded the session.
func (s *Session) enqueue(f Frame) (ok, evicted, degradedNow bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false, false, false
	}
	if s.queue.push(f) {
		evicted = true
		s.dropped++
		if !s.degraded {
			s.degraded = true
			degradedNow = true
		}
	}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true, evicted, degradedNow
}

// Send enqueues a frame addressed to this session only.
func (s *Session) Send(f Frame) bool {
	ok, _, _ := s.enqueue(f)
	return ok
}

// Pop returns the next buffered frame. It returns false when the queue is
// empty or the session is closed; frames still buffered at close are
// discarded.
func (s *Session) Pop() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return Frame{}, false
	}
	return s.queue.pop()
}

// Pending returns the number of buffered frames.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// Ready is signalled after every enqueue.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Degraded reports whether frames were dropped since the last resync.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// TakeDegraded clears the degraded mark and returns how many frames were
// dropped while it was set.
func (s *Session) TakeDegraded() (dropped int, wasDegraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.degraded {
		return 0, false
	}
	dropped = s.dropped
	s.degraded = false
	s.dropped = 0
	return dropped, true
}

// close moves the session to Closed and discards buffered frames. Only the
// first call returns true.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.queue.reset()
	clear(s.topics)
	close(s.done)
	return true
}
