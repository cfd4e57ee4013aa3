package ws

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"textonly/internal/domain"
	"textonly/internal/keylock"
)

// StatusSetter applies presence transitions.
type StatusSetter interface {
	SetStatus(ctx context.Context, userID int64, status domain.Status) (domain.PresenceRecord, error)
}

// Hub counts live connections per user. A user's first connection marks
// them Online and closing the last one marks them Offline.
type Hub struct {
	presence StatusSetter
	log      *slog.Logger

	// users serializes attach/detach for one user across the status write,
	// so a fast reconnect never ends up Offline.
	users *keylock.Striped

	mu    sync.Mutex
	conns map[int64]int
}

func NewHub(presence StatusSetter, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		presence: presence,
		log:      log,
		users:    keylock.New(0),
		conns:    make(map[int64]int),
	}
}

// Attach registers one more live connection for userID.
func (h *Hub) Attach(ctx context.Context, userID int64) {
	unlock := h.users.Lock(strconv.FormatInt(userID, 10))
	defer unlock()

	h.mu.Lock()
	h.conns[userID]++
	first := h.conns[userID] == 1
	h.mu.Unlock()

	if first {
		h.setStatus(ctx, userID, domain.StatusOnline)
	}
}

// Detach removes one live connection for userID.
func (h *Hub) Detach(ctx context.Context, userID int64) {
	unlock := h.users.Lock(strconv.FormatInt(userID, 10))
	defer unlock()

	h.mu.Lock()
	n, ok := h.conns[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	last := n <= 1
	if last {
		delete(h.conns, userID)
	} else {
		h.conns[userID] = n - 1
	}
	h.mu.Unlock()

	if last {
		h.setStatus(ctx, userID, domain.StatusOffline)
	}
}

// Connections returns the number of live connections of userID.
func (h *Hub) Connections(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[userID]
}

func (h *Hub) setStatus(ctx context.Context, userID int64, status domain.Status) {
	if h.presence == nil {
		return
	}
	if _, err := h.presence.SetStatus(ctx, userID, status); err != nil {
		h.log.Warn("ws: automatic presence update failed", "user", userID, "status", status, "err", err)
	}
}
