// Package presence tracks the current availability of every user.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"textonly/internal/domain"
	"textonly/internal/keylock"
	"textonly/internal/metrics"
)

// Store is the durable side of presence: existence checks and the user's
// persisted status column.
type Store interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	SetStatus(ctx context.Context, id int64, status domain.Status, at time.Time) error
	ResetStatuses(ctx context.Context, status domain.Status, at time.Time) (int64, error)
}

// Publisher receives every applied transition.
type Publisher interface {
	PublishPresence(rec domain.PresenceRecord) int
}

// Registry holds one record per user. Transitions for one user are
// serialized by a per-key lock held across persist and publish, so
// subscribers see them in the order they were applied. Unrelated users
// never wait on each other beyond stripe collisions.
type Registry struct {
	store   Store
	pub     Publisher
	metrics *metrics.Metrics
	now     func() time.Time

	locks   *keylock.Striped
	records sync.Map // int64 -> domain.PresenceRecord
}

func NewRegistry(store Store, pub Publisher, m *metrics.Metrics) *Registry {
	return &Registry{
		store:   store,
		pub:     pub,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   keylock.New(0),
	}
}

// Get returns the current record, Offline when none was ever set.
func (r *Registry) Get(userID int64) domain.PresenceRecord {
	if v, ok := r.records.Load(userID); ok {
		return v.(domain.PresenceRecord)
	}
	return domain.PresenceRecord{UserID: userID, Status: domain.StatusOffline}
}

// Current is Get backed by the store: before any transition in this
// process, the user's persisted status is reported.
func (r *Registry) Current(ctx context.Context, userID int64) (domain.PresenceRecord, error) {
	if v, ok := r.records.Load(userID); ok {
		return v.(domain.PresenceRecord), nil
	}
	u, err := r.store.GetByID(ctx, userID)
	if err != nil {
		return domain.PresenceRecord{}, fmt.Errorf("presence of %d: %w", userID, err)
	}
	rec := domain.PresenceRecord{UserID: userID, Status: domain.StatusOffline}
	if st, ok := domain.ParseStatus(string(u.Status)); ok {
		rec.Status = st
	}
	return rec, nil
}

// SetStatus overwrites the user's status unconditionally and broadcasts the
// change. The in-memory record only changes after the status is persisted.
func (r *Registry) SetStatus(ctx context.Context, userID int64, status domain.Status) (domain.PresenceRecord, error) {
	st, ok := domain.ParseStatus(string(status))
	if !ok {
		return domain.PresenceRecord{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	status = st
	if _, err := r.store.GetByID(ctx, userID); err != nil {
		return domain.PresenceRecord{}, fmt.Errorf("set status for %d: %w", userID, err)
	}

	unlock := r.locks.Lock(strconv.FormatInt(userID, 10))
	defer unlock()

	rec := domain.PresenceRecord{UserID: userID, Status: status, ChangedAt: r.now()}
	if err := r.store.SetStatus(ctx, userID, status, rec.ChangedAt); err != nil {
		return domain.PresenceRecord{}, fmt.Errorf("persist status for %d: %w", userID, err)
	}
	r.records.Store(userID, rec)
	r.metrics.PresenceChanged(string(status))
	if r.pub != nil {
		r.pub.PublishPresence(rec)
	}
	return rec, nil
}

// Reset marks every persisted user Offline and forgets in-memory records.
// Call it before accepting connections and after the last one is closed.
func (r *Registry) Reset(ctx context.Context) (int64, error) {
	n, err := r.store.ResetStatuses(ctx, domain.StatusOffline, r.now())
	if err != nil {
		return 0, fmt.Errorf("reset presence: %w", err)
	}
	r.records.Clear()
	return n, nil
}

// SetOwnStatus is SetStatus on behalf of actor, who may only change their
// own presence.
func (r *Registry) SetOwnStatus(ctx context.Context, actorID, userID int64, status domain.Status) (domain.PresenceRecord, error) {
	if actorID != userID {
		return domain.PresenceRecord{}, fmt.Errorf("%w: cannot set presence of user %d", domain.ErrUnauthorized, userID)
	}
	return r.SetStatus(ctx, userID, status)
}
