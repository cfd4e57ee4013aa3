package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	SetStatus(ctx context.Context, id int64, status Status, at time.Time) error
	// ResetStatuses sets every user not already in status to status and
	// returns how many rows changed.
	ResetStatuses(ctx context.Context, status Status, at time.Time) (int64, error)
}

// ChannelRepository defines persistence operations for channels.
type ChannelRepository interface {
	Create(ctx context.Context, c *Channel) error
	GetByID(ctx context.Context, id int64) (*Channel, error)
}

// MessageRepository is the durable message log. Append methods verify that
// every referenced user and channel exists in the same transaction as the
// insert, and assign ID, CreatedAt and the initial read state.
type MessageRepository interface {
	AppendDirect(ctx context.Context, m *Message) error
	AppendChannel(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	// MarkRead moves a direct message to Read. It reports whether the state
	// actually changed; a repeat call is a no-op.
	MarkRead(ctx context.Context, id int64) (bool, error)
	ConversationBetween(ctx context.Context, userA, userB int64) ([]*Message, error)
	ChannelHistory(ctx context.Context, channelID int64, limit int) ([]*Message, error)
	UnreadFor(ctx context.Context, userID int64) ([]*Message, error)
}
