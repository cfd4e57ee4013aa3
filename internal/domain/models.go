package domain

import (
	"strings"
	"time"
)

// MaxContentLength bounds message content, counted in runes.
const MaxContentLength = 5000

// Channel history page bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Scope tells whether a message belongs to a user pair or to a channel.
type Scope string

const (
	ScopeDirect  Scope = "direct"
	ScopeChannel Scope = "channel"
)

// ReadState of a direct message. Channel messages carry no read state.
type ReadState string

const (
	Unread ReadState = "unread"
	Read   ReadState = "read"
)

// MessageKind classifies channel messages.
type MessageKind string

const (
	KindText     MessageKind = "TEXT"
	KindImage    MessageKind = "IMAGE"
	KindFile     MessageKind = "FILE"
	KindEmoticon MessageKind = "EMOTICON"
	KindInvite   MessageKind = "INVITE"
	KindGift     MessageKind = "GIFT"
)

// ParseMessageKind maps s onto a known kind. Unknown or empty input is
// coerced to KindText rather than rejected.
func ParseMessageKind(s string) MessageKind {
	switch k := MessageKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindText, KindImage, KindFile, KindEmoticon, KindInvite, KindGift:
		return k
	default:
		return KindText
	}
}

// ChannelType is TEXT or VOICE.
type ChannelType string

const (
	ChannelText  ChannelType = "TEXT"
	ChannelVoice ChannelType = "VOICE"
)

// ParseChannelType coerces unknown input to ChannelText.
func ParseChannelType(s string) ChannelType {
	switch t := ChannelType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ChannelText, ChannelVoice:
		return t
	default:
		return ChannelText
	}
}

// Status is a user's availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// ParseStatus accepts the four known statuses, case-insensitively.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return st, true
	default:
		return "", false
	}
}

// User represents an application user. Credentials live with the identity
// service and are not modelled here.
type User struct {
	ID          int64     `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       *string   `db:"email" json:"email,omitempty"`
	Status      Status    `db:"status" json:"status"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Channel is a shared multi-member room inside a server.
type Channel struct {
	ID        int64       `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Type      ChannelType `db:"type" json:"type"`
	ServerID  *int64      `db:"server_id" json:"server_id,omitempty"`
	Position  int         `db:"position" json:"position"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// Message is a single persisted chat message, direct or channel-scoped.
// ID and CreatedAt are assigned by the store.
type Message struct {
	ID            int64       `db:"id" json:"id"`
	Scope         Scope       `db:"scope" json:"scope"`
	SenderID      int64       `db:"sender_id" json:"sender_id"`
	ReceiverID    int64       `db:"receiver_id" json:"receiver_id,omitempty"`
	ChannelID     int64       `db:"channel_id" json:"channel_id,omitempty"`
	Content       string      `db:"content" json:"content"`
	Kind          MessageKind `db:"kind" json:"kind,omitempty"`
	AttachmentURL *string     `db:"attachment_url" json:"attachment_url,omitempty"`
	ReadState     ReadState   `db:"is_read" json:"read_state,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

// IsDirect reports whether m is scoped to a user pair.
func (m *Message) IsDirect() bool {
	return m.Scope == ScopeDirect
}

// PresenceRecord is the current availability of one user.
type PresenceRecord struct {
	UserID    int64     `json:"user_id"`
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

// ClampHistoryLimit keeps a page size within (0, MaxHistoryLimit],
// falling back to DefaultHistoryLimit on anything outside it.
func ClampHistoryLimit(limit int) int {
	if limit <= 0 || limit > MaxHistoryLimit {
		return DefaultHistoryLimit
	}
	return limit
}
