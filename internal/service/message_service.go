package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"textonly/internal/domain"
	"textonly/internal/keylock"
	"textonly/internal/metrics"
	"textonly/internal/topic"
)

// Publisher fans persisted messages out to live sessions.
type Publisher interface {
	PublishMessage(m *domain.Message) int
	PublishRead(m *domain.Message) int
}

// MessageService validates, persists and dispatches messages. Appends to
// one conversation or channel are serialized across persist and publish,
// so subscribers observe events in persistence order; different scopes
// proceed in parallel.
type MessageService struct {
	messages domain.MessageRepository
	pub      Publisher
	metrics  *metrics.Metrics
	log      *slog.Logger

	scopes *keylock.Striped
}

func NewMessageService(messages domain.MessageRepository, pub Publisher, m *metrics.Metrics, log *slog.Logger) *MessageService {
	if log == nil {
		log = slog.Default()
	}
	return &MessageService{
		messages: messages,
		pub:      pub,
		metrics:  m,
		log:      log,
		scopes:   keylock.New(0),
	}
}

type DirectInput struct {
	SenderID      int64
	ReceiverID    int64
	Content       string
	AttachmentURL *string
}

type ChannelInput struct {
	ChannelID     int64
	SenderID      int64
	Content       string
	Kind          domain.MessageKind
	AttachmentURL *string
}

func validateContent(content string, allowEmpty bool) error {
	if utf8.RuneCountInString(content) > domain.MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", domain.ErrValidation, domain.MaxContentLength)
	}
	if !allowEmpty && strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content cannot be empty", domain.ErrValidation)
	}
	return nil
}

func hasAttachment(url *string) bool {
	return url != nil && strings.TrimSpace(*url) != ""
}

// SendDirect persists a direct message and broadcasts it to both
// participants' live sessions.
func (s *MessageService) SendDirect(ctx context.Context, in DirectInput) (*domain.Message, error) {
	if err := validateContent(in.Content, false); err != nil {
		return nil, err
	}
	if in.SenderID == in.ReceiverID {
		return nil, fmt.Errorf("%w: sender and receiver must differ", domain.ErrValidation)
	}

	msg := &domain.Message{
		SenderID:      in.SenderID,
		ReceiverID:    in.ReceiverID,
		Content:       in.Content,
		AttachmentURL: in.AttachmentURL,
	}

	unlock := s.scopes.Lock(topic.Conversation(in.SenderID, in.ReceiverID).String())
	defer unlock()

	if err := s.messages.AppendDirect(ctx, msg); err != nil {
		return nil, fmt.Errorf("append direct: %w", err)
	}
	s.metrics.MessagePersisted(string(domain.ScopeDirect))
	n := s.publishMessage(msg)
	s.log.Debug("direct message sent", "id", msg.ID, "sender", msg.SenderID, "receiver", msg.ReceiverID, "sessions", n)
	return msg, nil
}

// SendChannel persists a channel message and broadcasts it to the
// channel's subscribers. Non-TEXT kinds may carry only an attachment.
func (s *MessageService) SendChannel(ctx context.Context, in ChannelInput) (*domain.Message, error) {
	kind := domain.ParseMessageKind(string(in.Kind))
	allowEmpty := kind != domain.KindText && hasAttachment(in.AttachmentURL)
	if err := validateContent(in.Content, allowEmpty); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		SenderID:      in.SenderID,
		ChannelID:     in.ChannelID,
		Content:       in.Content,
		Kind:          kind,
		AttachmentURL: in.AttachmentURL,
	}

	unlock := s.scopes.Lock(topic.Channel(in.ChannelID).String())
	defer unlock()

	if err := s.messages.AppendChannel(ctx, msg); err != nil {
		return nil, fmt.Errorf("append channel: %w", err)
	}
	s.metrics.MessagePersisted(string(domain.ScopeChannel))
	n := s.publishMessage(msg)
	s.log.Debug("channel message sent", "id", msg.ID, "channel", msg.ChannelID, "sender", msg.SenderID, "sessions", n)
	return msg, nil
}

func (s *MessageService) publishMessage(m *domain.Message) int {
	if s.pub == nil {
		return 0
	}
	return s.pub.PublishMessage(m)
}

// MarkRead moves a direct message addressed to readerID to Read. Repeats
// succeed without a second broadcast.
func (s *MessageService) MarkRead(ctx context.Context, readerID, messageID int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if !msg.IsDirect() {
		return nil, fmt.Errorf("%w: channel messages have no read state", domain.ErrValidation)
	}
	if msg.ReceiverID != readerID {
		return nil, fmt.Errorf("%w: only the receiver may mark a message read", domain.ErrUnauthorized)
	}

	unlock := s.scopes.Lock(topic.Conversation(msg.SenderID, msg.ReceiverID).String())
	defer unlock()

	changed, err := s.messages.MarkRead(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	msg.ReadState = domain.Read
	if changed && s.pub != nil {
		s.pub.PublishRead(msg)
	}
	return msg, nil
}

// Conversation lists the messages between two users, newest first.
func (s *MessageService) Conversation(ctx context.Context, userA, userB int64) ([]*domain.Message, error) {
	msgs, err := s.messages.ConversationBetween(ctx, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return msgs, nil
}

// ChannelHistory lists a channel's most recent messages, newest first.
func (s *MessageService) ChannelHistory(ctx context.Context, channelID int64, limit int) ([]*domain.Message, error) {
	msgs, err := s.messages.ChannelHistory(ctx, channelID, domain.ClampHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("channel history: %w", err)
	}
	return msgs, nil
}

// Unread lists the unread direct messages addressed to userID.
func (s *MessageService) Unread(ctx context.Context, userID int64) ([]*domain.Message, error) {
	msgs, err := s.messages.UnreadFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread: %w", err)
	}
	return msgs, nil
}
