package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"textonly/internal/topic"
)

// Event and reply types carried in the envelope "type" field.
const (
	EventMessageSent        = "message.sent"
	EventChannelMessageSent = "channel.message.sent"
	EventMessageRead        = "message.read"
	EventStatusChanged      = "user.status.changed"
	EventResync             = "session.resync"

	ReplyAuthenticated = "authenticated"
	ReplySubscribed    = "subscribed"
	ReplyUnsubscribed  = "unsubscribed"
	ReplyError         = "error"
)

// envelope is the JSON shape of every server-to-client frame.
type envelope struct {
	Type      string `json:"type"`
	Topic     string `json:"topic,omitempty"`
	SenderID  int64  `json:"sender_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Frame is one outbound unit, already serialized. Frames are shared across
// sessions and must not be mutated after creation.
type Frame struct {
	Type    string
	Topic   topic.Topic
	Payload []byte
}

func newFrame(typ string, t topic.Topic, senderID int64, data any, at time.Time) (Frame, error) {
	env := envelope{
		Type:      typ,
		SenderID:  senderID,
		Data:      data,
		Timestamp: at.UnixMilli(),
	}
	if t.Kind != 0 {
		env.Topic = t.String()
	}
	b, err := json.Marshal(env)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s frame: %w", typ, err)
	}
	return Frame{Type: typ, Topic: t, Payload: b}, nil
}

// Reply builds a frame addressed to a single session rather than a topic,
// such as a subscription ack.
func Reply(typ string, t topic.Topic, data any) Frame {
	f, err := newFrame(typ, t, 0, data, time.Now())
	if err != nil {
		return ErrorFrame("internal error")
	}
	return f
}

// ErrorFrame builds an error reply.
func ErrorFrame(msg string) Frame {
	b, _ := json.Marshal(envelope{
		Type:      ReplyError,
		Message:   msg,
		Timestamp: time.Now().UnixMilli(),
	})
	return Frame{Type: ReplyError, Payload: b}
}
