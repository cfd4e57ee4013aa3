// Package topic defines the logical broadcast addresses live connections
// subscribe to.
package topic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates topic variants.
type Kind uint8

const (
	KindConversation Kind = iota + 1
	KindChannel
	KindUserProfile
	KindGlobalPresence
)

func (k Kind) String() string {
	switch k {
	case KindConversation:
		return "conversation"
	case KindChannel:
		return "channel"
	case KindUserProfile:
		return "user"
	case KindGlobalPresence:
		return "presence"
	default:
		return "unknown"
	}
}

// ErrInvalidTopic is returned by Parse for malformed descriptors.
var ErrInvalidTopic = errors.New("invalid topic")

// Topic is a comparable value usable as a map key. For conversations
// A <= B always holds, so both participants resolve to the same topic.
type Topic struct {
	Kind Kind
	A    int64
	B    int64
}

// Conversation returns the canonical topic for a user pair.
func Conversation(a, b int64) Topic {
	if a > b {
		a, b = b, a
	}
	return Topic{Kind: KindConversation, A: a, B: b}
}

func Channel(id int64) Topic {
	return Topic{Kind: KindChannel, A: id}
}

func UserProfile(userID int64) Topic {
	return Topic{Kind: KindUserProfile, A: userID}
}

func GlobalPresence() Topic {
	return Topic{Kind: KindGlobalPresence}
}

// Includes reports whether userID is one of the two conversation
// participants. Always false for other kinds.
func (t Topic) Includes(userID int64) bool {
	return t.Kind == KindConversation && (t.A == userID || t.B == userID)
}

// String renders the wire descriptor.
func (t Topic) String() string {
	switch t.Kind {
	case KindConversation:
		return fmt.Sprintf("conversation:%d:%d", t.A, t.B)
	case KindChannel:
		return fmt.Sprintf("channel:%d", t.A)
	case KindUserProfile:
		return fmt.Sprintf("user:%d", t.A)
	case KindGlobalPresence:
		return "presence"
	default:
		return "unknown"
	}
}

func (t Topic) MarshalText() ([]byte, error) {
	if t.Kind == 0 {
		return nil, ErrInvalidTopic
	}
	return []byte(t.String()), nil
}

func (t *Topic) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// Parse reads a wire descriptor. Conversation descriptors are canonicalized,
// so "conversation:2:1" and "conversation:1:2" parse to the same topic.
func Parse(s string) (Topic, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	switch parts[0] {
	case "conversation":
		if len(parts) != 3 {
			return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
		}
		a, err := parseID(parts[1])
		if err != nil {
			return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
		}
		b, err := parseID(parts[2])
		if err != nil || a == b {
			return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
		}
		return Conversation(a, b), nil
	case "channel", "user":
		if len(parts) != 2 {
			return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
		}
		id, err := parseID(parts[1])
		if err != nil {
			return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
		}
		if parts[0] == "channel" {
			return Channel(id), nil
		}
		return UserProfile(id), nil
	case "presence":
		if len(parts) != 1 {
			return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
		}
		return GlobalPresence(), nil
	default:
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, ErrInvalidTopic
	}
	return id, nil
}
