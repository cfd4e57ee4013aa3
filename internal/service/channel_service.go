package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"textonly/internal/domain"
)

const maxChannelNameLength = 100

type ChannelService struct {
	channels domain.ChannelRepository
}

func NewChannelService(channels domain.ChannelRepository) *ChannelService {
	return &ChannelService{channels: channels}
}

type ChannelCreateInput struct {
	Name     string
	Type     string
	ServerID *int64
	Position int
}

// Create stores a new channel. Unknown types become TEXT.
func (s *ChannelService) Create(ctx context.Context, in ChannelCreateInput) (*domain.Channel, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: channel name cannot be empty", domain.ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxChannelNameLength {
		return nil, fmt.Errorf("%w: channel name exceeds %d characters", domain.ErrValidation, maxChannelNameLength)
	}

	ch := &domain.Channel{
		Name:     name,
		Type:     domain.ParseChannelType(in.Type),
		ServerID: in.ServerID,
		Position: in.Position,
	}
	if err := s.channels.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	return ch, nil
}

func (s *ChannelService) Get(ctx context.Context, id int64) (*domain.Channel, error) {
	ch, err := s.channels.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}
