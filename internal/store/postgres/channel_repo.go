package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"textonly/internal/domain"
)

type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

var _ domain.ChannelRepository = (*ChannelRepo)(nil)

// Create stores c. An unrecognized channel type is stored as TEXT.
func (r *ChannelRepo) Create(ctx context.Context, c *domain.Channel) error {
	c.Type = domain.ParseChannelType(string(c.Type))
	return r.db.QueryRowContext(ctx, `
		INSERT INTO channels (name, type, server_id, position, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`, c.Name, string(c.Type), c.ServerID, c.Position).Scan(&c.ID, &c.CreatedAt)
}

func (r *ChannelRepo) GetByID(ctx context.Context, id int64) (*domain.Channel, error) {
	c := &domain.Channel{}
	var typ string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, type, server_id, position, created_at
		FROM channels WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &typ, &c.ServerID, &c.Position, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	c.Type = domain.ChannelType(typ)
	return c, nil
}
