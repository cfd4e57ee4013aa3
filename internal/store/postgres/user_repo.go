package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"textonly/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.Status == "" {
		u.Status = domain.StatusOffline
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, email, status, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at
	`, u.DisplayName, u.Email, string(u.Status), u.IsActive).Scan(&u.ID, &u.CreatedAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u := &domain.User{}
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, status, is_active, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.Email, &status, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Status = domain.Status(status)
	return u, nil
}

func (r *UserRepo) SetStatus(ctx context.Context, id int64, status domain.Status, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET status = $1, updated_at = $2 WHERE id = $3
	`, string(status), at, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *UserRepo) ResetStatuses(ctx context.Context, status domain.Status, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET status = $1, updated_at = $2 WHERE status <> $3
	`, string(status), at, string(status))
	if err != nil {
		return 0, fmt.Errorf("reset statuses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
