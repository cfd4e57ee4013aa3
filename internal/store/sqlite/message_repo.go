package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"textonly/internal/domain"
)

const messageColumns = `id, scope, sender_id, receiver_id, channel_id, content, kind, attachment_url, is_read, created_at`

type MessageRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func exists(ctx context.Context, tx *sql.Tx, table string, id int64) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", table, id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	return nil
}

func (r *MessageRepo) AppendDirect(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := exists(ctx, tx, "users", m.SenderID); err != nil {
		return err
	}
	if err := exists(ctx, tx, "users", m.ReceiverID); err != nil {
		return err
	}

	now := r.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (scope, sender_id, receiver_id, content, attachment_url, is_read, created_at)
		VALUES ('direct', ?, ?, ?, ?, 0, ?)
	`, m.SenderID, m.ReceiverID, m.Content, m.AttachmentURL, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	m.ID = id
	m.Scope = domain.ScopeDirect
	m.ChannelID = 0
	m.Kind = ""
	m.ReadState = domain.Unread
	m.CreatedAt = now
	return nil
}

func (r *MessageRepo) AppendChannel(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := exists(ctx, tx, "channels", m.ChannelID); err != nil {
		return err
	}
	if err := exists(ctx, tx, "users", m.SenderID); err != nil {
		return err
	}

	kind := domain.ParseMessageKind(string(m.Kind))
	now := r.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (scope, sender_id, channel_id, content, kind, attachment_url, is_read, created_at)
		VALUES ('channel', ?, ?, ?, ?, ?, 0, ?)
	`, m.SenderID, m.ChannelID, m.Content, string(kind), m.AttachmentURL, now)
	if err != nil {
		return fmt.Errorf("insert channel message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	m.ID = id
	m.Scope = domain.ScopeChannel
	m.ReceiverID = 0
	m.Kind = kind
	m.ReadState = ""
	m.CreatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (*domain.Message, error) {
	var (
		m                 domain.Message
		scope             string
		receiver, channel sql.NullInt64
		kind              sql.NullString
		isRead            bool
	)
	if err := s.Scan(&m.ID, &scope, &m.SenderID, &receiver, &channel, &m.Content, &kind, &m.AttachmentURL, &isRead, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Scope = domain.Scope(scope)
	m.ReceiverID = receiver.Int64
	m.ChannelID = channel.Int64
	m.Kind = domain.MessageKind(kind.String)
	if m.IsDirect() {
		m.ReadState = domain.Unread
		if isRead {
			m.ReadState = domain.Read
		}
	}
	return &m, nil
}

func (r *MessageRepo) query(ctx context.Context, q string, args ...any) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	res := []*domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return res, nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE id = ? AND scope = 'direct' AND is_read = 0
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	m, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !m.IsDirect() {
		return false, fmt.Errorf("%w: message %d has no read state", domain.ErrValidation, id)
	}
	return false, nil
}

func (r *MessageRepo) ConversationBetween(ctx context.Context, userA, userB int64) ([]*domain.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE scope = 'direct'
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		ORDER BY id DESC
	`, userA, userB, userB, userA)
}

func (r *MessageRepo) ChannelHistory(ctx context.Context, channelID int64, limit int) ([]*domain.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE scope = 'channel' AND channel_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, channelID, domain.ClampHistoryLimit(limit))
}

func (r *MessageRepo) UnreadFor(ctx context.Context, userID int64) ([]*domain.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE scope = 'direct' AND receiver_id = ? AND is_read = 0
		ORDER BY id DESC
	`, userID)
}
