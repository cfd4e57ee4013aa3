package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id           BIGSERIAL    PRIMARY KEY,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			email        VARCHAR(100) UNIQUE,
			status       VARCHAR(20)  NOT NULL DEFAULT 'offline',
			is_active    BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS channels (
			id         BIGSERIAL    PRIMARY KEY,
			name       VARCHAR(100) NOT NULL,
			type       VARCHAR(10)  NOT NULL DEFAULT 'TEXT',
			server_id  BIGINT,
			position   INTEGER      NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id             BIGSERIAL    PRIMARY KEY,
			scope          VARCHAR(10)  NOT NULL CHECK (scope IN ('direct', 'channel')),
			sender_id      BIGINT       NOT NULL REFERENCES users(id),
			receiver_id    BIGINT       REFERENCES users(id),
			channel_id     BIGINT       REFERENCES channels(id),
			content        TEXT         NOT NULL,
			kind           VARCHAR(10),
			attachment_url TEXT,
			is_read        BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ  NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_pair    ON messages(sender_id, receiver_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread  ON messages(receiver_id, is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_server  ON channels(server_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
