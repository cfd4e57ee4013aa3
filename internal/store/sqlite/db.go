package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN. SQLite serializes writers
// anyway, so the pool is pinned to one connection; that also keeps the
// foreign_keys pragma in force for every statement.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent CREATE TABLE / CREATE INDEX statements.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			email VARCHAR(100) UNIQUE,
			status VARCHAR(20) NOT NULL DEFAULT 'offline',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS channels (
			id INTEGER PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			type VARCHAR(10) NOT NULL DEFAULT 'TEXT',
			server_id INTEGER DEFAULT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		// AUTOINCREMENT keeps ids strictly increasing even after deletes.
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scope VARCHAR(10) NOT NULL,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER DEFAULT NULL,
			channel_id INTEGER DEFAULT NULL,
			content TEXT NOT NULL,
			kind VARCHAR(10) DEFAULT NULL,
			attachment_url TEXT DEFAULT NULL,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (sender_id) REFERENCES users(id),
			FOREIGN KEY (receiver_id) REFERENCES users(id),
			FOREIGN KEY (channel_id) REFERENCES channels(id),
			CHECK (scope IN ('direct', 'channel'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver_id, is_read);`,
		`CREATE INDEX IF NOT EXISTS idx_channels_server ON channels(server_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
