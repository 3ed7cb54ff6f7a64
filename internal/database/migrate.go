package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies the session schema. Statements are idempotent so the
// step is safe to run on every boot.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS private_voice_sessions (
  address            TEXT        NOT NULL,
  room_name          TEXT        NOT NULL,
  status             TEXT        NOT NULL,
  joined_at          TIMESTAMPTZ NOT NULL,
  status_updated_at  TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (address, room_name)
)`,
		`CREATE INDEX IF NOT EXISTS idx_private_voice_sessions_room
  ON private_voice_sessions (room_name)`,
		`CREATE TABLE IF NOT EXISTS community_voice_sessions (
  address            TEXT        NOT NULL,
  room_name          TEXT        NOT NULL,
  status             TEXT        NOT NULL,
  is_moderator       BOOLEAN     NOT NULL DEFAULT FALSE,
  joined_at          TIMESTAMPTZ NOT NULL,
  status_updated_at  TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (address, room_name)
)`,
		`CREATE INDEX IF NOT EXISTS idx_community_voice_sessions_room
  ON community_voice_sessions (room_name)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
