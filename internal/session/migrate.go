package session

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

func AutoMigrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS sessions (
          id                          uuid PRIMARY KEY,
          link_token                  TEXT NOT NULL UNIQUE,
          created_at                  TIMESTAMPTZ NOT NULL DEFAULT now(),
          expires_at                  TIMESTAMPTZ NOT NULL,
          require_singer_name         BOOLEAN NOT NULL DEFAULT FALSE,
          pause_between_songs_seconds INT NOT NULL DEFAULT 0,
          reorder_allowed             BOOLEAN NOT NULL DEFAULT TRUE,
          last_display_seen_at        TIMESTAMPTZ,
          paused_player_count         INT NOT NULL DEFAULT 0
      )
    `); err != nil {
		log.Printf("karaoke-sync: migrate sessions: %v", err)
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS playlists (
          id         uuid PRIMARY KEY,
          session_id uuid NOT NULL UNIQUE REFERENCES sessions(id) ON DELETE CASCADE,
          created_at TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		log.Printf("karaoke-sync: migrate playlists: %v", err)
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS playlist_items (
          id          uuid PRIMARY KEY,
          playlist_id uuid NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
          artist      TEXT NOT NULL,
          title       TEXT NOT NULL,
          singer_name TEXT,
          position    INT NOT NULL,
          created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		log.Printf("karaoke-sync: migrate playlist_items: %v", err)
		return err
	}

	// Not unique: the reorder shift updates move rows through transiently
	// colliding positions inside one transaction.
	if _, err := pool.Exec(ctx, `
      CREATE INDEX IF NOT EXISTS idx_items_playlist_position
      ON playlist_items(playlist_id, position)
    `); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE INDEX IF NOT EXISTS idx_sessions_expires_at
      ON sessions(expires_at)
    `); err != nil {
		return err
	}

	return nil
}
