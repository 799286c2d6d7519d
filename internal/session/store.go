package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store uses. Tests substitute a mock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var ErrNotFound = errors.New("session not found")

// Store persists sessions and their link tokens. Cross-session calls are
// safe to run concurrently; same-session serialization is the caller's job
// via Locks.
type Store struct {
	db  DB
	ttl time.Duration
}

func NewStore(db DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl}
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create inserts a new session with a freshly issued link token and its
// (eagerly created) playlist row. The returned session is the only place
// the link token is ever handed out.
func (s *Store) Create(ctx context.Context, cfg Config) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		LinkToken: IssueToken(),
		Config:    cfg,
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (
			id,
			link_token,
			expires_at,
			require_singer_name,
			pause_between_songs_seconds,
			reorder_allowed
		)
		VALUES ($1, $2, now() + $3, $4, $5, $6)
		RETURNING created_at, expires_at
	`,
		sess.ID,
		sess.LinkToken,
		s.ttl,
		cfg.RequireSingerName,
		cfg.PauseBetweenSongsSeconds,
		cfg.ReorderAllowed,
	).Scan(&sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return Session{}, err
	}

	if _, err := s.db.Exec(ctx, `
		INSERT INTO playlists (id, session_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO NOTHING
	`, uuid.NewString(), sess.ID); err != nil {
		return Session{}, err
	}

	return sess, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (Session, error) {
	return s.getBy(ctx, "id", id)
}

func (s *Store) GetByToken(ctx context.Context, token string) (Session, error) {
	return s.getBy(ctx, "link_token", token)
}

func (s *Store) getBy(ctx context.Context, column, value string) (Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, `
		SELECT id, link_token, created_at, expires_at,
		       require_singer_name, pause_between_songs_seconds, reorder_allowed,
		       last_display_seen_at, paused_player_count
		FROM sessions
		WHERE `+column+` = $1
	`, value).Scan(
		&sess.ID,
		&sess.LinkToken,
		&sess.CreatedAt,
		&sess.ExpiresAt,
		&sess.Config.RequireSingerName,
		&sess.Config.PauseBetweenSongsSeconds,
		&sess.Config.ReorderAllowed,
		&sess.LastDisplaySeenAt,
		&sess.PausedPlayerCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Touch extends the session expiry by one TTL. Display heartbeats also move
// the activity marker the cleanup guard looks at.
func (s *Store) Touch(ctx context.Context, id, clientKind string) error {
	var tag pgconn.CommandTag
	var err error
	if clientKind == ClientDisplay {
		tag, err = s.db.Exec(ctx, `
			UPDATE sessions
			SET expires_at = now() + $2, last_display_seen_at = now()
			WHERE id = $1
		`, id, s.ttl)
	} else {
		tag, err = s.db.Exec(ctx, `
			UPDATE sessions
			SET expires_at = now() + $2
			WHERE id = $1
		`, id, s.ttl)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaused adjusts the paused-player counter. The counter never goes
// negative even if pause/resume reports arrive out of order.
func (s *Store) SetPaused(ctx context.Context, id string, paused bool) error {
	delta := 1
	if !paused {
		delta = -1
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET paused_player_count = GREATEST(paused_player_count + $2, 0)
		WHERE id = $1
	`, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the session; the playlist and its items go with it via
// ON DELETE CASCADE. Returns false if the session was already gone.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE id = $1
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ExpiredCandidates lists sessions that look eligible for expiry: past their
// expiry, no paused player, and no display activity within one TTL. The
// cleanup service rechecks each candidate under the session lock before
// deleting.
func (s *Store) ExpiredCandidates(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM sessions
		WHERE expires_at < $1
		  AND paused_player_count = 0
		  AND (last_display_seen_at IS NULL OR last_display_seen_at < $2)
	`, now, now.Add(-s.ttl))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
