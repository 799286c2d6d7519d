package playlist

import (
	"context"
	"errors"

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

// Store persists playlists and their ordered items. Every mutation keeps the
// position sequence dense: positions are exactly {0..n-1} afterwards.
// Same-playlist serialization is the caller's job (session lock table); the
// row locks here only defend against a crashed caller.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// EnsureForSession returns the session's playlist, creating it if a mutation
// arrives before the session-start path created one.
func (s *Store) EnsureForSession(ctx context.Context, sessionID string) (Playlist, error) {
	pl, err := s.getBySession(ctx, sessionID)
	if err == nil {
		return pl, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Playlist{}, err
	}

	if _, err := s.db.Exec(ctx, `
		INSERT INTO playlists (id, session_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO NOTHING
	`, uuid.NewString(), sessionID); err != nil {
		return Playlist{}, err
	}
	return s.getBySession(ctx, sessionID)
}

func (s *Store) getBySession(ctx context.Context, sessionID string) (Playlist, error) {
	var pl Playlist
	err := s.db.QueryRow(ctx, `
		SELECT id, session_id, created_at
		FROM playlists
		WHERE session_id = $1
	`, sessionID).Scan(&pl.ID, &pl.SessionID, &pl.CreatedAt)
	return pl, err
}

// AddItem appends a new item at the tail. There is no positional argument;
// add always lands at MAX(position)+1.
func (s *Store) AddItem(ctx context.Context, playlistID, artist, title string, singerName *string) (Item, error) {
	it := Item{
		ID:         uuid.NewString(),
		PlaylistID: playlistID,
		Artist:     artist,
		Title:      title,
		SingerName: singerName,
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO playlist_items (id, playlist_id, artist, title, singer_name, position)
		VALUES (
			$1, $2, $3, $4, $5,
			COALESCE(
				(SELECT MAX(position)+1 FROM playlist_items WHERE playlist_id = $2),
				0
			)
		)
		RETURNING position, created_at
	`, it.ID, playlistID, artist, title, singerName).Scan(&it.Position, &it.CreatedAt)
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

// RemoveItem deletes an item and compacts the positions above it. A
// non-existent item id is a no-op and reports changed=false.
func (s *Store) RemoveItem(ctx context.Context, playlistID, itemID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var pos int
	err = tx.QueryRow(ctx, `
		SELECT position
		FROM playlist_items
		WHERE id = $1 AND playlist_id = $2
		FOR UPDATE
	`, itemID, playlistID).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM playlist_items
		WHERE id = $1 AND playlist_id = $2
	`, itemID, playlistID); err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE playlist_items
		SET position = position - 1
		WHERE playlist_id = $1 AND position > $2
	`, playlistID, pos); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Reorder moves the item at oldIndex to newIndex in a single logical step
// (list move, not a swap). Out-of-range indices are a no-op with
// changed=false, as is oldIndex == newIndex.
func (s *Store) Reorder(ctx context.Context, playlistID string, oldIndex, newIndex int) (bool, error) {
	if oldIndex < 0 || newIndex < 0 || oldIndex == newIndex {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var total int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM playlist_items WHERE playlist_id = $1
	`, playlistID).Scan(&total); err != nil {
		return false, err
	}
	if oldIndex >= total || newIndex >= total {
		return false, nil
	}

	var itemID string
	err = tx.QueryRow(ctx, `
		SELECT id
		FROM playlist_items
		WHERE playlist_id = $1 AND position = $2
		FOR UPDATE
	`, playlistID, oldIndex).Scan(&itemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if newIndex > oldIndex {
		_, err = tx.Exec(ctx, `
			UPDATE playlist_items
			SET position = position - 1
			WHERE playlist_id = $1
			  AND position > $2
			  AND position <= $3
		`, playlistID, oldIndex, newIndex)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE playlist_items
			SET position = position + 1
			WHERE playlist_id = $1
			  AND position >= $3
			  AND position < $2
		`, playlistID, oldIndex, newIndex)
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE playlist_items
		SET position = $3
		WHERE id = $2 AND playlist_id = $1
	`, playlistID, itemID, newIndex); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListItems returns the canonical snapshot: every item of the playlist in
// position order.
func (s *Store) ListItems(ctx context.Context, playlistID string) ([]Item, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, playlist_id, artist, title, singer_name, position, created_at
		FROM playlist_items
		WHERE playlist_id = $1
		ORDER BY position ASC
	`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID,
			&it.PlaylistID,
			&it.Artist,
			&it.Title,
			&it.SingerName,
			&it.Position,
			&it.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
