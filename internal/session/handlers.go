package session

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// LinkTokenHeader is the out-of-band field mutation and admin calls present
// their link token in.
const LinkTokenHeader = "X-Link-Token"

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		RequireSingerName        bool `json:"requireSingerName"`
		PauseBetweenSongsSeconds int  `json:"pauseBetweenSongsSeconds"`
		ReorderAllowed           bool `json:"reorderAllowed"`
	}
	// An empty body means default config.
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if body.PauseBetweenSongsSeconds < 0 || body.PauseBetweenSongsSeconds > 600 {
		writeError(w, http.StatusBadRequest, "pauseBetweenSongsSeconds must be between 0 and 600")
		return
	}

	sess, err := s.store.Create(ctx, Config{
		RequireSingerName:        body.RequireSingerName,
		PauseBetweenSongsSeconds: body.PauseBetweenSongsSeconds,
		ReorderAllowed:           body.ReorderAllowed,
	})
	if err != nil {
		log.Printf("karaoke-sync: create session: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	// The only response that ever carries the link token.
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	sess, err := s.store.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		log.Printf("karaoke-sync: get session: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	sess.LinkToken = ""
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var body struct {
		ClientKind string `json:"clientKind"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	kind := strings.TrimSpace(strings.ToLower(body.ClientKind))
	switch kind {
	case ClientDisplay, ClientPlayer, ClientRemote:
	case "":
		kind = ClientRemote
	default:
		writeError(w, http.StatusBadRequest, "unknown clientKind")
		return
	}

	err := s.store.Touch(ctx, id, kind)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		log.Printf("karaoke-sync: heartbeat: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePlayerPaused(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var body struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.store.SetPaused(ctx, id, body.Paused)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		log.Printf("karaoke-sync: player-paused: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleEndSession is the explicit admin termination. It takes the same
// per-session lock as hub mutations and cleanup, then notifies the group
// like an expiry would.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if !s.authorize(r, id) {
		// Same response for unknown session and bad token.
		writeError(w, http.StatusUnauthorized, "invalid link token")
		return
	}

	release := s.locks.Acquire(id)
	deleted, err := s.store.Delete(ctx, id)
	release()
	if err != nil {
		log.Printf("karaoke-sync: end session: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	if deleted && s.notifier != nil {
		s.notifier.SessionEnded(id)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetPlaylist returns the canonical snapshot over plain HTTP, for
// clients that poll instead of holding a hub connection.
func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if !s.authorize(r, id) {
		writeError(w, http.StatusUnauthorized, "invalid link token")
		return
	}

	pl, err := s.playlists.EnsureForSession(ctx, id)
	if err != nil {
		log.Printf("karaoke-sync: get playlist: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	items, err := s.playlists.ListItems(ctx, pl.ID)
	if err != nil {
		log.Printf("karaoke-sync: list items: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"playlistId": pl.ID,
		"sessionId":  id,
		"items":      items,
	})
}

func (s *Server) authorize(r *http.Request, sessionID string) bool {
	token := r.Header.Get(LinkTokenHeader)
	if token == "" {
		return false
	}
	return s.store.ValidateToken(r.Context(), sessionID, token)
}
