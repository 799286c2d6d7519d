package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"karaoke-sync-service/internal/playlist"
)

// Server exposes the request/response session lifecycle: create, get,
// heartbeat, pause reporting and explicit admin termination. The realtime
// mutation surface lives on the hub.
type Server struct {
	store     *Store
	playlists *playlist.Store
	locks     *Locks
	notifier  GroupNotifier
}

func NewServer(store *Store, playlists *playlist.Store, locks *Locks, notifier GroupNotifier) *Server {
	return &Server{
		store:     store,
		playlists: playlists,
		locks:     locks,
		notifier:  notifier,
	}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)

	r.Post("/sessions", s.handleCreateSession)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Post("/sessions/{id}/heartbeat", s.handleHeartbeat)
	r.Post("/sessions/{id}/player-paused", s.handlePlayerPaused)
	r.Delete("/sessions/{id}", s.handleEndSession)

	r.Get("/sessions/{id}/playlist", s.handleGetPlaylist)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "karaoke-sync",
	})
}
