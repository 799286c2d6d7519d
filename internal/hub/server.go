package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"karaoke-sync-service/internal/playlist"
	"karaoke-sync-service/internal/session"
)

var upgrader = websocket.Upgrader{
	// Origin is enforced by the gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Error kinds reported to the calling connection only; authorization
// failures are never broadcast.
const (
	KindMissingToken = "MissingToken"
	KindInvalidToken = "InvalidToken"
	KindBadRequest   = "BadRequest"
)

// TokenValidator checks a presented link token against a session.
type TokenValidator interface {
	ValidateToken(ctx context.Context, sessionID, token string) bool
}

// PlaylistService is the slice of the playlist store the hub drives.
type PlaylistService interface {
	EnsureForSession(ctx context.Context, sessionID string) (playlist.Playlist, error)
	AddItem(ctx context.Context, playlistID, artist, title string, singerName *string) (playlist.Item, error)
	RemoveItem(ctx context.Context, playlistID, itemID string) (bool, error)
	Reorder(ctx context.Context, playlistID string, oldIndex, newIndex int) (bool, error)
	ListItems(ctx context.Context, playlistID string) ([]playlist.Item, error)
}

// Server is the stateful realtime endpoint. Clients join a session-scoped
// group and invoke mutations; after every applied mutation the full
// canonical snapshot is rebroadcast to the whole group.
type Server struct {
	hub       *Hub
	tokens    TokenValidator
	playlists PlaylistService
	locks     *session.Locks
	rdb       *redis.Client
}

func NewServer(hub *Hub, tokens TokenValidator, playlists PlaylistService, locks *session.Locks, rdb *redis.Client) *Server {
	return &Server{
		hub:       hub,
		tokens:    tokens,
		playlists: playlists,
		locks:     locks,
		rdb:       rdb,
	}
}

// HandleWS upgrades the connection and captures the link token. Browser
// clients that cannot set headers on a websocket handshake pass the token
// as a query parameter instead.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(session.LinkTokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("karaoke-sync: ws upgrade: %v", err)
		return
	}

	c := &Client{
		srv:   s,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		token: token,
	}

	if frame, err := json.Marshal(event{Type: "welcome"}); err == nil {
		c.send <- frame
	}

	go c.writePump()
	go c.readPump()
}

type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// PlaylistState is the canonical snapshot broadcast after every mutation.
type PlaylistState struct {
	PlaylistID string          `json:"playlistId"`
	SessionID  string          `json:"sessionId"`
	Items      []playlist.Item `json:"items"`
}

type inbound struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"sessionId"`
	PlaylistID string  `json:"playlistId"`
	ItemID     string  `json:"itemId"`
	Artist     string  `json:"artist"`
	Title      string  `json:"title"`
	SingerName *string `json:"singerName"`
	OldIndex   *int    `json:"oldIndex"`
	NewIndex   *int    `json:"newIndex"`
}

func (s *Server) dispatch(c *Client, data []byte) {
	ctx := context.Background()

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(c, KindBadRequest, "invalid JSON frame")
		return
	}
	if msg.SessionID == "" {
		s.sendError(c, KindBadRequest, "missing sessionId")
		return
	}

	switch msg.Type {
	case "joinSession":
		s.handleJoin(ctx, c, msg)
	case "leaveSession":
		s.hub.Leave(msg.SessionID, c)
	case "addItem":
		s.handleAddItem(ctx, c, msg)
	case "removeItem":
		s.handleRemoveItem(ctx, c, msg)
	case "reorder":
		s.handleReorder(ctx, c, msg)
	default:
		s.sendError(c, KindBadRequest, "unknown message type")
	}
}

func (s *Server) handleJoin(ctx context.Context, c *Client, msg inbound) {
	if !s.authorize(ctx, c, msg.SessionID) {
		return
	}
	s.hub.Join(msg.SessionID, c)

	// Send the joiner the current snapshot so it converges without waiting
	// for the next mutation.
	pl, err := s.playlists.EnsureForSession(ctx, msg.SessionID)
	if err != nil {
		log.Printf("karaoke-sync: join snapshot: %v", err)
		return
	}
	items, err := s.playlists.ListItems(ctx, pl.ID)
	if err != nil {
		log.Printf("karaoke-sync: join snapshot: %v", err)
		return
	}
	frame, err := json.Marshal(event{
		Type:    "playlistUpdated",
		Payload: PlaylistState{PlaylistID: pl.ID, SessionID: msg.SessionID, Items: items},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (s *Server) handleAddItem(ctx context.Context, c *Client, msg inbound) {
	if !s.authorize(ctx, c, msg.SessionID) {
		return
	}

	msg.Artist = strings.TrimSpace(msg.Artist)
	msg.Title = strings.TrimSpace(msg.Title)
	if msg.Title == "" || len(msg.Title) > 300 {
		s.sendError(c, KindBadRequest, "title must be between 1 and 300 characters")
		return
	}
	if len(msg.Artist) > 200 {
		s.sendError(c, KindBadRequest, "artist is too long")
		return
	}

	release := s.locks.Acquire(msg.SessionID)
	state, applied, err := s.withPlaylist(ctx, msg, func(playlistID string) (bool, error) {
		_, err := s.playlists.AddItem(ctx, playlistID, msg.Artist, msg.Title, msg.SingerName)
		return err == nil, err
	})
	release()

	s.finish(ctx, c, msg.SessionID, state, applied, err)
}

func (s *Server) handleRemoveItem(ctx context.Context, c *Client, msg inbound) {
	if !s.authorize(ctx, c, msg.SessionID) {
		return
	}
	if msg.ItemID == "" {
		s.sendError(c, KindBadRequest, "missing itemId")
		return
	}

	release := s.locks.Acquire(msg.SessionID)
	state, applied, err := s.withPlaylist(ctx, msg, func(playlistID string) (bool, error) {
		return s.playlists.RemoveItem(ctx, playlistID, msg.ItemID)
	})
	release()

	s.finish(ctx, c, msg.SessionID, state, applied, err)
}

func (s *Server) handleReorder(ctx context.Context, c *Client, msg inbound) {
	if !s.authorize(ctx, c, msg.SessionID) {
		return
	}
	if msg.OldIndex == nil || msg.NewIndex == nil {
		s.sendError(c, KindBadRequest, "missing oldIndex or newIndex")
		return
	}

	release := s.locks.Acquire(msg.SessionID)
	state, applied, err := s.withPlaylist(ctx, msg, func(playlistID string) (bool, error) {
		return s.playlists.Reorder(ctx, playlistID, *msg.OldIndex, *msg.NewIndex)
	})
	release()

	s.finish(ctx, c, msg.SessionID, state, applied, err)
}

// withPlaylist resolves the session's playlist, rejects a playlist id that
// belongs to a different session, applies the mutation and reloads the
// canonical snapshot. Caller holds the session lock.
func (s *Server) withPlaylist(ctx context.Context, msg inbound, apply func(playlistID string) (bool, error)) (PlaylistState, bool, error) {
	pl, err := s.playlists.EnsureForSession(ctx, msg.SessionID)
	if err != nil {
		return PlaylistState{}, false, err
	}
	if msg.PlaylistID != "" && msg.PlaylistID != pl.ID {
		// Token authorizes the session, not arbitrary playlists.
		return PlaylistState{}, false, nil
	}

	applied, err := apply(pl.ID)
	if err != nil || !applied {
		return PlaylistState{}, false, err
	}

	items, err := s.playlists.ListItems(ctx, pl.ID)
	if err != nil {
		return PlaylistState{}, false, err
	}
	return PlaylistState{PlaylistID: pl.ID, SessionID: msg.SessionID, Items: items}, true, nil
}

// finish broadcasts the snapshot after an applied mutation. Rejected or
// no-op mutations produce no broadcast; storage errors go back to the
// caller only.
func (s *Server) finish(ctx context.Context, c *Client, sessionID string, state PlaylistState, applied bool, err error) {
	if err != nil {
		log.Printf("karaoke-sync: mutation: %v", err)
		s.sendError(c, KindBadRequest, "storage error")
		return
	}
	if !applied {
		return
	}

	frame, err := json.Marshal(event{Type: "playlistUpdated", Payload: state})
	if err != nil {
		return
	}
	s.publish(ctx, sessionID, frame, false)
}

// SessionEnded implements session.GroupNotifier: tell the group the session
// is gone, then evict its connections.
func (s *Server) SessionEnded(sessionID string) {
	frame, err := json.Marshal(event{
		Type:    "sessionEnded",
		Payload: map[string]any{"sessionId": sessionID},
	})
	if err != nil {
		return
	}
	s.publish(context.Background(), sessionID, frame, true)
}

func (s *Server) authorize(ctx context.Context, c *Client, sessionID string) bool {
	if c.token == "" {
		s.sendError(c, KindMissingToken, "link token required")
		return false
	}
	if !s.tokens.ValidateToken(ctx, sessionID, c.token) {
		// Unknown session, expired session and mismatched token are
		// indistinguishable on purpose.
		s.sendError(c, KindInvalidToken, "invalid link token")
		return false
	}
	return true
}

func (s *Server) sendError(c *Client, kind, message string) {
	frame, err := json.Marshal(event{
		Type:    "error",
		Payload: map[string]string{"kind": kind, "message": message},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}
