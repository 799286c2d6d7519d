package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State names the bridge's transport situation. Transitions are explicit:
// connect success, connect failure/timeout, read failure, session end.
type State int

const (
	StateDisconnected State = iota
	StateConnectingPrimary
	StateConnectedPrimary
	StateFallbackLocal
)

func (s State) String() string {
	switch s {
	case StateConnectingPrimary:
		return "connecting-primary"
	case StateConnectedPrimary:
		return "connected-primary"
	case StateFallbackLocal:
		return "fallback-local"
	default:
		return "disconnected"
	}
}

const linkTokenHeader = "X-Link-Token"

var ErrSessionEnded = errors.New("session ended")

// Options configures one Bridge. Exactly one tab per origin runs with
// MainTab set; that tab answers snapshot requests on the fallback channel.
type Options struct {
	ServerURL string
	SessionID string
	LinkToken string
	MainTab   bool

	Channel TabChannel
	Storage SnapshotStore

	// OnUpdate is called with every new snapshot: restored, received from
	// the hub, received from a peer tab, or produced by a local fallback
	// mutation.
	OnUpdate func(Snapshot)

	DialTimeout time.Duration
	StateWait   time.Duration
	MaxBackoff  time.Duration
}

// Bridge is the per-tab sync runtime. It prefers the hub connection and
// falls back to the tab channel when the hub is unreachable. All connection
// state lives here; there are no package globals.
type Bridge struct {
	opts Options
	id   string

	mu        sync.Mutex
	state     State
	snap      Snapshot
	conn      *websocket.Conn
	stateCh   chan Snapshot
	pongCh    chan struct{}
	mainAlive bool
	ended     bool

	writeMu   sync.Mutex
	cancelSub func()
	closed    chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *Bridge {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.StateWait <= 0 {
		opts.StateWait = 3 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Bridge{
		opts:      opts,
		id:        uuid.NewString(),
		state:     StateDisconnected,
		mainAlive: opts.MainTab,
		closed:    make(chan struct{}),
	}
}

// Start restores the persisted snapshot, then attempts the primary
// connection. A failed attempt drops the tab into fallback mode; the
// reconnect loop keeps retrying with backoff in the background either way.
func (b *Bridge) Start(ctx context.Context) {
	if b.opts.Storage != nil {
		if snap, ok := b.opts.Storage.Load(b.opts.SessionID); ok {
			b.mu.Lock()
			b.snap = snap
			b.mu.Unlock()
			b.notify(snap)
		}
	}

	if b.opts.Channel != nil {
		b.cancelSub = b.opts.Channel.Subscribe(b.handleMessage)
	}

	if err := b.connectPrimary(ctx); err != nil {
		b.enterFallback()
	}

	go b.reconnectLoop(ctx)
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Current returns the tab's last-known snapshot.
func (b *Bridge) Current() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// MainTabAlive reports whether the main tab answered the last liveness
// probe (trivially true on the main tab itself).
func (b *Bridge) MainTabAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts.MainTab || b.mainAlive
}

func (b *Bridge) connectPrimary(ctx context.Context) error {
	b.setState(StateConnectingPrimary)

	dialer := websocket.Dialer{HandshakeTimeout: b.opts.DialTimeout}
	header := http.Header{}
	header.Set(linkTokenHeader, b.opts.LinkToken)

	conn, resp, err := dialer.DialContext(ctx, b.opts.ServerURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.state = StateConnectedPrimary
	b.mu.Unlock()

	b.writeFrame(map[string]any{
		"type":      "joinSession",
		"sessionId": b.opts.SessionID,
	})

	go b.readLoop(conn)
	return nil
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "playlistUpdated":
			var snap Snapshot
			if err := json.Unmarshal(ev.Payload, &snap); err != nil {
				continue
			}
			// Canonical snapshot wins over any optimistic local state.
			b.applySnapshot(snap, true)
		case "sessionEnded":
			b.mu.Lock()
			b.ended = true
			b.state = StateDisconnected
			b.conn = nil
			b.mu.Unlock()
			_ = conn.Close()
			if b.opts.MainTab {
				b.post(Message{Kind: MsgSessionEnded, SenderID: b.id})
			}
			return
		case "error":
			log.Printf("karaoke-sync bridge: server error: %s", ev.Payload)
		}
	}

	_ = conn.Close()
	b.mu.Lock()
	lost := b.state == StateConnectedPrimary && !b.ended
	if lost {
		b.conn = nil
	}
	b.mu.Unlock()
	if lost {
		b.enterFallback()
	}
}

func (b *Bridge) enterFallback() {
	select {
	case <-b.closed:
		return
	default:
	}
	b.setState(StateFallbackLocal)

	if !b.opts.MainTab && b.opts.Channel != nil {
		go b.requestState()
	}
}

// requestState asks a peer tab for the current state and waits a bounded
// time. On timeout the tab proceeds with its last persisted snapshot
// instead of hanging.
func (b *Bridge) requestState() {
	ch := make(chan Snapshot, 1)
	b.mu.Lock()
	b.stateCh = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.stateCh = nil
		b.mu.Unlock()
	}()

	b.post(Message{Kind: MsgRequestState, SenderID: b.id})

	select {
	case snap := <-ch:
		b.applySnapshot(snap, false)
	case <-time.After(b.opts.StateWait):
	case <-b.closed:
	}
}

// PingMain probes the main tab over the fallback channel and reports
// whether it answered within the bounded wait. Secondary tabs use it to
// detect a closed main tab.
func (b *Bridge) PingMain() bool {
	if b.opts.MainTab {
		return true
	}
	if b.opts.Channel == nil {
		return false
	}

	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.pongCh = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.pongCh = nil
		b.mu.Unlock()
	}()

	b.post(Message{Kind: MsgPing, SenderID: b.id})

	select {
	case <-ch:
		return true
	case <-time.After(b.opts.StateWait):
		b.mu.Lock()
		b.mainAlive = false
		b.mu.Unlock()
		return false
	case <-b.closed:
		return false
	}
}

func (b *Bridge) handleMessage(msg Message) {
	if msg.SenderID == b.id {
		return
	}

	switch msg.Kind {
	case MsgRequestState:
		if !b.opts.MainTab {
			return
		}
		data, err := json.Marshal(b.Current())
		if err != nil {
			return
		}
		b.post(Message{Kind: MsgStateSync, SenderID: b.id, Data: data})

	case MsgStateSync:
		var snap Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			return
		}
		b.mu.Lock()
		waiter := b.stateCh
		b.mu.Unlock()
		if waiter != nil {
			select {
			case waiter <- snap:
				return
			default:
			}
		}
		if b.State() == StateFallbackLocal {
			b.applySnapshot(snap, false)
		}

	case MsgPlaylistUpdate:
		// While on the primary transport the hub is the source of truth;
		// peer updates only matter in fallback.
		if b.State() == StateConnectedPrimary {
			return
		}
		var snap Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			return
		}
		b.applySnapshot(snap, false)

	case MsgPing:
		if b.opts.MainTab {
			b.post(Message{Kind: MsgPingResponse, SenderID: b.id})
		}

	case MsgPingResponse:
		b.mu.Lock()
		b.mainAlive = true
		ch := b.pongCh
		b.mu.Unlock()
		if ch != nil {
			select {
			case ch <- struct{}{}:
			default:
			}
		}

	case MsgSessionEnded:
		b.mu.Lock()
		b.ended = true
		b.state = StateDisconnected
		b.mu.Unlock()

	case MsgMainClosing:
		b.mu.Lock()
		b.mainAlive = false
		b.mu.Unlock()
	}
}

// AddItem queues a song. In fallback mode the mutation is applied to the
// local snapshot and broadcast to peer tabs without a server authorization
// check; the next canonical broadcast overwrites it.
func (b *Bridge) AddItem(artist, title string, singerName *string) error {
	if b.sendPrimary(map[string]any{
		"type":       "addItem",
		"sessionId":  b.opts.SessionID,
		"artist":     artist,
		"title":      title,
		"singerName": singerName,
	}) {
		return nil
	}
	return b.mutateLocal(func(snap *Snapshot) bool {
		snap.Items = append(snap.Items, Item{
			ID:         uuid.NewString(),
			Artist:     artist,
			Title:      title,
			SingerName: singerName,
			Position:   len(snap.Items),
		})
		return true
	})
}

// RemoveItem removes a queued song; a non-existent id is a no-op.
func (b *Bridge) RemoveItem(itemID string) error {
	if b.sendPrimary(map[string]any{
		"type":      "removeItem",
		"sessionId": b.opts.SessionID,
		"itemId":    itemID,
	}) {
		return nil
	}
	return b.mutateLocal(func(snap *Snapshot) bool {
		kept := snap.Items[:0]
		found := false
		for _, it := range snap.Items {
			if it.ID == itemID {
				found = true
				continue
			}
			kept = append(kept, it)
		}
		if !found {
			return false
		}
		snap.Items = renumber(kept)
		return true
	})
}

// Reorder moves the item at oldIndex to newIndex with the same index rules
// as the hub: out-of-range indices are a no-op.
func (b *Bridge) Reorder(oldIndex, newIndex int) error {
	if b.sendPrimary(map[string]any{
		"type":      "reorder",
		"sessionId": b.opts.SessionID,
		"oldIndex":  oldIndex,
		"newIndex":  newIndex,
	}) {
		return nil
	}
	return b.mutateLocal(func(snap *Snapshot) bool {
		n := len(snap.Items)
		if oldIndex < 0 || newIndex < 0 || oldIndex >= n || newIndex >= n || oldIndex == newIndex {
			return false
		}
		items := snap.Items
		moved := items[oldIndex]
		items = append(items[:oldIndex], items[oldIndex+1:]...)
		items = append(items[:newIndex], append([]Item{moved}, items[newIndex:]...)...)
		snap.Items = renumber(items)
		return true
	})
}

// sendPrimary writes the frame when the primary transport is up. Returns
// false when the caller should degrade to the local path.
func (b *Bridge) sendPrimary(frame map[string]any) bool {
	b.mu.Lock()
	conn := b.conn
	ok := b.state == StateConnectedPrimary && conn != nil
	b.mu.Unlock()
	if !ok {
		return false
	}
	b.writeFrame(frame)
	return true
}

func (b *Bridge) writeFrame(frame map[string]any) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("karaoke-sync bridge: write: %v", err)
	}
}

func (b *Bridge) mutateLocal(apply func(*Snapshot) bool) error {
	b.mu.Lock()
	if b.ended {
		b.mu.Unlock()
		return ErrSessionEnded
	}
	snap := b.snap
	snap.SessionID = b.opts.SessionID
	items := make([]Item, len(snap.Items))
	copy(items, snap.Items)
	snap.Items = items
	if !apply(&snap) {
		b.mu.Unlock()
		return nil
	}
	b.snap = snap
	b.mu.Unlock()

	if b.opts.Storage != nil {
		b.opts.Storage.Save(b.opts.SessionID, snap)
	}
	b.notify(snap)

	data, err := json.Marshal(snap)
	if err == nil {
		b.post(Message{Kind: MsgPlaylistUpdate, SenderID: b.id, Data: data})
	}
	return nil
}

func (b *Bridge) applySnapshot(snap Snapshot, fromPrimary bool) {
	b.mu.Lock()
	b.snap = snap
	b.mu.Unlock()

	if b.opts.Storage != nil {
		b.opts.Storage.Save(b.opts.SessionID, snap)
	}
	b.notify(snap)

	// The main tab relays hub broadcasts to tabs stuck in fallback.
	if fromPrimary && b.opts.MainTab {
		if data, err := json.Marshal(snap); err == nil {
			b.post(Message{Kind: MsgPlaylistUpdate, SenderID: b.id, Data: data})
		}
	}
}

// reconnectLoop retries the primary transport with exponential backoff
// while the tab is in fallback. It never blocks mutation calls and is
// independent per tab.
func (b *Bridge) reconnectLoop(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-b.closed:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		b.mu.Lock()
		retry := b.state == StateFallbackLocal && !b.ended
		done := b.ended
		b.mu.Unlock()
		if done {
			return
		}
		if !retry {
			backoff = time.Second
			continue
		}

		if err := b.connectPrimary(ctx); err != nil {
			b.setState(StateFallbackLocal)
			backoff *= 2
			if backoff > b.opts.MaxBackoff {
				backoff = b.opts.MaxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

// Close tears the bridge down. The main tab announces itself so secondary
// tabs can stop expecting snapshot responses.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		if b.opts.MainTab {
			b.post(Message{Kind: MsgMainClosing, SenderID: b.id})
		}
		close(b.closed)
		if b.cancelSub != nil {
			b.cancelSub()
		}
		b.mu.Lock()
		conn := b.conn
		b.conn = nil
		b.state = StateDisconnected
		b.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bridge) notify(snap Snapshot) {
	if b.opts.OnUpdate != nil {
		b.opts.OnUpdate(snap)
	}
}

func (b *Bridge) post(msg Message) {
	if b.opts.Channel != nil {
		b.opts.Channel.Post(msg)
	}
}

func renumber(items []Item) []Item {
	for i := range items {
		items[i].Position = i
	}
	return items
}
