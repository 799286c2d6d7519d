package hub

import (
	"testing"
	"time"
)

func newTestClient() *Client {
	return &Client{send: make(chan []byte, 8)}
}

func TestHub_JoinIdempotent(t *testing.T) {
	h := NewHub()
	c := newTestClient()

	h.Join("s1", c)
	h.Join("s1", c)

	if got := h.Members("s1"); got != 1 {
		t.Fatalf("expected 1 member after double join, got %d", got)
	}

	// One broadcast, one delivery.
	h.Broadcast("s1", []byte("hello"))
	select {
	case <-c.send:
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
	select {
	case extra := <-c.send:
		t.Fatalf("duplicate delivery after double join: %s", extra)
	default:
	}
}

func TestHub_LeaveNeverJoined(t *testing.T) {
	h := NewHub()
	c := newTestClient()

	h.Leave("s1", c) // must not panic or error
	if got := h.Members("s1"); got != 0 {
		t.Fatalf("expected 0 members, got %d", got)
	}
}

func TestHub_BroadcastScopedToGroup(t *testing.T) {
	h := NewHub()
	a := newTestClient()
	b := newTestClient()
	other := newTestClient()

	h.Join("s1", a)
	h.Join("s1", b)
	h.Join("s2", other)

	h.Broadcast("s1", []byte("update"))

	for _, c := range []*Client{a, b} {
		select {
		case <-c.send:
		case <-time.After(time.Second):
			t.Fatal("group member missed broadcast")
		}
	}
	select {
	case frame := <-other.send:
		t.Fatalf("other session received foreign broadcast: %s", frame)
	default:
	}
}

func TestHub_SlowClientEvicted(t *testing.T) {
	h := NewHub()
	slow := &Client{send: make(chan []byte)} // no buffer, never read

	h.Join("s1", slow)
	h.Broadcast("s1", []byte("update"))

	if got := h.Members("s1"); got != 0 {
		t.Fatalf("expected slow client eviction, got %d members", got)
	}
	if _, ok := <-slow.send; ok {
		t.Fatal("expected closed send channel")
	}
}

func TestHub_CloseSession(t *testing.T) {
	h := NewHub()
	a := newTestClient()
	b := newTestClient()
	h.Join("s1", a)
	h.Join("s1", b)

	h.CloseSession("s1", []byte(`{"type":"sessionEnded"}`))

	if got := h.Members("s1"); got != 0 {
		t.Fatalf("expected empty group, got %d", got)
	}
	for _, c := range []*Client{a, b} {
		frame, ok := <-c.send
		if !ok {
			t.Fatal("expected final frame before close")
		}
		if string(frame) != `{"type":"sessionEnded"}` {
			t.Fatalf("unexpected final frame: %s", frame)
		}
		if _, ok := <-c.send; ok {
			t.Fatal("expected closed send channel after final frame")
		}
	}
}

func TestHub_DropRemovesEverywhere(t *testing.T) {
	h := NewHub()
	c := newTestClient()
	h.Join("s1", c)
	h.Join("s2", c)

	h.Drop(c)

	if h.Members("s1") != 0 || h.Members("s2") != 0 {
		t.Fatal("expected drop from every group")
	}
}
