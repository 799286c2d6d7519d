package bridge

import (
	"sync"
)

// TabChannel is the same-origin, tab-scoped broadcast bus used by the
// fallback protocol. Delivery includes the posting tab's own subscription;
// receivers filter by SenderID.
type TabChannel interface {
	Post(msg Message)
	Subscribe(fn func(Message)) (cancel func())
}

// MemoryChannel is the in-process TabChannel. Messages are delivered
// asynchronously, one goroutine per subscriber, so a handler may post from
// inside its callback without deadlocking.
type MemoryChannel struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Message)
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{subs: make(map[int]func(Message))}
}

func (ch *MemoryChannel) Post(msg Message) {
	ch.mu.Lock()
	fns := make([]func(Message), 0, len(ch.subs))
	for _, fn := range ch.subs {
		fns = append(fns, fn)
	}
	ch.mu.Unlock()

	for _, fn := range fns {
		go fn(msg)
	}
}

func (ch *MemoryChannel) Subscribe(fn func(Message)) func() {
	ch.mu.Lock()
	id := ch.next
	ch.next++
	ch.subs[id] = fn
	ch.mu.Unlock()

	return func() {
		ch.mu.Lock()
		delete(ch.subs, id)
		ch.mu.Unlock()
	}
}
