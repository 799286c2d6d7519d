package session

import "sync"

// Locks is a per-session critical section table. Hub mutations and cleanup
// deletes acquire the same entry, so a delete is never interleaved with an
// in-flight mutation on the same session. Sessions never contend with each
// other; there is no global serialization point.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the session's lock is held and returns the release
// function. Entries are refcounted so ids with no waiters are dropped from
// the table.
func (l *Locks) Acquire(sessionID string) func() {
	l.mu.Lock()
	e := l.entries[sessionID]
	if e == nil {
		e = &lockEntry{}
		l.entries[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, sessionID)
			}
			l.mu.Unlock()
		})
	}
}

func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
