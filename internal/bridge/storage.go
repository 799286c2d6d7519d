package bridge

import (
	"sync"
)

// SnapshotStore persists the last-known snapshot per session id, so a page
// reload restores state before any network round-trip completes.
type SnapshotStore interface {
	Save(sessionID string, snap Snapshot)
	Load(sessionID string) (Snapshot, bool)
}

// MemoryStorage is the in-process SnapshotStore.
type MemoryStorage struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{snaps: make(map[string]Snapshot)}
}

func (m *MemoryStorage) Save(sessionID string, snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[sessionID] = snap
}

func (m *MemoryStorage) Load(sessionID string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[sessionID]
	return snap, ok
}
