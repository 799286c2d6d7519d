package session

import (
	"context"
	"log"
	"time"
)

// GroupNotifier tells connected clients that their session is gone and
// evicts them from the group. The hub implements it; a nil notifier is
// allowed for headless deployments.
type GroupNotifier interface {
	SessionEnded(sessionID string)
}

// Cleaner is the background sweep that expires stale sessions. A session is
// only deleted when it is past its expiry, has no paused player and its
// display has been silent for at least one TTL.
type Cleaner struct {
	store    *Store
	locks    *Locks
	notifier GroupNotifier
	interval time.Duration
}

func NewCleaner(store *Store, locks *Locks, notifier GroupNotifier, interval time.Duration) *Cleaner {
	return &Cleaner{
		store:    store,
		locks:    locks,
		notifier: notifier,
		interval: interval,
	}
}

// Start runs the sweep on a recurring interval until ctx is cancelled.
func (c *Cleaner) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				c.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one cleanup pass. Candidates are re-checked under the session
// lock: a heartbeat or pause report racing the sweep wins, and the session
// is re-evaluated on the next pass.
func (c *Cleaner) Sweep(ctx context.Context) {
	now := time.Now()
	ids, err := c.store.ExpiredCandidates(ctx, now)
	if err != nil {
		log.Printf("karaoke-sync: cleanup query: %v", err)
		return
	}

	for _, id := range ids {
		if c.sweepOne(ctx, id, now) && c.notifier != nil {
			c.notifier.SessionEnded(id)
		}
	}
}

func (c *Cleaner) sweepOne(ctx context.Context, id string, now time.Time) bool {
	release := c.locks.Acquire(id)
	defer release()

	sess, err := c.store.GetByID(ctx, id)
	if err != nil {
		// already gone or unreadable; nothing to delete
		return false
	}
	if !c.expired(sess, now) {
		return false
	}

	deleted, err := c.store.Delete(ctx, id)
	if err != nil {
		log.Printf("karaoke-sync: cleanup delete %s: %v", id, err)
		return false
	}
	if deleted {
		log.Printf("karaoke-sync: expired session %s deleted", id)
	}
	return deleted
}

func (c *Cleaner) expired(sess Session, now time.Time) bool {
	if !now.After(sess.ExpiresAt) {
		return false
	}
	if sess.PausedPlayerCount > 0 {
		return false
	}
	if sess.LastDisplaySeenAt != nil && now.Sub(*sess.LastDisplaySeenAt) <= c.store.TTL() {
		return false
	}
	return true
}
