package service

import (
	"sync"

	"github.com/google/uuid"
)

// lockArena serializes operations per transfer id. Locks are reference
// counted and removed when the last holder releases, so the arena stays
// proportional to in-flight transfers rather than all transfers ever seen.
type lockArena struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*arenaEntry
}

type arenaEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockArena() *lockArena {
	return &lockArena{locks: make(map[uuid.UUID]*arenaEntry)}
}

// acquire blocks until the per-id lock is held and returns the release func.
func (a *lockArena) acquire(id uuid.UUID) func() {
	a.mu.Lock()
	entry, ok := a.locks[id]
	if !ok {
		entry = &arenaEntry{}
		a.locks[id] = entry
	}
	entry.refs++
	a.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		a.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(a.locks, id)
		}
		a.mu.Unlock()
	}
}
