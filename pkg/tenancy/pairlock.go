package tenancy

import (
	"fmt"
	"sync"
)

// PairLock serializes writers touching the same (user, organization) pair.
// Readers never take it; resolution stays lock-free.
type PairLock struct {
	mu    sync.Mutex
	locks map[string]*pairEntry
}

type pairEntry struct {
	mu   sync.Mutex
	refs int
}

// NewPairLock creates a new keyed pair lock
func NewPairLock() *PairLock {
	return &PairLock{locks: make(map[string]*pairEntry)}
}

func pairKey(userID, orgID int64) string {
	return fmt.Sprintf("%d:%d", userID, orgID)
}

// Lock acquires the mutex for the pair, creating it on first use.
func (l *PairLock) Lock(userID, orgID int64) {
	key := pairKey(userID, orgID)

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &pairEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the pair's mutex, dropping the entry once unused.
func (l *PairLock) Unlock(userID, orgID int64) {
	key := pairKey(userID, orgID)

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		l.mu.Unlock()
		panic("tenancy: unlock of unheld pair lock")
	}
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
