package shopassist

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// SessionLocker serializes chat turns per session. Lock waits respect context cancellation
// and entries are dropped once no turn holds or waits on them.
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewSessionLocker creates an empty SessionLocker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{locks: make(map[string]*sessionLock)}
}

// Lock blocks until the session is free or ctx is done. The returned func releases the lock.
func (l *SessionLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{sem: semaphore.NewWeighted(1)}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.release(sessionID, entry, false)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(sessionID, entry, true) })
	}, nil
}

func (l *SessionLocker) release(sessionID string, entry *sessionLock, held bool) {
	if held {
		entry.sem.Release(1)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, sessionID)
	}
}

func (l *SessionLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
