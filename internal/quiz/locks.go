package quiz

import (
	"context"
	"sync"
)

// userLocks serializes state transitions per user id. The dispatcher,
// the webhook path, and the manual trigger can all target the same
// user at once; every transition funnels through that user's lock so
// two can never interleave.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// acquire blocks until the user's lock is held or ctx is done. The
// returned release function must be called exactly once.
func (ul *userLocks) acquire(ctx context.Context, userID string) (func(), error) {
	ul.mu.Lock()
	l := ul.locks[userID]
	if l == nil {
		l = &userLock{ch: make(chan struct{}, 1)}
		ul.locks[userID] = l
	}
	l.refs++
	ul.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		ul.put(userID, l)
		return nil, ctx.Err()
	}

	return func() {
		<-l.ch
		ul.put(userID, l)
	}, nil
}

func (ul *userLocks) put(userID string, l *userLock) {
	ul.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(ul.locks, userID)
	}
	ul.mu.Unlock()
}
