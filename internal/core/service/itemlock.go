package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tvh0522/mintbay/internal/core/domain"
)

// itemLocks serializes settlements per item. A settlement holds exactly
// one item lock, so lock ordering cannot deadlock; waits are bounded and
// a timed-out waiter gets domain.ErrConflict.
type itemLocks struct {
	mu    sync.Mutex
	locks map[string]*itemLock
}

type itemLock struct {
	sem  chan struct{}
	refs int
}

func newItemLocks() *itemLocks {
	return &itemLocks{locks: make(map[string]*itemLock)}
}

func (l *itemLocks) acquire(ctx context.Context, itemID string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[itemID]
	if !ok {
		entry = &itemLock{sem: make(chan struct{}, 1)}
		l.locks[itemID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		return func() {
			<-entry.sem
			l.release(itemID, entry)
		}, nil
	case <-ctx.Done():
		l.release(itemID, entry)
		return nil, fmt.Errorf("item %s lock wait cancelled: %w", itemID, domain.ErrConflict)
	case <-timer.C:
		l.release(itemID, entry)
		return nil, fmt.Errorf("item %s lock wait exceeded %s: %w", itemID, wait, domain.ErrConflict)
	}
}

func (l *itemLocks) release(itemID string, entry *itemLock) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, itemID)
	}
	l.mu.Unlock()
}
