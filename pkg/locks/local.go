package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// LocalLocker serializes keys inside one process. Entries are removed once
// the last waiter releases.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*localEntry
	wait time.Duration
}

type localEntry struct {
	ch      chan struct{}
	waiters int
}

// NewLocalLocker returns an in-process locker. wait <= 0 uses the default.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = defaultWait
	}
	return &LocalLocker{keys: make(map[string]*localEntry), wait: wait}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	l.mu.Lock()
	entry, ok := l.keys[key]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		l.keys[key] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
		return &localLease{locker: l, key: key, entry: entry}, nil
	case <-ctx.Done():
		l.forget(key, entry)
		return nil, ctx.Err()
	case <-timer.C:
		l.forget(key, entry)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
	}
}

func (l *LocalLocker) forget(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(l.keys, key)
	}
}

type localLease struct {
	locker *LocalLocker
	key    string
	entry  *localEntry
	once   sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.entry.ch
		l.locker.forget(l.key, l.entry)
	})
	return nil
}
