package locks

import (
	"context"
	"errors"

	"go.uber.org/multierr"
)

// Layered takes the in-process lock first so goroutines of one worker queue
// locally instead of polling the distributed lock.
type Layered struct {
	local  Locker
	remote Locker
}

// NewLayered composes a local and a remote locker.
func NewLayered(local, remote Locker) (*Layered, error) {
	if local == nil || remote == nil {
		return nil, errors.New("local and remote lockers are required")
	}
	return &Layered{local: local, remote: remote}, nil
}

func (l *Layered) Acquire(ctx context.Context, key string) (Lease, error) {
	inner, err := l.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	outer, err := l.remote.Acquire(ctx, key)
	if err != nil {
		_ = inner.Release(ctx)
		return nil, err
	}
	return layeredLease{inner: inner, outer: outer}, nil
}

type layeredLease struct {
	inner Lease
	outer Lease
}

func (l layeredLease) Release(ctx context.Context) error {
	return multierr.Append(l.outer.Release(ctx), l.inner.Release(ctx))
}
