// Package locks provides keyed mutual exclusion for event processing. Workers
// hold one lock per customer so at most one event per customer is applied at
// a time.
package locks

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired within the wait bound.
var ErrTimeout = errors.New("lock wait timed out")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires keyed locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

const (
	defaultTTL          = 30 * time.Second
	defaultWait         = 5 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)
