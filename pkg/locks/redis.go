package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const lockScope = "customer"

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	LockKey(scope, id string) string
}

// RedisLocker implements Locker with SET NX plus an owner token. The TTL
// bounds how long a crashed holder blocks the key.
type RedisLocker struct {
	store        redisStore
	ttl          time.Duration
	wait         time.Duration
	pollInterval time.Duration
}

// RedisOptions tunes a RedisLocker. Zero values fall back to defaults.
type RedisOptions struct {
	TTL          time.Duration
	Wait         time.Duration
	PollInterval time.Duration
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(store redisStore, opts RedisOptions) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis client required for locker")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Wait <= 0 {
		opts.Wait = defaultWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &RedisLocker{
		store:        store,
		ttl:          opts.TTL,
		wait:         opts.Wait,
		pollInterval: opts.PollInterval,
	}, nil
}

// Acquire polls SET NX until the key is free, ctx ends or the wait elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	redisKey := l.store.LockKey(lockScope, key)
	owner := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.store.SetNX(ctx, redisKey, owner, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("setnx %s: %w", redisKey, err)
		}
		if ok {
			return &redisLease{store: l.store, key: redisKey, owner: owner}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type redisLease struct {
	store redisStore
	key   string
	owner string
	once  sync.Once
	err   error
}

// Release deletes the key only while this lease still owns it.
func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if _, err := l.store.CompareAndDelete(ctx, l.key, l.owner); err != nil {
			l.err = fmt.Errorf("release lock %s: %w", l.key, err)
		}
	})
	return l.err
}
