package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "vigilis:lock:"

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Lock is a single-owner mutex shared across instances. It is used to keep
// scan cycles from overlapping when several schedulers run.
type Lock struct {
	client *Client
	name   string
	ttl    time.Duration
}

// Lease is a held lock. Release it when the guarded work is done.
type Lease struct {
	lock  *Lock
	token string
}

// NewLock creates a named lock with the given lease TTL.
func NewLock(client *Client, name string, ttl time.Duration) (*Lock, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &Lock{client: client, name: name, ttl: ttl}, nil
}

// Key returns the redis key backing the lock.
func (l *Lock) Key() string {
	return LockKey(l.name)
}

// LockKey returns the redis key for a lock name.
func LockKey(name string) string {
	return lockKeyPrefix + name
}

// Acquire takes the lock or returns ErrLockHeld.
func (l *Lock) Acquire(ctx context.Context) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.Key(), token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{lock: l, token: token}, nil
}

// Release gives the lock back. It returns ErrLockLost when the lease expired
// before release.
func (s *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, s.lock.client.Client(), []string{s.lock.Key()}, s.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", s.lock.name, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Token returns the owner token stored under the lock key.
func (s *Lease) Token() string {
	return s.token
}

// TryLock acquires the lock without waiting. acquired is false when another
// holder owns it.
func (l *Lock) TryLock(ctx context.Context) (release func(context.Context) error, acquired bool, err error) {
	lease, err := l.Acquire(ctx)
	if errors.Is(err, ErrLockHeld) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lease.Release, true, nil
}
