package redis

import "errors"

// Redis-specific errors.
var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("redis: key not found")

	// ErrLockHeld is returned when another holder owns the lock.
	ErrLockHeld = errors.New("redis: lock held by another instance")

	// ErrLockLost is returned when a release finds the lock expired or
	// taken over.
	ErrLockLost = errors.New("redis: lock no longer owned")
)
