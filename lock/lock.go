// Package lock serializes mutating operations per account number.
//
// A Locker hands out one Handle per key at a time. Callers should prefer
// WithLock, which defers the release so it runs on every exit path:
//
//	err := lock.WithLock(ctx, locker, "1000000000", 0, func(ctx context.Context) error {
//	    // read, validate and write the account
//	    return nil
//	})
//
// Distinct keys never block each other and no ordering across keys is kept.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds how long Acquire waits when no timeout is given
const DefaultTimeout = 5000 * time.Millisecond

var (
	// ErrTimeout is returned when the lock could not be acquired in time
	ErrTimeout = errors.New("lock: acquisition timed out")
	// ErrEmptyKey is returned for a blank lock key
	ErrEmptyKey = errors.New("lock: key cannot be empty")
	// ErrAlreadyReleased is returned by a second Release on the same handle
	ErrAlreadyReleased = errors.New("lock: handle already released")
	// ErrNilFn is returned when WithLock is given no function
	ErrNilFn = errors.New("lock: function is nil")
)

// Handle is an acquired lock. Release must be called exactly once.
type Handle interface {
	Release(ctx context.Context) error
}

// Locker is a keyed mutual exclusion service
type Locker interface {
	// Acquire blocks until the lock for key is held, timeout elapses or ctx
	// is done. A timeout of zero or less means DefaultTimeout. Failing to get
	// the lock in time yields an error matching ErrTimeout.
	Acquire(ctx context.Context, key string, timeout time.Duration) (Handle, error)
}

// WithLock runs fn while holding the lock for key
func WithLock(ctx context.Context, l Locker, key string, timeout time.Duration, fn func(context.Context) error) error {
	return WithLockLogged(ctx, l, key, timeout, zap.NewNop(), fn)
}

// WithLockLogged is WithLock with release failures reported to logger
func WithLockLogged(ctx context.Context, l Locker, key string, timeout time.Duration, logger *zap.Logger, fn func(context.Context) error) (err error) {
	if fn == nil {
		return ErrNilFn
	}

	handle, err := l.Acquire(ctx, key, timeout)
	if err != nil {
		return err
	}

	defer func() {
		// release on a fresh context so a cancelled request still unlocks
		if relErr := handle.Release(context.WithoutCancel(ctx)); relErr != nil {
			logger.Error("failed to release lock", zap.String("lock_key", key), zap.Error(relErr))
		}
	}()

	return fn(ctx)
}

func effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}

func timeoutError(key string, timeout time.Duration) error {
	return fmt.Errorf("%w: key %s after %s", ErrTimeout, key, timeout)
}
