package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotHeld is returned when a released Redis lock had already expired
var ErrNotHeld = errors.New("lock: not held or already expired")

// RedisOptions tunes the RedLock mutexes created by RedisLocker
type RedisOptions struct {
	// Prefix is prepended to every key, e.g. "account-lock:"
	Prefix string
	// Expiry is how long a held lock survives a crashed holder
	Expiry time.Duration
	// RetryDelay is the pause between acquisition attempts
	RetryDelay time.Duration
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Prefix:     "account-lock:",
		Expiry:     15 * time.Second,
		RetryDelay: 100 * time.Millisecond,
	}
}

// RedisLocker is the Locker shared by several service instances. It uses
// the RedLock algorithm through redsync on top of go-redis.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *zap.Logger
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.UniversalClient, opts RedisOptions, logger *zap.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock: redis client is nil")
	}
	if opts.Expiry <= 0 || opts.RetryDelay <= 0 {
		return nil, errors.New("lock: expiry and retry delay must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Handle, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	timeout = effectiveTimeout(timeout)

	tries := int(timeout/l.opts.RetryDelay) + 1
	mutex := l.rs.NewMutex(
		l.opts.Prefix+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := mutex.LockContext(acquireCtx); err != nil {
		if isContention(acquireCtx, err) {
			l.logger.Debug("lock busy", zap.String("lock_key", key), zap.Error(err))
			return nil, timeoutError(key, timeout)
		}
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}

	return &redisHandle{mutex: mutex, key: key}, nil
}

// isContention separates "someone else holds it" from transport failures.
// redsync reports contention as ErrFailed or "lock already taken".
func isContention(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	return strings.Contains(err.Error(), "lock already taken")
}

type redisHandle struct {
	mutex    *redsync.Mutex
	key      string
	released atomic.Bool
}

func (h *redisHandle) Release(ctx context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}

	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		if errors.Is(err, redsync.ErrLockAlreadyExpired) || strings.Contains(err.Error(), "already expired") {
			return ErrNotHeld
		}
		return fmt.Errorf("lock: release %s: %w", h.key, err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}
