package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// KeyedMutex is the in-process Locker. Each key owns a one-slot channel;
// holding the slot is holding the lock. Entries are reference counted and
// dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	slot chan struct{}
	refs int
}

var _ Locker = (*KeyedMutex)(nil)

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string, timeout time.Duration) (Handle, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	timeout = effectiveTimeout(timeout)

	kl := m.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case kl.slot <- struct{}{}:
		return &keyedHandle{m: m, key: key, kl: kl}, nil
	case <-timer.C:
		m.unref(key, kl)
		return nil, timeoutError(key, timeout)
	case <-ctx.Done():
		m.unref(key, kl)
		return nil, timeoutError(key, timeout)
	}
}

// Held reports how many keys currently have a holder or waiter
func (m *KeyedMutex) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *KeyedMutex) ref(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{slot: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (m *KeyedMutex) unref(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

type keyedHandle struct {
	m        *KeyedMutex
	key      string
	kl       *keyLock
	released atomic.Bool
}

func (h *keyedHandle) Release(_ context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	<-h.kl.slot
	h.m.unref(h.key, h.kl)
	return nil
}
