// Package lock provides the deployment deduplication lock: at most one
// pipeline run may be in flight for a given source fingerprint.
package lock

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a lock entry may live before the sweep
// force-expires it. It bounds how long an abandoned run can deny
// re-submission of the same source.
const DefaultTTL = 2 * time.Minute

// Locker tracks in-flight submissions keyed by source fingerprint.
// TryAcquire is non-blocking: a duplicate submission is rejected
// immediately, never queued.
type Locker interface {
	// TryAcquire inserts an entry for fingerprint and returns true, or
	// returns false without side effects if one already exists.
	TryAcquire(ctx context.Context, fingerprint, requestID string) (bool, error)

	// Release removes the entry for fingerprint. Releasing an absent
	// fingerprint is a no-op.
	Release(ctx context.Context, fingerprint string) error

	// IsHeldBy reports whether requestID currently holds any entry.
	IsHeldBy(ctx context.Context, requestID string) (bool, error)

	// ActiveCount returns the number of live entries.
	ActiveCount(ctx context.Context) (int, error)
}

// entry is one in-flight submission.
type entry struct {
	requestID  string
	acquiredAt time.Time
}

// MemoryLocker is the default single-process Locker backed by a
// mutex-guarded map. Expired entries are dropped lazily on every access,
// so correctness does not depend on the background sweep running.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

// MemoryOption configures a MemoryLocker.
type MemoryOption func(*MemoryLocker)

// WithClock overrides the time source, letting tests advance virtual
// time instead of sleeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLocker) {
		l.now = now
	}
}

// NewMemory creates a MemoryLocker with the given TTL. A TTL of zero
// falls back to DefaultTTL.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &MemoryLocker{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartSweep runs a periodic sweep removing expired entries until Stop
// is called. The sweep is a safety net for entries whose release was
// skipped by a crash; lazy expiry already keeps reads correct.
func (l *MemoryLocker) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Stop stops the sweep goroutine.
func (l *MemoryLocker) Stop() {
	l.stopped.Do(func() { close(l.stopCh) })
}

// Sweep removes every entry older than the TTL.
func (l *MemoryLocker) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireLocked()
}

// expireLocked drops expired entries. Callers must hold l.mu.
func (l *MemoryLocker) expireLocked() {
	cutoff := l.now().Add(-l.ttl)
	for fp, e := range l.entries {
		if e.acquiredAt.Before(cutoff) {
			delete(l.entries, fp)
		}
	}
}

// TryAcquire implements Locker.
func (l *MemoryLocker) TryAcquire(ctx context.Context, fingerprint, requestID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked()
	if _, held := l.entries[fingerprint]; held {
		return false, nil
	}
	l.entries[fingerprint] = entry{requestID: requestID, acquiredAt: l.now()}
	return true, nil
}

// Release implements Locker.
func (l *MemoryLocker) Release(ctx context.Context, fingerprint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, fingerprint)
	return nil
}

// IsHeldBy implements Locker. Entries are keyed by fingerprint and
// valued by request ID, so this is an O(active-locks) scan; locks are
// short-lived and low-cardinality.
func (l *MemoryLocker) IsHeldBy(ctx context.Context, requestID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked()
	for _, e := range l.entries {
		if e.requestID == requestID {
			return true, nil
		}
	}
	return false, nil
}

// ActiveCount implements Locker.
func (l *MemoryLocker) ActiveCount(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked()
	return len(l.entries), nil
}
