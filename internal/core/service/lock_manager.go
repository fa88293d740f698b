package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elidria/stock-reserve/internal/core/domain"
	"github.com/elidria/stock-reserve/internal/port"
)

const (
	// DefaultLockTTL bounds worst-case unavailability after a crashed holder:
	// any later acquirer may reclaim an expired lock.
	DefaultLockTTL = 10 * time.Second

	defaultLockRetries = 3
	lockBackoffMin     = 100 * time.Millisecond
	lockBackoffMax     = 300 * time.Millisecond

	// CleanupLockKey serializes cleanup sweeps against each other.
	CleanupLockKey = "cleanup"
)

// ResourceLockKey is the advisory lock key for a resource's stock.
func ResourceLockKey(resourceID int64) string {
	return fmt.Sprintf("stock_lock_%d", resourceID)
}

// LockManager provides short-lived per-key mutual exclusion over lock rows in
// the shared store. Locks self-heal through TTL expiry only.
type LockManager struct {
	store      port.StoreRepository
	audit      *AuditLogger
	ttl        time.Duration
	maxRetries int
	log        *zap.Logger
}

func NewLockManager(store port.StoreRepository, audit *AuditLogger, ttl time.Duration, log *zap.Logger) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockManager{
		store:      store,
		audit:      audit,
		ttl:        ttl,
		maxRetries: defaultLockRetries,
		log:        log,
	}
}

// Acquire attempts a conditional insert of the lock row, retrying with a
// randomized 100-300ms sleep on contention. Returns the holder token, or
// domain.ErrLockUnavailable once the retry budget is spent.
func (m *LockManager) Acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < m.maxRetries; attempt++ {
		ok, err := m.store.TryAcquireLock(ctx, key, token, m.ttl)
		if err != nil {
			return "", fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			m.audit.Record("lock_acquired", 0, 0, 0, "", domain.AuditSuccess, key)
			return token, nil
		}

		if attempt < m.maxRetries-1 {
			m.audit.Record("lock_retry", 0, 0, 0, "", domain.AuditWarning,
				fmt.Sprintf("%s attempt %d of %d", key, attempt+1, m.maxRetries))
			select {
			case <-time.After(lockBackoff()):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	m.audit.Record("lock_failed", 0, 0, 0, "", domain.AuditError,
		fmt.Sprintf("%s not acquired after %d attempts", key, m.maxRetries))
	return "", domain.ErrLockUnavailable
}

// Release deletes the lock row matching both key and token. A mismatch means
// the TTL elapsed and someone else holds the key now; that is logged, not
// returned, so release stays safe on every exit path.
func (m *LockManager) Release(ctx context.Context, key, token string) {
	ok, err := m.store.ReleaseLock(ctx, key, token)
	if err != nil {
		m.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		m.audit.Record("lock_release_failed", 0, 0, 0, "", domain.AuditError, key)
		return
	}
	if !ok {
		m.log.Warn("lock already expired or reacquired", zap.String("key", key))
		m.audit.Record("lock_release_failed", 0, 0, 0, "", domain.AuditError, key)
		return
	}
	m.audit.Record("lock_released", 0, 0, 0, "", domain.AuditSuccess, key)
}

func lockBackoff() time.Duration {
	return lockBackoffMin + time.Duration(rand.Int63n(int64(lockBackoffMax-lockBackoffMin)))
}
