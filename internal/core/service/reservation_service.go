package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elidria/stock-reserve/internal/core/domain"
	"github.com/elidria/stock-reserve/internal/port"
)

const (
	// ReservationTTL bounds how long a pending hold blocks other buyers.
	ReservationTTL = 15 * time.Minute

	// ConfirmGracePeriod keeps confirmed rows around for audit before the
	// retention job archives them.
	ConfirmGracePeriod = 24 * time.Hour

	maxDeadlockRetries = 3
	deadlockRetryBase  = 100 * time.Millisecond
)

// ReserveResult is the handle returned to a successful caller.
type ReserveResult struct {
	ReservationID int64
	ExpiresAt     time.Time
}

// ReservationService coordinates the reservation lifecycle. Every mutating
// operation follows the same discipline: acquire the advisory lock, run one
// transaction, release the lock on every exit path.
type ReservationService struct {
	store port.StoreRepository
	cache port.CacheRepository
	locks *LockManager
	audit *AuditLogger
	log   *zap.Logger
	now   func() time.Time
}

func NewReservationService(store port.StoreRepository, cache port.CacheRepository, locks *LockManager, audit *AuditLogger, log *zap.Logger) *ReservationService {
	return &ReservationService{
		store: store,
		cache: cache,
		locks: locks,
		audit: audit,
		log:   log,
		now:   time.Now,
	}
}

// Reserve admits a hold of quantity units against resourceID if available
// stock (authoritative stock minus live pending holds) suffices. The version
// ledger is bumped on every attempt regardless of outcome.
func (s *ReservationService) Reserve(ctx context.Context, resourceID int64, quantity int, ownerID int64, sessionID string) (*ReserveResult, error) {
	if err := validateReserveInput(resourceID, quantity); err != nil {
		s.audit.Record("validation_failed", resourceID, quantity, ownerID, sessionID, domain.AuditError, err.Error())
		return nil, err
	}

	token, err := s.locks.Acquire(ctx, ResourceLockKey(resourceID))
	if err != nil {
		return nil, err
	}
	defer s.locks.Release(ctx, ResourceLockKey(resourceID), token)

	// The bump happens before the transaction opens so the ledger records
	// this attempt even if it ends in a rollback.
	version, err := s.store.BumpVersion(ctx, resourceID)
	if err != nil {
		s.audit.Record("reservation_failed", resourceID, quantity, ownerID, sessionID, domain.AuditError, err.Error())
		return nil, fmt.Errorf("bump version: %w", err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	snap, err := s.readStockLocked(ctx, tx, resourceID)
	if err != nil {
		s.audit.Record("reservation_failed", resourceID, quantity, ownerID, sessionID, domain.AuditError, err.Error())
		return nil, err
	}
	if snap == nil || !snap.Published {
		s.audit.Record("reservation_failed", resourceID, quantity, ownerID, sessionID, domain.AuditError, "resource missing or unpublished")
		return nil, domain.ErrResourceUnavailable
	}

	now := s.now()
	reserved, err := tx.PendingQuantity(ctx, resourceID, now)
	if err != nil {
		s.audit.Record("reservation_failed", resourceID, quantity, ownerID, sessionID, domain.AuditError, err.Error())
		return nil, fmt.Errorf("sum pending reservations: %w", err)
	}

	available := snap.StockQuantity - reserved
	if available < quantity {
		s.audit.Record("insufficient_stock", resourceID, quantity, ownerID, sessionID, domain.AuditWarning,
			fmt.Sprintf("requested %d, available %d", quantity, available))
		return nil, &domain.InsufficientStockError{
			ResourceID: resourceID,
			Requested:  quantity,
			Available:  available,
		}
	}

	r := &domain.Reservation{
		ResourceID: resourceID,
		Quantity:   quantity,
		OwnerID:    ownerID,
		SessionID:  sessionID,
		Version:    version,
		ExpiresAt:  now.Add(ReservationTTL),
		CreatedAt:  now,
	}
	id, err := tx.InsertReservation(ctx, r)
	if err != nil {
		s.audit.Record("reservation_failed", resourceID, quantity, ownerID, sessionID, domain.AuditError, err.Error())
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		s.audit.Record("reservation_failed", resourceID, quantity, ownerID, sessionID, domain.AuditError, err.Error())
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	s.audit.Record("reservation_success", resourceID, quantity, ownerID, sessionID, domain.AuditSuccess,
		fmt.Sprintf("reservation %d", id))
	s.publishAvailability(ctx, resourceID, available-quantity)

	return &ReserveResult{ReservationID: id, ExpiresAt: r.ExpiresAt}, nil
}

// Confirm attaches an order to a pending reservation, decrements authoritative
// stock by its quantity and extends the expiry into the retention grace window.
// A reservation swept between lookup and lock is a terminal NotFound.
func (s *ReservationService) Confirm(ctx context.Context, reservationID, orderID int64) error {
	r, err := s.store.ReservationByID(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("lookup reservation %d: %w", reservationID, err)
	}
	if r == nil {
		s.audit.Record("confirm_not_found", 0, 0, 0, "", domain.AuditError,
			fmt.Sprintf("reservation %d", reservationID))
		return domain.ErrNotFound
	}

	key := ResourceLockKey(r.ResourceID)
	token, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer s.locks.Release(ctx, key, token)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := tx.ReservationForUpdate(ctx, reservationID)
	if err != nil {
		s.audit.Record("confirm_failed", r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, domain.AuditError, err.Error())
		return fmt.Errorf("lock reservation %d: %w", reservationID, err)
	}
	if locked == nil {
		// The cleanup sweep got here first.
		s.audit.Record("confirm_not_found", r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, domain.AuditError,
			fmt.Sprintf("reservation %d swept before confirm", reservationID))
		return domain.ErrNotFound
	}

	expiresAt := s.now().Add(ConfirmGracePeriod)
	if err := tx.ConfirmReservation(ctx, reservationID, orderID, expiresAt); err != nil {
		s.audit.Record("confirm_failed", r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, domain.AuditError, err.Error())
		return fmt.Errorf("confirm reservation %d: %w", reservationID, err)
	}
	if err := tx.DecrementStock(ctx, locked.ResourceID, locked.Quantity); err != nil {
		s.audit.Record("confirm_failed", r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, domain.AuditError, err.Error())
		return fmt.Errorf("decrement stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		s.audit.Record("confirm_failed", r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, domain.AuditError, err.Error())
		return fmt.Errorf("commit confirm: %w", err)
	}

	s.audit.Record("confirm_success", locked.ResourceID, locked.Quantity, locked.OwnerID, locked.SessionID, domain.AuditSuccess,
		fmt.Sprintf("order %d, reservation %d", orderID, reservationID))
	s.invalidateAvailability(ctx, locked.ResourceID)

	return nil
}

// Cancel deletes a reservation outright. Pending holds never decremented
// authoritative stock, so there is nothing to restore.
func (s *ReservationService) Cancel(ctx context.Context, reservationID int64) error {
	r, err := s.store.ReservationByID(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("lookup reservation %d: %w", reservationID, err)
	}
	if r == nil {
		s.audit.Record("cancel_not_found", 0, 0, 0, "", domain.AuditError,
			fmt.Sprintf("reservation %d", reservationID))
		return domain.ErrNotFound
	}

	deleted, err := s.store.DeleteReservation(ctx, reservationID)
	if err != nil {
		s.audit.Record("cancel_failed", r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, domain.AuditError, err.Error())
		return fmt.Errorf("delete reservation %d: %w", reservationID, err)
	}
	if !deleted {
		s.audit.Record("cancel_not_found", r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, domain.AuditError,
			fmt.Sprintf("reservation %d", reservationID))
		return domain.ErrNotFound
	}

	s.audit.Record("cancel_success", r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, domain.AuditSuccess,
		fmt.Sprintf("reservation %d", reservationID))
	s.invalidateAvailability(ctx, r.ResourceID)

	return nil
}

// CleanupExpired deletes all expired, unconfirmed reservations under the
// global cleanup lock. Safe to re-run: with nothing expired it deletes nothing.
// Returns domain.ErrSweepBusy when another sweep holds the lock.
func (s *ReservationService) CleanupExpired(ctx context.Context) (int64, error) {
	token, err := s.locks.Acquire(ctx, CleanupLockKey)
	if err != nil {
		if errors.Is(err, domain.ErrLockUnavailable) {
			s.audit.Record("cleanup_lock_failed", 0, 0, 0, "", domain.AuditError, "cleanup lock held")
			return 0, domain.ErrSweepBusy
		}
		return 0, err
	}
	defer s.locks.Release(ctx, CleanupLockKey, token)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	expired, err := tx.ExpiredForUpdate(ctx, now)
	if err != nil {
		s.audit.Record("cleanup_failed", 0, 0, 0, "", domain.AuditError, err.Error())
		return 0, fmt.Errorf("select expired reservations: %w", err)
	}

	if len(expired) == 0 {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit cleanup: %w", err)
		}
		return 0, nil
	}

	for _, r := range expired {
		s.audit.Record("cleanup_item", r.ResourceID, r.Quantity, r.OwnerID, r.SessionID, domain.AuditInfo,
			fmt.Sprintf("reservation %d", r.ID))
	}

	deleted, err := tx.DeleteExpired(ctx, now)
	if err != nil {
		s.audit.Record("cleanup_failed", 0, 0, 0, "", domain.AuditError, err.Error())
		return 0, fmt.Errorf("delete expired reservations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		s.audit.Record("cleanup_failed", 0, 0, 0, "", domain.AuditError, err.Error())
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}

	s.audit.Record("cleanup_success", 0, 0, 0, "", domain.AuditSuccess,
		fmt.Sprintf("deleted %d expired reservations", deleted))
	for _, r := range expired {
		s.invalidateAvailability(ctx, r.ResourceID)
	}

	return deleted, nil
}

// SessionReservations lists live pending reservations held by a session.
func (s *ReservationService) SessionReservations(ctx context.Context, sessionID string) ([]domain.Reservation, error) {
	if sessionID == "" {
		return nil, &domain.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}

	rs, err := s.store.SessionReservations(ctx, sessionID, s.now())
	if err != nil {
		return nil, fmt.Errorf("session reservations: %w", err)
	}

	if len(rs) > 0 {
		s.audit.Record("get_session_reservations", 0, 0, 0, sessionID, domain.AuditInfo,
			fmt.Sprintf("%d active reservations", len(rs)))
	}
	return rs, nil
}

// Availability reports current availability for display purposes. Served from
// the hint cache when possible; the reserve path never reads this.
func (s *ReservationService) Availability(ctx context.Context, resourceID int64) (int, error) {
	if resourceID <= 0 {
		return 0, &domain.ValidationError{Field: "resource_id", Reason: "must be a positive integer"}
	}

	if s.cache != nil {
		if v, ok, err := s.cache.CachedAvailability(ctx, resourceID); err == nil && ok {
			return v, nil
		}
	}

	available, err := s.store.Availability(ctx, resourceID, s.now())
	if err != nil {
		return 0, err
	}

	s.publishAvailability(ctx, resourceID, available)
	return available, nil
}

// readStockLocked retries the row-locking stock read on transient store
// conflicts with doubling backoff, inside the already-open transaction.
// Exhaustion re-raises the conflict so the caller aborts.
func (s *ReservationService) readStockLocked(ctx context.Context, tx port.StoreTx, resourceID int64) (*domain.StockSnapshot, error) {
	var lastErr error

	for attempt := 0; attempt < maxDeadlockRetries; attempt++ {
		snap, err := tx.StockForUpdate(ctx, resourceID)
		if err == nil {
			if attempt > 0 {
				s.audit.Record("deadlock_resolved", resourceID, 0, 0, "", domain.AuditWarning,
					fmt.Sprintf("resolved after %d retries", attempt))
			}
			return snap, nil
		}
		if !errors.Is(err, domain.ErrTransientConflict) {
			return nil, err
		}

		lastErr = err
		if attempt < maxDeadlockRetries-1 {
			s.audit.Record("deadlock_retry", resourceID, 0, 0, "", domain.AuditWarning,
				fmt.Sprintf("attempt %d of %d", attempt+1, maxDeadlockRetries))
			select {
			case <-time.After(deadlockRetryBase << attempt):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	s.audit.Record("deadlock_failed", resourceID, 0, 0, "", domain.AuditError, lastErr.Error())
	return nil, lastErr
}

func (s *ReservationService) publishAvailability(ctx context.Context, resourceID int64, available int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.PublishAvailability(ctx, resourceID, available); err != nil {
		s.log.Debug("availability hint publish failed",
			zap.Int64("resource_id", resourceID), zap.Error(err))
	}
}

func (s *ReservationService) invalidateAvailability(ctx context.Context, resourceID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAvailability(ctx, resourceID); err != nil {
		s.log.Debug("availability hint invalidate failed",
			zap.Int64("resource_id", resourceID), zap.Error(err))
	}
}

func validateReserveInput(resourceID int64, quantity int) error {
	if resourceID <= 0 {
		return &domain.ValidationError{Field: "resource_id", Reason: "must be a positive integer"}
	}
	if quantity < 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	return nil
}
