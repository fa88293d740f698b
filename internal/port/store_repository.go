package port

import (
	"context"
	"time"

	"github.com/elidria/stock-reserve/internal/core/domain"
)

// StoreRepository is the single authoritative relational store. All
// synchronization state (locks, versions, reservations) lives here; no
// in-process state may be trusted across calls.
type StoreRepository interface {
	// TryAcquireLock conditionally inserts a lock row for key, failing if a
	// non-expired row already exists. Returns false on contention.
	TryAcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseLock deletes the lock row matching both key and token, so a
	// stale holder can never release a lock it no longer owns.
	ReleaseLock(ctx context.Context, key, token string) (bool, error)

	// BumpVersion upsert-increments the resource's version ledger and returns
	// the new value. Runs outside the reservation transaction so the bump
	// survives a rolled-back attempt; callers hold the resource's advisory
	// lock, which serializes attempts.
	BumpVersion(ctx context.Context, resourceID int64) (uint64, error)

	// Begin opens a transaction for the reserve/confirm/cleanup paths.
	Begin(ctx context.Context) (StoreTx, error)

	// ReservationByID returns the reservation or nil if absent.
	ReservationByID(ctx context.Context, id int64) (*domain.Reservation, error)

	// SessionReservations returns live pending reservations for a session.
	SessionReservations(ctx context.Context, sessionID string, now time.Time) ([]domain.Reservation, error)

	// Availability computes stock minus live pending holds without locking.
	// Returns domain.ErrResourceUnavailable if missing or unpublished.
	Availability(ctx context.Context, resourceID int64, now time.Time) (int, error)

	// DeleteReservation removes a single reservation row. Returns false if
	// the row was already gone.
	DeleteReservation(ctx context.Context, id int64) (bool, error)

	// AppendAudit appends one row to the operation trail.
	AppendAudit(ctx context.Context, e domain.AuditEntry) error
}

// StoreTx groups the operations that must share one transaction. Commit or
// Rollback must be called exactly once; Rollback after Commit is a no-op.
type StoreTx interface {
	// StockForUpdate row-locks and reads the authoritative stock row.
	// Returns nil if the resource does not exist. A store-level deadlock is
	// reported as domain.ErrTransientConflict.
	StockForUpdate(ctx context.Context, resourceID int64) (*domain.StockSnapshot, error)

	// PendingQuantity sums live pending reservation quantities for a resource.
	PendingQuantity(ctx context.Context, resourceID int64, now time.Time) (int, error)

	// InsertReservation persists a new pending reservation, returning its id.
	InsertReservation(ctx context.Context, r *domain.Reservation) (int64, error)

	// ReservationForUpdate row-locks and re-reads a reservation, or nil if gone.
	ReservationForUpdate(ctx context.Context, id int64) (*domain.Reservation, error)

	// ConfirmReservation sets the order id and pushes out the expiry.
	ConfirmReservation(ctx context.Context, id, orderID int64, expiresAt time.Time) error

	// DecrementStock subtracts quantity from the authoritative stock row.
	DecrementStock(ctx context.Context, resourceID int64, quantity int) error

	// ExpiredForUpdate row-locks all expired, unconfirmed reservations.
	ExpiredForUpdate(ctx context.Context, now time.Time) ([]domain.Reservation, error)

	// DeleteExpired removes expired, unconfirmed reservations, returning the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	Commit() error
	Rollback() error
}
