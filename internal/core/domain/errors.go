package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLockUnavailable means the advisory lock retry budget was exhausted.
	// Transient: the caller may retry the whole operation.
	ErrLockUnavailable = errors.New("advisory lock unavailable")

	// ErrResourceUnavailable means the resource is missing or unpublished.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrNotFound means the reservation id does not exist.
	ErrNotFound = errors.New("reservation not found")

	// ErrTransientConflict is a store-level deadlock or lock wait timeout.
	// Retried internally; surfaces only after the retry budget is spent.
	ErrTransientConflict = errors.New("transient store conflict")

	// ErrSweepBusy means another cleanup sweep currently holds the global
	// cleanup lock.
	ErrSweepBusy = errors.New("cleanup already in progress")
)

// ValidationError rejects malformed input before any lock is taken.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientStockError carries the available quantity so the caller can
// self-correct and retry with a smaller amount.
type InsufficientStockError struct {
	ResourceID int64
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for resource %d: requested %d, available %d",
		e.ResourceID, e.Requested, e.Available)
}
