package port

import "context"

// CacheRepository is a best-effort availability hint cache. It is never
// consulted for admission decisions; the relational store stays the sole
// synchronization point.
type CacheRepository interface {
	// PublishAvailability stores the latest computed availability for a resource.
	PublishAvailability(ctx context.Context, resourceID int64, available int) error

	// CachedAvailability returns the hint and whether one was present.
	CachedAvailability(ctx context.Context, resourceID int64) (int, bool, error)

	// InvalidateAvailability drops the hint after a mutation.
	InvalidateAvailability(ctx context.Context, resourceID int64) error
}
