package domain

import "time"

// StockSnapshot is the authoritative stock row as read under a row lock.
// The resource itself is owned by the catalog side; the engine only reads it
// and decrements stock_quantity at confirmation.
type StockSnapshot struct {
	ResourceID    int64
	StockQuantity int
	Published     bool
	UpdatedAt     time.Time
}
