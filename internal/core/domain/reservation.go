package domain

import "time"

type ReservationState string

const (
	ReservationPending   ReservationState = "pending"
	ReservationConfirmed ReservationState = "confirmed"
	ReservationExpired   ReservationState = "expired"
)

// Reservation is a time-bound hold against a resource's stock. It does not
// decrement authoritative stock until confirmed.
type Reservation struct {
	ID         int64
	ResourceID int64
	Quantity   int
	OwnerID    int64
	SessionID  string
	OrderID    int64 // 0 until confirmed
	Version    uint64
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// State is derived, not stored: a confirmed reservation has a non-zero order id,
// a pending one is unconfirmed and not yet past its expiry.
func (r *Reservation) State(now time.Time) ReservationState {
	if r.OrderID != 0 {
		return ReservationConfirmed
	}
	if r.ExpiresAt.After(now) {
		return ReservationPending
	}
	return ReservationExpired
}
