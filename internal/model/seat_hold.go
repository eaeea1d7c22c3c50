package model

import "time"

// HoldStatus is the lifecycle state of a seat hold.
type HoldStatus string

const (
	HoldPending   HoldStatus = "PENDING"   // active claim on the seat
	HoldExpired   HoldStatus = "EXPIRED"   // reclaimed after expires_at
	HoldCompleted HoldStatus = "COMPLETED" // checkout finished, seat booked
	HoldReleased  HoldStatus = "RELEASED"  // given back before expiry
)

// Only a pending hold may change; every other status is terminal.
var holdTransitions = map[HoldStatus][]HoldStatus{
	HoldPending: {HoldExpired, HoldCompleted, HoldReleased},
}

// Valid reports whether s is one of the known hold statuses.
func (s HoldStatus) Valid() bool {
	switch s {
	case HoldPending, HoldExpired, HoldCompleted, HoldReleased:
		return true
	}
	return false
}

// CanTransition reports whether a hold may move from s to next.
func (s HoldStatus) CanTransition(next HoldStatus) bool {
	return contains(holdTransitions[s], next)
}

// Terminal reports whether no further transition is possible from s.
func (s HoldStatus) Terminal() bool { return len(holdTransitions[s]) == 0 }

// SeatHold represents a time-boxed exclusive claim on a seat during the
// checkout process.  At most one hold per seat may be pending at any time.
// A hold may optionally be linked to the order being assembled so that the
// order sweep can settle it together with the order.
//
// Fields:
//  ID        – UUID returned to the client as the hold reference.
//  SeatID    – seat being held.
//  UserID    – user who holds the seat.
//  OrderID   – order the hold was attached to (nil until attached).
//  Status    – current HoldStatus.
//  ExpiresAt – when the hold lapses.
//  CreatedAt – when the hold was created.
//  UpdatedAt – when the hold last changed status.
type SeatHold struct {
	ID        string     // seat_holds.id
	SeatID    uint64     // seat_holds.seat_id
	UserID    uint64     // seat_holds.user_id
	OrderID   *uint64    // seat_holds.order_id (nullable)
	Status    HoldStatus // seat_holds.status
	ExpiresAt time.Time  // seat_holds.expires_at
	CreatedAt time.Time  // seat_holds.created_at
	UpdatedAt time.Time  // seat_holds.updated_at
}

// ExpiredAt reports whether the hold's deadline has passed at now.
func (h SeatHold) ExpiredAt(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}
