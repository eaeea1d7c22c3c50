package model

import "time"

// SeatStatus is the availability state of a seat.  The set of values is
// closed; use Valid to reject anything read from storage that is not one of
// the constants below.
type SeatStatus string

const (
	SeatAvailable     SeatStatus = "AVAILABLE"      // free to be held
	SeatInTransaction SeatStatus = "IN_TRANSACTION" // held by exactly one pending hold
	SeatReserved      SeatStatus = "RESERVED"       // attached to an order awaiting payment
	SeatBooked        SeatStatus = "BOOKED"         // sold; terminal for this subsystem
)

// seatTransitions enumerates every legal seat status change.  Anything not
// listed here is rejected by CanTransition.
var seatTransitions = map[SeatStatus][]SeatStatus{
	SeatAvailable:     {SeatInTransaction},
	SeatInTransaction: {SeatBooked, SeatAvailable},
	SeatReserved:      {SeatBooked, SeatAvailable},
}

// Valid reports whether s is one of the known seat statuses.
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatInTransaction, SeatReserved, SeatBooked:
		return true
	}
	return false
}

// CanTransition reports whether a seat may move from s to next.
func (s SeatStatus) CanTransition(next SeatStatus) bool {
	return contains(seatTransitions[s], next)
}

// Seat describes a sellable seat of a venue.  Seats are created by the
// venue administration flow; this subsystem only changes their status.
//
// Fields:
//  ID        – primary key identifier.
//  VenueID   – venue aggregate owning the seat.
//  Label     – human readable position such as "B-12".
//  Status    – current SeatStatus.
//  UpdatedAt – timestamp of the last status change.
type Seat struct {
	ID        uint64     // seats.id
	VenueID   uint64     // seats.venue_id
	Label     string     // seats.label
	Status    SeatStatus // seats.status
	UpdatedAt time.Time  // seats.updated_at
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
