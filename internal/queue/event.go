// Package queue defines the notification payloads exchanged over the
// message broker, the routing keys they travel under and a reconnecting
// consumer for them.
package queue

import (
	"fmt"
	"time"
)

// Notification kinds, used as the last routing key segment.
const (
	KindUserPromoted = "user.promoted"
	KindSeatReleased = "released"
)

// Reasons carried by SeatReleasedEvent.
const (
	ReasonReleased       = "released"
	ReasonExpired        = "expired"
	ReasonOrderCancelled = "order_cancelled"
)

// EventTopic returns the routing key for an event scoped notification,
// "event.<event_id>.<kind>".
func EventTopic(eventID uint64, kind string) string {
	return fmt.Sprintf("event.%d.%s", eventID, kind)
}

// SeatReleasedTopic returns "seat.<venue_id>.released".  Seats belong to a
// venue rather than an event, so seat notifications are partitioned by venue.
func SeatReleasedTopic(venueID uint64) string {
	return fmt.Sprintf("seat.%d.%s", venueID, KindSeatReleased)
}

// UserPromotedEvent is published when a waiting user is moved online.
type UserPromotedEvent struct {
	EventID         uint64    `json:"event_id"`
	UserID          uint64    `json:"user_id"`
	ExpectedEndTime time.Time `json:"expected_end_time"`
	PromotedAt      time.Time `json:"promoted_at"`
}

// SeatReleasedEvent is published when a seat becomes available again after
// a hold was released or expired or its order was cancelled.
type SeatReleasedEvent struct {
	SeatID     uint64    `json:"seat_id"`
	VenueID    uint64    `json:"venue_id"`
	HoldID     string    `json:"hold_id,omitempty"`
	OrderID    uint64    `json:"order_id,omitempty"`
	Reason     string    `json:"reason"`
	ReleasedAt time.Time `json:"released_at"`
}
