package model

import "time"

// AdmissionStatus is the persisted state of an admission record.
type AdmissionStatus string

const (
	AdmissionOnline  AdmissionStatus = "ONLINE"  // holds one of the event's capacity slots
	AdmissionWaiting AdmissionStatus = "WAITING" // queued for a slot, FIFO by creation
)

// Valid reports whether s is one of the known admission statuses.
func (s AdmissionStatus) Valid() bool {
	return s == AdmissionOnline || s == AdmissionWaiting
}

// SessionRecord is a user's admission entry for one event.
//
// Fields:
//  ID              – auto-increment id, breaks created_at ties in the queue.
//  EventID         – event the record is scoped to.
//  UserID          – authenticated user.
//  Status          – ONLINE or WAITING.
//  StartTime       – when the current lease started (zero while waiting).
//  ExpectedEndTime – lease deadline (zero while waiting).
//  CreatedAt       – when the user first reached the gate; queue order.
type SessionRecord struct {
	ID              uint64          // admission_sessions.id
	EventID         uint64          // admission_sessions.event_id
	UserID          uint64          // admission_sessions.user_id
	Status          AdmissionStatus // admission_sessions.status
	StartTime       *time.Time      // admission_sessions.start_time (nullable)
	ExpectedEndTime *time.Time      // admission_sessions.expected_end_time (nullable)
	CreatedAt       time.Time       // admission_sessions.created_at
}

// LeaseExpired reports whether an online record's lease, extended by the
// grace tolerance, has run out at now.
func (r SessionRecord) LeaseExpired(now time.Time, tolerance time.Duration) bool {
	if r.Status != AdmissionOnline || r.ExpectedEndTime == nil {
		return false
	}
	return !now.Before(r.ExpectedEndTime.Add(tolerance))
}

// AdmissionGate holds the per-event admission settings.  The row doubles as
// the serialization point for concurrent admissions on the same event.
type AdmissionGate struct {
	EventID  uint64        // admission_gates.event_id
	Capacity int           // admission_gates.capacity
	Lease    time.Duration // admission_gates.lease_seconds
}

// Decision is the outcome of one admission check.
type Decision string

const (
	DecisionOnline  Decision = "online"
	DecisionWaiting Decision = "waiting"
	DecisionEvicted Decision = "evicted"
)
