package model

import "time"

// TransactionAction names the operation recorded in the audit log.
type TransactionAction string

const (
	ActionHold          TransactionAction = "HOLD"
	ActionRelease       TransactionAction = "RELEASE"
	ActionComplete      TransactionAction = "COMPLETE"
	ActionExpire        TransactionAction = "EXPIRE"
	ActionOrderCancel   TransactionAction = "ORDER_CANCEL"
	ActionOrderComplete TransactionAction = "ORDER_COMPLETE"
)

// TransactionLogEntry is one append-only audit row describing a seat status
// change.  Entries are never updated or deleted.
type TransactionLogEntry struct {
	ID             uint64            // seat_transaction_logs.id
	SeatID         uint64            // seat_transaction_logs.seat_id
	HoldID         string            // seat_transaction_logs.hold_id ("" when no hold was involved)
	UserID         uint64            // seat_transaction_logs.user_id
	Action         TransactionAction // seat_transaction_logs.action
	PreviousStatus SeatStatus        // seat_transaction_logs.previous_status
	NewStatus      SeatStatus        // seat_transaction_logs.new_status
	Metadata       map[string]any    // seat_transaction_logs.metadata (JSON)
	CreatedAt      time.Time         // seat_transaction_logs.created_at
}
