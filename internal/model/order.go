package model

import "time"

// OrderStatus is the payment state of an order.  Completed and cancelled
// orders are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderCompleted, OrderCancelled},
}

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return contains(orderTransitions[s], next)
}

// Order is the checkout aggregate created by the storefront.  This
// subsystem only reconciles orders that outlived ExpiredAt.
type Order struct {
	ID         uint64      // orders.id
	UserID     uint64      // orders.user_id
	Status     OrderStatus // orders.status
	PaymentRef *string     // orders.payment_ref (nullable)
	ExpiredAt  time.Time   // orders.expired_at
	CreatedAt  time.Time   // orders.created_at
	UpdatedAt  time.Time   // orders.updated_at
}

// TicketOrderStatus tracks the usability of an issued ticket independently
// of seat and order status.
type TicketOrderStatus string

const (
	TicketEnabled     TicketOrderStatus = "ENABLED"
	TicketScanned     TicketOrderStatus = "SCANNED"
	TicketDeactivated TicketOrderStatus = "DEACTIVATED"
)

var ticketTransitions = map[TicketOrderStatus][]TicketOrderStatus{
	TicketEnabled: {TicketScanned, TicketDeactivated},
	TicketScanned: {TicketDeactivated},
}

// Valid reports whether s is one of the known ticket statuses.
func (s TicketOrderStatus) Valid() bool {
	switch s {
	case TicketEnabled, TicketScanned, TicketDeactivated:
		return true
	}
	return false
}

// CanTransition reports whether a ticket may move from s to next.
func (s TicketOrderStatus) CanTransition(next TicketOrderStatus) bool {
	return contains(ticketTransitions[s], next)
}

// TicketOrder links an order to the ticket issued for one seat.
type TicketOrder struct {
	ID        uint64            // ticket_orders.id
	OrderID   uint64            // ticket_orders.order_id
	TicketID  uint64            // ticket_orders.ticket_id
	SeatID    uint64            // ticket_orders.seat_id
	Status    TicketOrderStatus // ticket_orders.status
	CreatedAt time.Time         // ticket_orders.created_at
	UpdatedAt time.Time         // ticket_orders.updated_at
}
