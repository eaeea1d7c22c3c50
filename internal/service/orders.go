package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticketing-admission/internal/database"
	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/queue"
	"github.com/iliyamo/ticketing-admission/internal/repository"
)

// ExpiredOrders lists up to limit pending orders past their payment window,
// in deadline order, starting after the order after when it is not nil.
func (m *ReservationManager) ExpiredOrders(ctx context.Context, after *model.Order, limit int) ([]model.Order, error) {
	orders, err := m.orders.ListExpiredPending(ctx, m.now().UTC(), after, limit)
	if err != nil {
		return nil, storage("list expired orders", err)
	}
	return orders, nil
}

// FinalizeOrder settles one pending order in a single transaction.  A paid
// order is completed and its seats booked; an unpaid one is cancelled, its
// seats returned and its tickets deactivated.  It reports false when the
// order was already final.
func (m *ReservationManager) FinalizeOrder(ctx context.Context, orderID uint64, paid bool) (bool, error) {
	now := m.now().UTC()
	var (
		settled  bool
		released []*queue.SeatReleasedEvent
	)
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		o, err := m.orders.GetTx(ctx, tx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return storage("load order", err)
		}
		if o.Status != model.OrderPending {
			return nil
		}
		to := model.OrderCancelled
		if paid {
			to = model.OrderCompleted
		}
		ok, err := m.orders.TransitionTx(ctx, tx, o.ID, model.OrderPending, to, now)
		if err != nil {
			return storage("settle order", err)
		}
		if !ok {
			return nil
		}
		settled = true
		if paid {
			return m.completeOrderTx(ctx, tx, o, now)
		}
		released, err = m.cancelOrderTx(ctx, tx, o, now)
		return err
	})
	if err != nil {
		return false, storage("finalize order", err)
	}
	m.notifyReleased(ctx, released...)
	return settled, nil
}

func (m *ReservationManager) completeOrderTx(ctx context.Context, tx *sql.Tx, o model.Order, now time.Time) error {
	holds, err := m.holds.PendingByOrderTx(ctx, tx, o.ID)
	if err != nil {
		return storage("list order holds", err)
	}
	for _, h := range holds {
		ok, err := m.holds.TransitionTx(ctx, tx, h.ID, model.HoldPending, model.HoldCompleted, now)
		if err != nil {
			return storage("complete hold", err)
		}
		if !ok {
			continue
		}
		if err := m.moveSeatTx(ctx, tx, h.SeatID, h.ID, o, model.SeatInTransaction, model.SeatBooked, model.ActionOrderComplete, now); err != nil {
			return err
		}
	}
	tickets, err := m.orders.TicketsByOrderTx(ctx, tx, o.ID)
	if err != nil {
		return storage("list tickets", err)
	}
	for _, t := range tickets {
		seat, err := m.seats.GetTx(ctx, tx, t.SeatID)
		if err != nil {
			return storage("load seat", err)
		}
		if seat.Status != model.SeatReserved {
			continue
		}
		if err := m.moveSeatTx(ctx, tx, t.SeatID, "", o, model.SeatReserved, model.SeatBooked, model.ActionOrderComplete, now); err != nil {
			return err
		}
	}
	return nil
}

func (m *ReservationManager) cancelOrderTx(ctx context.Context, tx *sql.Tx, o model.Order, now time.Time) ([]*queue.SeatReleasedEvent, error) {
	var released []*queue.SeatReleasedEvent
	holds, err := m.holds.PendingByOrderTx(ctx, tx, o.ID)
	if err != nil {
		return nil, storage("list order holds", err)
	}
	for _, h := range holds {
		ok, err := m.holds.TransitionTx(ctx, tx, h.ID, model.HoldPending, model.HoldReleased, now)
		if err != nil {
			return nil, storage("release hold", err)
		}
		if !ok {
			continue
		}
		ev, err := m.freeSeatTx(ctx, tx, h, model.ActionOrderCancel, queue.ReasonOrderCancelled, now)
		if err != nil {
			return nil, err
		}
		released = append(released, ev)
	}

	tickets, err := m.orders.TicketsByOrderTx(ctx, tx, o.ID)
	if err != nil {
		return nil, storage("list tickets", err)
	}
	for _, t := range tickets {
		seat, err := m.seats.GetTx(ctx, tx, t.SeatID)
		if err != nil {
			return nil, storage("load seat", err)
		}
		if seat.Status == model.SeatReserved {
			if err := m.moveSeatTx(ctx, tx, t.SeatID, "", o, model.SeatReserved, model.SeatAvailable, model.ActionOrderCancel, now); err != nil {
				return nil, err
			}
			released = append(released, &queue.SeatReleasedEvent{
				SeatID: seat.ID, VenueID: seat.VenueID, OrderID: o.ID,
				Reason: queue.ReasonOrderCancelled, ReleasedAt: now,
			})
		}
		if t.Status.CanTransition(model.TicketDeactivated) {
			if _, err := m.orders.SetTicketStatusTx(ctx, tx, t.ID, t.Status, model.TicketDeactivated, now); err != nil {
				return nil, storage("deactivate ticket", err)
			}
		}
	}
	return released, nil
}

// moveSeatTx applies a seat transition for an order and logs it.  A seat
// that is not in from is skipped; it was settled by another path.
func (m *ReservationManager) moveSeatTx(ctx context.Context, tx *sql.Tx, seatID uint64, holdID string, o model.Order, from, to model.SeatStatus, action model.TransactionAction, now time.Time) error {
	ok, err := m.seats.CompareAndSetStatusTx(ctx, tx, seatID, from, to, now)
	if err != nil {
		return storage("update seat", err)
	}
	if !ok {
		m.logger.Warn("order seat not in expected status", "order_id", o.ID, "seat_id", seatID, "expected", from)
		return nil
	}
	return m.appendLog(ctx, tx, model.TransactionLogEntry{
		SeatID: seatID, HoldID: holdID, UserID: o.UserID, Action: action,
		PreviousStatus: from, NewStatus: to,
		Metadata:  map[string]any{"order_id": o.ID},
		CreatedAt: now,
	})
}
