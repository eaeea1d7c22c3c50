package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/ticketing-admission/internal/database"
	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/queue"
	"github.com/iliyamo/ticketing-admission/internal/repository"
)

// ReservationManager owns every seat and hold status change.  Each operation
// runs in one transaction that checks its precondition with a
// compare-and-swap update, so concurrent callers and the sweepers can never
// both win the same seat.
type ReservationManager struct {
	db      *sql.DB
	seats   *repository.SeatRepo
	holds   *repository.SeatHoldRepo
	logs    *repository.TransactionLogRepo
	orders  *repository.OrderRepo
	holdTTL time.Duration
	maxTTL  time.Duration
	pub     Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewReservationManager wires a manager.  holdTTL is used when a caller
// passes no TTL of its own.  pub, logger and now may be nil.
func NewReservationManager(db *sql.DB, holdTTL time.Duration, pub Publisher, logger *slog.Logger, now func() time.Time) *ReservationManager {
	if pub == nil {
		pub = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if holdTTL <= 0 {
		holdTTL = 10 * time.Minute
	}
	return &ReservationManager{
		db:      db,
		seats:   repository.NewSeatRepo(db),
		holds:   repository.NewSeatHoldRepo(db),
		logs:    repository.NewTransactionLogRepo(db),
		orders:  repository.NewOrderRepo(db),
		holdTTL: holdTTL,
		maxTTL:  holdTTL,
		pub:     pub,
		logger:  logger.With("component", "reservation"),
		now:     now,
	}
}

// SetMaxHoldTTL bounds the TTL a caller may ask for.  Values below the
// default hold TTL are raised to it.
func (m *ReservationManager) SetMaxHoldTTL(d time.Duration) {
	m.maxTTL = max(d, m.holdTTL)
}

// MaxHoldTTL is the longest TTL BeginHold accepts.
func (m *ReservationManager) MaxHoldTTL() time.Duration { return m.maxTTL }

// BeginHold claims a seat for userID for ttl (the default when ttl <= 0).
// A ttl above MaxHoldTTL is rejected with ErrInvalidArgument.  A pending
// hold on the seat that is already past its deadline is expired first, so a
// seat never stays blocked waiting for the sweeper.
func (m *ReservationManager) BeginHold(ctx context.Context, seatID, userID uint64, ttl time.Duration) (model.SeatHold, error) {
	if ttl <= 0 {
		ttl = m.holdTTL
	}
	if ttl > m.maxTTL {
		return model.SeatHold{}, fmt.Errorf("hold ttl %s above %s: %w", ttl, m.maxTTL, ErrInvalidArgument)
	}
	now := m.now().UTC()
	hold := model.SeatHold{
		ID:        uuid.NewString(),
		SeatID:    seatID,
		UserID:    userID,
		Status:    model.HoldPending,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		seat, err := m.seats.GetTx(ctx, tx, seatID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSeatNotFound
		}
		if err != nil {
			return storage("load seat", err)
		}

		stale, err := m.holds.PendingBySeatTx(ctx, tx, seatID)
		switch {
		case err == nil:
			if !stale.ExpiredAt(now) {
				return ErrSeatUnavailable
			}
			if _, err := m.expireTx(ctx, tx, stale, now); err != nil {
				return err
			}
		case !errors.Is(err, repository.ErrNotFound):
			return storage("load pending hold", err)
		}

		ok, err := m.seats.CompareAndSetStatusTx(ctx, tx, seatID, model.SeatAvailable, model.SeatInTransaction, now)
		if err != nil {
			return storage("claim seat", err)
		}
		if !ok {
			return ErrSeatUnavailable
		}
		if err := m.holds.CreateTx(ctx, tx, hold); err != nil {
			return storage("create hold", err)
		}
		return m.appendLog(ctx, tx, model.TransactionLogEntry{
			SeatID: seatID, HoldID: hold.ID, UserID: userID, Action: model.ActionHold,
			PreviousStatus: model.SeatAvailable, NewStatus: model.SeatInTransaction,
			Metadata:  map[string]any{"venue_id": seat.VenueID, "expires_at": hold.ExpiresAt.Format(time.RFC3339)},
			CreatedAt: now,
		})
	})
	if err != nil {
		return model.SeatHold{}, storage("begin hold", err)
	}
	m.logger.Debug("hold created", "hold_id", hold.ID, "seat_id", seatID, "user_id", userID)
	return hold, nil
}

// GetHold returns a hold by id.
func (m *ReservationManager) GetHold(ctx context.Context, holdID string) (model.SeatHold, error) {
	h, err := m.holds.Get(ctx, holdID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.SeatHold{}, ErrHoldNotFound
	}
	if err != nil {
		return model.SeatHold{}, storage("get hold", err)
	}
	return h, nil
}

// ReleaseHold gives the seat back.  Releasing a hold that is no longer
// pending is a no-op.
func (m *ReservationManager) ReleaseHold(ctx context.Context, holdID string) error {
	now := m.now().UTC()
	var released *queue.SeatReleasedEvent

	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		h, err := m.holds.GetTx(ctx, tx, holdID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrHoldNotFound
		}
		if err != nil {
			return storage("load hold", err)
		}
		if h.Status != model.HoldPending {
			return nil
		}
		ok, err := m.holds.TransitionTx(ctx, tx, h.ID, model.HoldPending, model.HoldReleased, now)
		if err != nil {
			return storage("release hold", err)
		}
		if !ok {
			return nil
		}
		released, err = m.freeSeatTx(ctx, tx, h, model.ActionRelease, queue.ReasonReleased, now)
		return err
	})
	if err != nil {
		return storage("release hold", err)
	}
	m.notifyReleased(ctx, released)
	return nil
}

// CompleteHold books the held seat.  The hold must be pending and not past
// its deadline.
func (m *ReservationManager) CompleteHold(ctx context.Context, holdID string) error {
	now := m.now().UTC()
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		h, err := m.holds.GetTx(ctx, tx, holdID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrHoldNotFound
		}
		if err != nil {
			return storage("load hold", err)
		}
		if h.Status != model.HoldPending {
			return ErrInvalidTransition
		}
		if h.ExpiredAt(now) {
			return ErrHoldExpired
		}
		ok, err := m.holds.TransitionTx(ctx, tx, h.ID, model.HoldPending, model.HoldCompleted, now)
		if err != nil {
			return storage("complete hold", err)
		}
		if !ok {
			return ErrInvalidTransition
		}
		ok, err = m.seats.CompareAndSetStatusTx(ctx, tx, h.SeatID, model.SeatInTransaction, model.SeatBooked, now)
		if err != nil {
			return storage("book seat", err)
		}
		if !ok {
			return ErrInvalidTransition
		}
		return m.appendLog(ctx, tx, model.TransactionLogEntry{
			SeatID: h.SeatID, HoldID: h.ID, UserID: h.UserID, Action: model.ActionComplete,
			PreviousStatus: model.SeatInTransaction, NewStatus: model.SeatBooked, CreatedAt: now,
		})
	})
	return storage("complete hold", err)
}

// AttachHold links a pending hold to the order being assembled for the
// same user, so that order reconciliation settles the seat with the order.
func (m *ReservationManager) AttachHold(ctx context.Context, holdID string, orderID uint64) error {
	now := m.now().UTC()
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		h, err := m.holds.GetTx(ctx, tx, holdID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrHoldNotFound
		}
		if err != nil {
			return storage("load hold", err)
		}
		if h.Status != model.HoldPending {
			return ErrInvalidTransition
		}
		if h.ExpiredAt(now) {
			return ErrHoldExpired
		}
		o, err := m.orders.GetTx(ctx, tx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return storage("load order", err)
		}
		if o.Status != model.OrderPending {
			return ErrInvalidTransition
		}
		if o.UserID != h.UserID {
			return repository.ErrForbidden
		}
		ok, err := m.holds.AttachOrderTx(ctx, tx, h.ID, orderID, now)
		if err != nil {
			return storage("attach hold", err)
		}
		if !ok {
			return ErrInvalidTransition
		}
		return nil
	})
	return storage("attach hold", err)
}

// ExpiredHolds lists up to limit pending holds past their deadline, in
// deadline order, starting after the hold after when it is not nil.
func (m *ReservationManager) ExpiredHolds(ctx context.Context, after *model.SeatHold, limit int) ([]model.SeatHold, error) {
	holds, err := m.holds.ListExpiredPending(ctx, m.now().UTC(), after, limit)
	if err != nil {
		return nil, storage("list expired holds", err)
	}
	return holds, nil
}

// ExpireHold moves one pending hold past its deadline to EXPIRED and frees
// its seat.  It reports false when the hold was settled by someone else in
// the meantime or is not expired.
func (m *ReservationManager) ExpireHold(ctx context.Context, holdID string) (bool, error) {
	now := m.now().UTC()
	var released *queue.SeatReleasedEvent
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		h, err := m.holds.GetTx(ctx, tx, holdID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrHoldNotFound
		}
		if err != nil {
			return storage("load hold", err)
		}
		if h.Status != model.HoldPending || !h.ExpiredAt(now) {
			return nil
		}
		released, err = m.expireTx(ctx, tx, h, now)
		return err
	})
	if err != nil {
		return false, storage("expire hold", err)
	}
	m.notifyReleased(ctx, released)
	return released != nil, nil
}

// expireTx marks h EXPIRED and frees its seat.  It returns nil without error
// when the hold was no longer pending.
func (m *ReservationManager) expireTx(ctx context.Context, tx *sql.Tx, h model.SeatHold, now time.Time) (*queue.SeatReleasedEvent, error) {
	ok, err := m.holds.TransitionTx(ctx, tx, h.ID, model.HoldPending, model.HoldExpired, now)
	if err != nil {
		return nil, storage("expire hold", err)
	}
	if !ok {
		return nil, nil
	}
	return m.freeSeatTx(ctx, tx, h, model.ActionExpire, queue.ReasonExpired, now)
}

// freeSeatTx moves the held seat back to AVAILABLE and logs action.  A seat
// that is not IN_TRANSACTION any more is left alone and only the hold
// change is logged.
func (m *ReservationManager) freeSeatTx(ctx context.Context, tx *sql.Tx, h model.SeatHold, action model.TransactionAction, reason string, now time.Time) (*queue.SeatReleasedEvent, error) {
	seat, err := m.seats.GetTx(ctx, tx, h.SeatID)
	if err != nil {
		return nil, storage("load seat", err)
	}
	ok, err := m.seats.CompareAndSetStatusTx(ctx, tx, h.SeatID, model.SeatInTransaction, model.SeatAvailable, now)
	if err != nil {
		return nil, storage("free seat", err)
	}
	entry := model.TransactionLogEntry{
		SeatID: h.SeatID, HoldID: h.ID, UserID: h.UserID, Action: action,
		PreviousStatus: seat.Status, NewStatus: seat.Status, CreatedAt: now,
	}
	if ok {
		entry.NewStatus = model.SeatAvailable
	} else {
		m.logger.Warn("held seat not in transaction", "hold_id", h.ID, "seat_id", h.SeatID, "status", seat.Status)
	}
	if err := m.appendLog(ctx, tx, entry); err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	ev := &queue.SeatReleasedEvent{SeatID: seat.ID, VenueID: seat.VenueID, HoldID: h.ID, Reason: reason, ReleasedAt: now}
	if h.OrderID != nil {
		ev.OrderID = *h.OrderID
	}
	return ev, nil
}

func (m *ReservationManager) appendLog(ctx context.Context, tx *sql.Tx, e model.TransactionLogEntry) error {
	if err := m.logs.AppendTx(ctx, tx, e); err != nil {
		return storage("append transaction log", err)
	}
	return nil
}

func (m *ReservationManager) notifyReleased(ctx context.Context, events ...*queue.SeatReleasedEvent) {
	for _, ev := range events {
		if ev == nil {
			continue
		}
		m.pub.Publish(ctx, queue.SeatReleasedTopic(ev.VenueID), *ev)
	}
}

// SeatHistory returns the audit trail of a seat.
func (m *ReservationManager) SeatHistory(ctx context.Context, seatID uint64) ([]model.TransactionLogEntry, error) {
	entries, err := m.logs.ListBySeat(ctx, seatID)
	if err != nil {
		return nil, storage("seat history", err)
	}
	return entries, nil
}
