package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticketing-admission/internal/model"
)

// SeatHoldRepo provides data access to the seat_holds table.  All
// timestamps are written in UTC and expiry comparisons take the caller's
// clock instead of the database clock so that every node and every test
// agrees on what "now" is.
type SeatHoldRepo struct {
	db *sql.DB
}

// NewSeatHoldRepo returns a new SeatHoldRepo bound to the provided database.
func NewSeatHoldRepo(db *sql.DB) *SeatHoldRepo { return &SeatHoldRepo{db: db} }

const holdColumns = `id, seat_id, user_id, order_id, status, expires_at, created_at, updated_at`

func scanHold(s rowScanner) (model.SeatHold, error) {
	var (
		h       model.SeatHold
		orderID sql.NullInt64
		status  string
	)
	if err := s.Scan(&h.ID, &h.SeatID, &h.UserID, &orderID, &status, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return model.SeatHold{}, err
	}
	if orderID.Valid {
		id := uint64(orderID.Int64)
		h.OrderID = &id
	}
	h.Status = model.HoldStatus(status)
	h.ExpiresAt = h.ExpiresAt.UTC()
	h.CreatedAt = h.CreatedAt.UTC()
	h.UpdatedAt = h.UpdatedAt.UTC()
	return h, nil
}

func collectHolds(rows *sql.Rows) ([]model.SeatHold, error) {
	defer rows.Close()
	var out []model.SeatHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CreateTx inserts a hold.  The caller supplies the id.
func (r *SeatHoldRepo) CreateTx(ctx context.Context, tx *sql.Tx, h model.SeatHold) error {
	var orderID any
	if h.OrderID != nil {
		orderID = *h.OrderID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO seat_holds (`+holdColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.SeatID, h.UserID, orderID, string(h.Status),
		utc(h.ExpiresAt), utc(h.CreatedAt), utc(h.UpdatedAt))
	return err
}

// Get returns a hold by id or ErrNotFound.
func (r *SeatHoldRepo) Get(ctx context.Context, id string) (model.SeatHold, error) {
	return getHold(ctx, r.db, id)
}

// GetTx is Get inside a transaction.
func (r *SeatHoldRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (model.SeatHold, error) {
	return getHold(ctx, tx, id)
}

func getHold(ctx context.Context, q querier, id string) (model.SeatHold, error) {
	h, err := scanHold(q.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM seat_holds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SeatHold{}, ErrNotFound
	}
	return h, err
}

// PendingBySeatTx returns the pending hold of a seat or ErrNotFound.
func (r *SeatHoldRepo) PendingBySeatTx(ctx context.Context, tx *sql.Tx, seatID uint64) (model.SeatHold, error) {
	h, err := scanHold(tx.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM seat_holds WHERE seat_id = ? AND status = ? ORDER BY created_at LIMIT 1`,
		seatID, string(model.HoldPending)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SeatHold{}, ErrNotFound
	}
	return h, err
}

// CountPendingBySeat counts pending holds of a seat.  Anything above one is
// a broken invariant.
func (r *SeatHoldRepo) CountPendingBySeat(ctx context.Context, seatID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seat_holds WHERE seat_id = ? AND status = ?`,
		seatID, string(model.HoldPending)).Scan(&n)
	return n, err
}

// TransitionTx moves a hold between statuses if it is still in from.
func (r *SeatHoldRepo) TransitionTx(ctx context.Context, tx *sql.Tx, id string, from, to model.HoldStatus, now time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, ErrConflict
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE seat_holds SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), utc(now), id, string(from))
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// ListExpiredPending returns up to limit pending holds whose deadline is at
// or before now, ordered by (expires_at, id).  When after is set only holds
// ordered after it are returned, so a caller can page past holds it could
// not settle.
func (r *SeatHoldRepo) ListExpiredPending(ctx context.Context, now time.Time, after *model.SeatHold, limit int) ([]model.SeatHold, error) {
	q := `SELECT ` + holdColumns + ` FROM seat_holds WHERE status = ? AND expires_at <= ?`
	args := []any{string(model.HoldPending), utc(now)}
	if after != nil {
		q += ` AND (expires_at > ? OR (expires_at = ? AND id > ?))`
		args = append(args, utc(after.ExpiresAt), utc(after.ExpiresAt), after.ID)
	}
	q += ` ORDER BY expires_at, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	return collectHolds(rows)
}

// AttachOrderTx links a pending hold to an order.
func (r *SeatHoldRepo) AttachOrderTx(ctx context.Context, tx *sql.Tx, id string, orderID uint64, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE seat_holds SET order_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		orderID, utc(now), id, string(model.HoldPending))
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// PendingByOrderTx lists the pending holds linked to an order.
func (r *SeatHoldRepo) PendingByOrderTx(ctx context.Context, tx *sql.Tx, orderID uint64) ([]model.SeatHold, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM seat_holds WHERE order_id = ? AND status = ? ORDER BY created_at, id`,
		orderID, string(model.HoldPending))
	if err != nil {
		return nil, err
	}
	return collectHolds(rows)
}
