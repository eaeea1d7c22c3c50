package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticketing-admission/internal/model"
)

// OrderRepo provides data access to the orders and ticket_orders tables.
// Orders are created by the storefront; this repository only needs enough to
// reconcile orders that outlived their payment window.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the provided database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `id, user_id, status, payment_ref, expired_at, created_at, updated_at`

func scanOrder(s rowScanner) (model.Order, error) {
	var (
		o      model.Order
		status string
		ref    sql.NullString
	)
	if err := s.Scan(&o.ID, &o.UserID, &status, &ref, &o.ExpiredAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return model.Order{}, err
	}
	o.Status = model.OrderStatus(status)
	if ref.Valid {
		v := ref.String
		o.PaymentRef = &v
	}
	o.ExpiredAt = o.ExpiredAt.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

// Create inserts an order and sets o.ID.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
	if o.Status == "" {
		o.Status = model.OrderPending
	}
	var ref any
	if o.PaymentRef != nil {
		ref = *o.PaymentRef
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (user_id, status, payment_ref, expired_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.UserID, string(o.Status), ref, utc(o.ExpiredAt), utc(o.CreatedAt), utc(o.UpdatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	return nil
}

// Get returns an order by id or ErrNotFound.
func (r *OrderRepo) Get(ctx context.Context, id uint64) (model.Order, error) {
	return getOrder(ctx, r.db, id)
}

// GetTx is Get inside a transaction.
func (r *OrderRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Order, error) {
	return getOrder(ctx, tx, id)
}

func getOrder(ctx context.Context, q querier, id uint64) (model.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}

// ListExpiredPending returns up to limit pending orders whose payment window
// closed at or before now, ordered by (expired_at, id).  When after is set
// only orders ordered after it are returned.
func (r *OrderRepo) ListExpiredPending(ctx context.Context, now time.Time, after *model.Order, limit int) ([]model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE status = ? AND expired_at <= ?`
	args := []any{string(model.OrderPending), utc(now)}
	if after != nil {
		q += ` AND (expired_at > ? OR (expired_at = ? AND id > ?))`
		args = append(args, utc(after.ExpiredAt), utc(after.ExpiredAt), after.ID)
	}
	q += ` ORDER BY expired_at, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TransitionTx moves an order between statuses if it is still in from.
func (r *OrderRepo) TransitionTx(ctx context.Context, tx *sql.Tx, id uint64, from, to model.OrderStatus, now time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, ErrConflict
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), utc(now), id, string(from))
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// CreateTicket inserts a ticket_orders row and sets t.ID.
func (r *OrderRepo) CreateTicket(ctx context.Context, t *model.TicketOrder) error {
	if t.Status == "" {
		t.Status = model.TicketEnabled
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO ticket_orders (order_id, ticket_id, seat_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.OrderID, t.TicketID, t.SeatID, string(t.Status), utc(t.CreatedAt), utc(t.UpdatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// TicketsByOrderTx lists the tickets of an order.
func (r *OrderRepo) TicketsByOrderTx(ctx context.Context, tx *sql.Tx, orderID uint64) ([]model.TicketOrder, error) {
	return ticketsByOrder(ctx, tx, orderID)
}

// TicketsByOrder lists the tickets of an order outside a transaction.
func (r *OrderRepo) TicketsByOrder(ctx context.Context, orderID uint64) ([]model.TicketOrder, error) {
	return ticketsByOrder(ctx, r.db, orderID)
}

func ticketsByOrder(ctx context.Context, q querier, orderID uint64) ([]model.TicketOrder, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, ticket_id, seat_id, status, created_at, updated_at
		 FROM ticket_orders WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TicketOrder
	for rows.Next() {
		var (
			t      model.TicketOrder
			status string
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.TicketID, &t.SeatID, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = model.TicketOrderStatus(status)
		t.CreatedAt = t.CreatedAt.UTC()
		t.UpdatedAt = t.UpdatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTicketStatusTx moves a ticket between statuses if it is still in from.
func (r *OrderRepo) SetTicketStatusTx(ctx context.Context, tx *sql.Tx, id uint64, from, to model.TicketOrderStatus, now time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, ErrConflict
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE ticket_orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), utc(now), id, string(from))
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}
