package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/ticketing-admission/internal/model"
)

// TransactionLogRepo appends to and reads the seat_transaction_logs audit
// table.  Rows are never updated or deleted.
type TransactionLogRepo struct {
	db *sql.DB
}

// NewTransactionLogRepo returns a new TransactionLogRepo bound to the provided database.
func NewTransactionLogRepo(db *sql.DB) *TransactionLogRepo { return &TransactionLogRepo{db: db} }

// AppendTx writes one entry in the caller's transaction so that the audit
// row commits or rolls back together with the status change it describes.
func (r *TransactionLogRepo) AppendTx(ctx context.Context, tx *sql.Tx, e model.TransactionLogEntry) error {
	var meta any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO seat_transaction_logs
		 (seat_id, hold_id, user_id, action, previous_status, new_status, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SeatID, e.HoldID, e.UserID, string(e.Action),
		string(e.PreviousStatus), string(e.NewStatus), meta, utc(e.CreatedAt))
	return err
}

// ListBySeat returns the audit trail of a seat in insertion order.
func (r *TransactionLogRepo) ListBySeat(ctx context.Context, seatID uint64) ([]model.TransactionLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, seat_id, hold_id, user_id, action, previous_status, new_status, metadata, created_at
		 FROM seat_transaction_logs WHERE seat_id = ? ORDER BY id`, seatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TransactionLogEntry
	for rows.Next() {
		var (
			e                  model.TransactionLogEntry
			action, prev, next string
			meta               sql.NullString
			createdAt          time.Time
		)
		if err := rows.Scan(&e.ID, &e.SeatID, &e.HoldID, &e.UserID, &action, &prev, &next, &meta, &createdAt); err != nil {
			return nil, err
		}
		e.Action = model.TransactionAction(action)
		e.PreviousStatus = model.SeatStatus(prev)
		e.NewStatus = model.SeatStatus(next)
		e.CreatedAt = createdAt.UTC()
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
