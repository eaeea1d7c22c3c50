package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticketing-admission/internal/model"
)

// SeatRepo provides data access to the seats table.  Status changes are
// always compare-and-swap updates so that two writers can never both move
// a seat out of the same state.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo returns a new SeatRepo bound to the provided database.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

// Create inserts a seat and sets s.ID.  Seats are normally provisioned by
// the venue tooling; this is used by seeding and tests.
func (r *SeatRepo) Create(ctx context.Context, s *model.Seat) error {
	if s.Status == "" {
		s.Status = model.SeatAvailable
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO seats (venue_id, label, status, updated_at) VALUES (?, ?, ?, ?)`,
		s.VenueID, s.Label, string(s.Status), utc(s.UpdatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// Get returns a seat by id or ErrNotFound.
func (r *SeatRepo) Get(ctx context.Context, id uint64) (model.Seat, error) {
	return getSeat(ctx, r.db, id)
}

// GetTx is Get inside a transaction.
func (r *SeatRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Seat, error) {
	return getSeat(ctx, tx, id)
}

func getSeat(ctx context.Context, q querier, id uint64) (model.Seat, error) {
	var (
		s      model.Seat
		status string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, venue_id, label, status, updated_at FROM seats WHERE id = ?`, id,
	).Scan(&s.ID, &s.VenueID, &s.Label, &status, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Seat{}, ErrNotFound
	}
	if err != nil {
		return model.Seat{}, err
	}
	s.Status = model.SeatStatus(status)
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

// CompareAndSetStatusTx moves a seat from one status to another and reports
// whether the seat was in the expected status.  Transitions not allowed by
// model.SeatStatus.CanTransition are refused with ErrConflict before any
// write.
func (r *SeatRepo) CompareAndSetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, from, to model.SeatStatus, now time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, ErrConflict
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE seats SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), utc(now), id, string(from))
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}
