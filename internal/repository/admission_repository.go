package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticketing-admission/internal/model"
)

// AdmissionRepo provides data access to the admission_gates and
// admission_sessions tables.  Every method that takes part in an admission
// decision is Tx-suffixed: the caller opens the transaction, touches the
// event's gate row first and commits once the decision is made.
type AdmissionRepo struct {
	db *sql.DB
}

// NewAdmissionRepo returns a new AdmissionRepo bound to the provided database.
func NewAdmissionRepo(db *sql.DB) *AdmissionRepo { return &AdmissionRepo{db: db} }

const sessionColumns = `id, event_id, user_id, status, start_time, expected_end_time, created_at`

func scanSession(s rowScanner) (model.SessionRecord, error) {
	var (
		rec        model.SessionRecord
		status     string
		start, end sql.NullTime
	)
	if err := s.Scan(&rec.ID, &rec.EventID, &rec.UserID, &status, &start, &end, &rec.CreatedAt); err != nil {
		return model.SessionRecord{}, err
	}
	rec.Status = model.AdmissionStatus(status)
	rec.StartTime = nullTimePtr(start)
	rec.ExpectedEndTime = nullTimePtr(end)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func collectSessions(rows *sql.Rows) ([]model.SessionRecord, error) {
	defer rows.Close()
	var out []model.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EnsureGate creates the event's gate row from defaults when it does not
// exist yet.  It runs outside any transaction: a failed insert, including a
// deadlock or a duplicate key from a concurrent creator, never poisons the
// transaction that later locks the row.  A lost race is not an error.
func (r *AdmissionRepo) EnsureGate(ctx context.Context, defaults model.AdmissionGate, now time.Time) error {
	if _, err := getGate(ctx, r.db, defaults.EventID); !errors.Is(err, ErrNotFound) {
		return err
	}
	_, insErr := r.db.ExecContext(ctx,
		`INSERT INTO admission_gates (event_id, capacity, lease_seconds, touched_at) VALUES (?, ?, ?, ?)`,
		defaults.EventID, defaults.Capacity, int64(defaults.Lease/time.Second), utc(now))
	if insErr == nil {
		return nil
	}
	if _, err := getGate(ctx, r.db, defaults.EventID); err != nil {
		return errors.Join(insErr, err)
	}
	return nil
}

// LockGateTx writes the event's gate row and returns the stored settings.
// Because the write takes the row lock, concurrent admissions for the same
// event queue up behind it until the transaction ends while other events
// are unaffected.  The row must exist (see EnsureGate); ErrNotFound is
// returned otherwise and the caller must abandon the transaction.
func (r *AdmissionRepo) LockGateTx(ctx context.Context, tx *sql.Tx, eventID uint64, now time.Time) (model.AdmissionGate, error) {
	res, err := tx.ExecContext(ctx, `UPDATE admission_gates SET touched_at = ? WHERE event_id = ?`, utc(now), eventID)
	if err != nil {
		return model.AdmissionGate{}, err
	}
	touched, err := affectedOne(res)
	if err != nil {
		return model.AdmissionGate{}, err
	}
	if !touched {
		return model.AdmissionGate{}, ErrNotFound
	}
	return getGate(ctx, tx, eventID)
}

// Gate returns the stored settings of an event.  ErrNotFound is returned
// when nobody has been admitted to the event and it was never configured.
func (r *AdmissionRepo) Gate(ctx context.Context, eventID uint64) (model.AdmissionGate, error) {
	return getGate(ctx, r.db, eventID)
}

func getGate(ctx context.Context, q querier, eventID uint64) (model.AdmissionGate, error) {
	var (
		g     model.AdmissionGate
		lease int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT event_id, capacity, lease_seconds FROM admission_gates WHERE event_id = ?`, eventID,
	).Scan(&g.EventID, &g.Capacity, &lease)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AdmissionGate{}, ErrNotFound
	}
	if err != nil {
		return model.AdmissionGate{}, err
	}
	g.Lease = time.Duration(lease) * time.Second
	return g, nil
}

// UpsertGate stores capacity and lease for an event, creating the row when
// needed.
func (r *AdmissionRepo) UpsertGate(ctx context.Context, g model.AdmissionGate, now time.Time) error {
	if err := r.EnsureGate(ctx, g, now); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE admission_gates SET capacity = ?, lease_seconds = ?, touched_at = ? WHERE event_id = ?`,
		g.Capacity, int64(g.Lease/time.Second), utc(now), g.EventID)
	return err
}

// GetTx loads the record of a user for an event.  It returns ErrNotFound
// when the user has no record.
func (r *AdmissionRepo) GetTx(ctx context.Context, tx *sql.Tx, eventID, userID uint64) (model.SessionRecord, error) {
	rec, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM admission_sessions WHERE event_id = ? AND user_id = ?`,
		eventID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// CountByStatusTx counts the records of an event in the given status.
func (r *AdmissionRepo) CountByStatusTx(ctx context.Context, tx *sql.Tx, eventID uint64, status model.AdmissionStatus) (int, error) {
	return countByStatus(ctx, tx, eventID, status)
}

// Counts returns the number of online and waiting records of an event.
func (r *AdmissionRepo) Counts(ctx context.Context, eventID uint64) (online, waiting int, err error) {
	if online, err = countByStatus(ctx, r.db, eventID, model.AdmissionOnline); err != nil {
		return 0, 0, err
	}
	if waiting, err = countByStatus(ctx, r.db, eventID, model.AdmissionWaiting); err != nil {
		return 0, 0, err
	}
	return online, waiting, nil
}

func countByStatus(ctx context.Context, q querier, eventID uint64, status model.AdmissionStatus) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admission_sessions WHERE event_id = ? AND status = ?`,
		eventID, string(status)).Scan(&n)
	return n, err
}

// CreateTx inserts a new record and sets rec.ID.
func (r *AdmissionRepo) CreateTx(ctx context.Context, tx *sql.Tx, rec *model.SessionRecord) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO admission_sessions (event_id, user_id, status, start_time, expected_end_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.UserID, string(rec.Status),
		nullTimeArg(rec.StartTime), nullTimeArg(rec.ExpectedEndTime), utc(rec.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = uint64(id)
	return nil
}

// DeleteTx removes a user's record and reports whether one existed.
func (r *AdmissionRepo) DeleteTx(ctx context.Context, tx *sql.Tx, eventID, userID uint64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM admission_sessions WHERE event_id = ? AND user_id = ?`, eventID, userID)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// DeleteByIDTx removes a record by id only if it still has the given status.
func (r *AdmissionRepo) DeleteByIDTx(ctx context.Context, tx *sql.Tx, id uint64, status model.AdmissionStatus) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM admission_sessions WHERE id = ? AND status = ?`, id, string(status))
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// ExpiredOnlineTx lists the online records whose lease ended at or before
// cutoff, oldest deadline first.  Callers pass now minus the grace tolerance.
func (r *AdmissionRepo) ExpiredOnlineTx(ctx context.Context, tx *sql.Tx, eventID uint64, cutoff time.Time) ([]model.SessionRecord, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM admission_sessions
		 WHERE event_id = ? AND status = ? AND expected_end_time <= ?
		 ORDER BY expected_end_time, id`,
		eventID, string(model.AdmissionOnline), utc(cutoff))
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// OldestWaitingTx returns up to limit waiting records in queue order.
func (r *AdmissionRepo) OldestWaitingTx(ctx context.Context, tx *sql.Tx, eventID uint64, limit int) ([]model.SessionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM admission_sessions
		 WHERE event_id = ? AND status = ?
		 ORDER BY created_at, id
		 LIMIT ?`,
		eventID, string(model.AdmissionWaiting), limit)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// PromoteTx turns a waiting record into an online one with a fresh lease.
// It reports false when the record is gone or no longer waiting.
func (r *AdmissionRepo) PromoteTx(ctx context.Context, tx *sql.Tx, id uint64, start, end time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE admission_sessions SET status = ?, start_time = ?, expected_end_time = ?
		 WHERE id = ? AND status = ?`,
		string(model.AdmissionOnline), utc(start), utc(end), id, string(model.AdmissionWaiting))
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// WaitingPositionTx returns the 1-based rank of rec among the event's
// waiting records ordered by (created_at, id).
func (r *AdmissionRepo) WaitingPositionTx(ctx context.Context, tx *sql.Tx, rec model.SessionRecord) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admission_sessions
		 WHERE event_id = ? AND status = ?
		   AND (created_at < ? OR (created_at = ? AND id <= ?))`,
		rec.EventID, string(model.AdmissionWaiting), utc(rec.CreatedAt), utc(rec.CreatedAt), rec.ID).Scan(&n)
	return n, err
}

// ListEventIDs returns every event that currently has admission records.
func (r *AdmissionRepo) ListEventIDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT event_id FROM admission_sessions ORDER BY event_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteWaitingBeforeTx drops waiting records created before cutoff and
// returns how many were removed.
func (r *AdmissionRepo) DeleteWaitingBeforeTx(ctx context.Context, tx *sql.Tx, eventID uint64, cutoff time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM admission_sessions WHERE event_id = ? AND status = ? AND created_at < ?`,
		eventID, string(model.AdmissionWaiting), utc(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
