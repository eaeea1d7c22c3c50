package lock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

const mysqlDuplicateEntry = 1062

// SQLLocker implements Locker on the sweep_locks table.  It is used when
// Redis is not configured or not reachable at startup.
type SQLLocker struct {
	db    *sql.DB
	owner string
	now   func() time.Time
}

// NewSQLLocker returns a locker backed by db.  now may be nil.
func NewSQLLocker(db *sql.DB, now func() time.Time) *SQLLocker {
	if now == nil {
		now = time.Now
	}
	return &SQLLocker{db: db, owner: uuid.NewString(), now: now}
}

// Acquire takes over an expired lock row or inserts a fresh one.
func (l *SQLLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := l.now().UTC()
	expires := now.Add(ttl)

	res, err := l.db.ExecContext(ctx,
		`UPDATE sweep_locks SET owner = ?, expires_at = ? WHERE name = ? AND expires_at <= ?`,
		l.owner, expires, name, now)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 1 {
		return true, nil
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO sweep_locks (name, owner, expires_at) VALUES (?, ?, ?)`,
		name, l.owner, expires)
	if err == nil {
		return true, nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return false, nil
	}
	// Other drivers report the unique violation differently; a row that
	// exists now means somebody else owns it.
	var n int
	if qerr := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sweep_locks WHERE name = ?`, name).Scan(&n); qerr == nil && n > 0 {
		return false, nil
	}
	return false, err
}

// Release deletes the row if this locker still owns it.
func (l *SQLLocker) Release(ctx context.Context, name string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM sweep_locks WHERE name = ? AND owner = ?`, name, l.owner)
	return err
}
