package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/iliyamo/ticketing-admission/internal/database"

	_ "modernc.org/sqlite"
)

// OpenSQLite returns a migrated SQLite database stored under tb.TempDir.
// The pool is limited to one connection so that transactions from
// concurrent goroutines are serialized the way row locks serialize them on
// MySQL.  Code under test must therefore never use the *sql.DB while it
// holds an open transaction.
//
// Because of that single connection, concurrency tests built on this helper
// only show that serialized callers observe each other's commits.  They do
// not make two transactions contend on a compare-and-swap or a gate row
// lock.  The integration-tagged MySQL tests in internal/service cover the
// contended case.
func OpenSQLite(tb testing.TB) *sql.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "ticketing.db")
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	return db
}
