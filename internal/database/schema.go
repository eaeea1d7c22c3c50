package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects the DDL flavour used by Migrate.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS admission_gates (
		event_id      BIGINT UNSIGNED NOT NULL PRIMARY KEY,
		capacity      INT NOT NULL,
		lease_seconds INT NOT NULL,
		touched_at    DATETIME(3) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS admission_sessions (
		id                BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		event_id          BIGINT UNSIGNED NOT NULL,
		user_id           BIGINT UNSIGNED NOT NULL,
		status            VARCHAR(16) NOT NULL,
		start_time        DATETIME(3) NULL,
		expected_end_time DATETIME(3) NULL,
		created_at        DATETIME(3) NOT NULL,
		UNIQUE KEY uq_admission_event_user (event_id, user_id),
		KEY idx_admission_queue (event_id, status, created_at, id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seats (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		venue_id   BIGINT UNSIGNED NOT NULL,
		label      VARCHAR(32) NOT NULL,
		status     VARCHAR(16) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		KEY idx_seats_venue (venue_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seat_holds (
		id         CHAR(36) NOT NULL PRIMARY KEY,
		seat_id    BIGINT UNSIGNED NOT NULL,
		user_id    BIGINT UNSIGNED NOT NULL,
		order_id   BIGINT UNSIGNED NULL,
		status     VARCHAR(16) NOT NULL,
		expires_at DATETIME(3) NOT NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		KEY idx_holds_seat_status (seat_id, status),
		KEY idx_holds_status_expires (status, expires_at),
		KEY idx_holds_order (order_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seat_transaction_logs (
		id              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		seat_id         BIGINT UNSIGNED NOT NULL,
		hold_id         CHAR(36) NOT NULL DEFAULT '',
		user_id         BIGINT UNSIGNED NOT NULL,
		action          VARCHAR(32) NOT NULL,
		previous_status VARCHAR(16) NOT NULL,
		new_status      VARCHAR(16) NOT NULL,
		metadata        TEXT NULL,
		created_at      DATETIME(3) NOT NULL,
		KEY idx_txlog_seat (seat_id, id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id     BIGINT UNSIGNED NOT NULL,
		status      VARCHAR(16) NOT NULL,
		payment_ref VARCHAR(128) NULL,
		expired_at  DATETIME(3) NOT NULL,
		created_at  DATETIME(3) NOT NULL,
		updated_at  DATETIME(3) NOT NULL,
		KEY idx_orders_status_expired (status, expired_at)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS ticket_orders (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		order_id   BIGINT UNSIGNED NOT NULL,
		ticket_id  BIGINT UNSIGNED NOT NULL,
		seat_id    BIGINT UNSIGNED NOT NULL,
		status     VARCHAR(16) NOT NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		KEY idx_ticket_orders_order (order_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sweep_locks (
		name       VARCHAR(128) NOT NULL PRIMARY KEY,
		owner      CHAR(36) NOT NULL,
		expires_at DATETIME(3) NOT NULL
	) ENGINE=InnoDB`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS admission_gates (
		event_id      INTEGER NOT NULL PRIMARY KEY,
		capacity      INTEGER NOT NULL,
		lease_seconds INTEGER NOT NULL,
		touched_at    DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS admission_sessions (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id          INTEGER NOT NULL,
		user_id           INTEGER NOT NULL,
		status            TEXT NOT NULL,
		start_time        DATETIME NULL,
		expected_end_time DATETIME NULL,
		created_at        DATETIME NOT NULL,
		UNIQUE (event_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_admission_queue ON admission_sessions (event_id, status, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS seats (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		venue_id   INTEGER NOT NULL,
		label      TEXT NOT NULL,
		status     TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS seat_holds (
		id         TEXT NOT NULL PRIMARY KEY,
		seat_id    INTEGER NOT NULL,
		user_id    INTEGER NOT NULL,
		order_id   INTEGER NULL,
		status     TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_holds_seat_status ON seat_holds (seat_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_holds_status_expires ON seat_holds (status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS seat_transaction_logs (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		seat_id         INTEGER NOT NULL,
		hold_id         TEXT NOT NULL DEFAULT '',
		user_id         INTEGER NOT NULL,
		action          TEXT NOT NULL,
		previous_status TEXT NOT NULL,
		new_status      TEXT NOT NULL,
		metadata        TEXT NULL,
		created_at      DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     INTEGER NOT NULL,
		status      TEXT NOT NULL,
		payment_ref TEXT NULL,
		expired_at  DATETIME NOT NULL,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_orders (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id   INTEGER NOT NULL,
		ticket_id  INTEGER NOT NULL,
		seat_id    INTEGER NOT NULL,
		status     TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sweep_locks (
		name       TEXT NOT NULL PRIMARY KEY,
		owner      TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
}

// Migrate creates every table used by the admission and reservation stores.
// It is idempotent and safe to run on every deploy.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	var stmts []string
	switch d {
	case MySQL:
		stmts = mysqlSchema
	case SQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("migrate: unknown dialect %q", d)
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
