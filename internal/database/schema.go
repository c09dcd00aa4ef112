package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the durable state: seat status and version, lock records
// with their seat snapshot, bookings keyed by id and by idempotency key,
// and the per-event waitlist.  Statements are idempotent so Migrate can
// run on every boot.  Tables use a binary collation: ids and idempotency
// keys that differ only in case or accents are different values.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS seats (
		event_id     VARCHAR(64)  NOT NULL,
		id           VARCHAR(64)  NOT NULL,
		section      VARCHAR(64)  NOT NULL,
		row_label    VARCHAR(16)  NOT NULL,
		seat_number  INT          NOT NULL,
		price_cents  BIGINT       NOT NULL,
		currency     CHAR(3)      NOT NULL,
		status       ENUM('AVAILABLE','LOCKED','BOOKED','BLOCKED') NOT NULL DEFAULT 'AVAILABLE',
		owner_ref    VARCHAR(64)  NOT NULL DEFAULT '',
		version      BIGINT UNSIGNED NOT NULL DEFAULT 1,
		updated_at   DATETIME(6)  NOT NULL,
		PRIMARY KEY (event_id, id),
		KEY idx_seats_owner (owner_ref)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS seat_locks (
		id          CHAR(36)     NOT NULL PRIMARY KEY,
		event_id    VARCHAR(64)  NOT NULL,
		holder_id   VARCHAR(128) NOT NULL,
		currency    CHAR(3)      NOT NULL,
		status      ENUM('ACTIVE','RELEASED','EXPIRED','CONSUMED') NOT NULL,
		created_at  DATETIME(6)  NOT NULL,
		expires_at  DATETIME(6)  NOT NULL,
		updated_at  DATETIME(6)  NOT NULL,
		KEY idx_locks_expiry (status, expires_at),
		KEY idx_locks_holder (event_id, holder_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS seat_lock_items (
		lock_id      CHAR(36)    NOT NULL,
		position     INT         NOT NULL,
		seat_id      VARCHAR(64) NOT NULL,
		section      VARCHAR(64) NOT NULL,
		row_label    VARCHAR(16) NOT NULL,
		seat_number  INT         NOT NULL,
		price_cents  BIGINT      NOT NULL,
		PRIMARY KEY (lock_id, position)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id                 CHAR(36)     NOT NULL PRIMARY KEY,
		event_id           VARCHAR(64)  NOT NULL,
		holder_id          VARCHAR(128) NOT NULL,
		lock_id            CHAR(36)     NOT NULL,
		total_amount_cents BIGINT       NOT NULL,
		currency           CHAR(3)      NOT NULL,
		idempotency_key    VARCHAR(128) NOT NULL,
		status             ENUM('PENDING','CONFIRMED','CANCELLED','EXPIRED','REFUNDED') NOT NULL,
		payment_ref        VARCHAR(128) NULL,
		expires_at         DATETIME(6)  NOT NULL,
		created_at         DATETIME(6)  NOT NULL,
		updated_at         DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_bookings_idempotency_key (idempotency_key),
		KEY idx_bookings_expiry (status, expires_at),
		KEY idx_bookings_holder (holder_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS booking_seats (
		booking_id   CHAR(36)    NOT NULL,
		position     INT         NOT NULL,
		seat_id      VARCHAR(64) NOT NULL,
		section      VARCHAR(64) NOT NULL,
		row_label    VARCHAR(16) NOT NULL,
		seat_number  INT         NOT NULL,
		price_cents  BIGINT      NOT NULL,
		PRIMARY KEY (booking_id, position)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS waitlist_entries (
		id           CHAR(36)     NOT NULL PRIMARY KEY,
		event_id     VARCHAR(64)  NOT NULL,
		user_id      VARCHAR(128) NOT NULL,
		section_id   VARCHAR(64)  NOT NULL DEFAULT '',
		seat_count   INT          NOT NULL,
		status       ENUM('WAITING','NOTIFIED') NOT NULL,
		created_at   DATETIME(6)  NOT NULL,
		notified_at  DATETIME(6)  NULL,
		UNIQUE KEY uq_waitlist_event_user (event_id, user_id),
		KEY idx_waitlist_queue (event_id, status, created_at),
		KEY idx_waitlist_user (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
