package db

import (
	"context"
	"database/sql"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(120) NOT NULL,
		email VARCHAR(190) NOT NULL,
		phone VARCHAR(40) NULL,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'user',
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_users_email (email),
		CONSTRAINT chk_users_role CHECK (role IN ('user','vendor','admin'))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS routes (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		vendor_id BIGINT NULL,
		operator_name VARCHAR(160) NOT NULL,
		operator_contact VARCHAR(190) NULL,
		transport_type VARCHAR(16) NOT NULL,
		class VARCHAR(40) NULL,
		from_location VARCHAR(120) NOT NULL,
		to_location VARCHAR(120) NOT NULL,
		departure_times VARCHAR(255) NOT NULL DEFAULT '',
		arrival_time VARCHAR(8) NULL,
		duration_minutes INT NOT NULL DEFAULT 0,
		days VARCHAR(64) NULL,
		base_fare DECIMAL(12,2) NULL,
		price DECIMAL(12,2) NULL,
		currency CHAR(3) NOT NULL,
		total_quantity INT NOT NULL,
		available_quantity INT NOT NULL,
		verification_status VARCHAR(16) NOT NULL DEFAULT 'pending',
		is_advertised TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		KEY idx_routes_vendor (vendor_id),
		CONSTRAINT fk_routes_vendor FOREIGN KEY (vendor_id) REFERENCES users(id),
		CONSTRAINT chk_routes_quantity CHECK (available_quantity >= 0 AND available_quantity <= total_quantity),
		CONSTRAINT chk_routes_verification CHECK (verification_status IN ('pending','approved','rejected'))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		booking_reference VARCHAR(32) NOT NULL,
		route_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		vendor_id BIGINT NOT NULL,
		booking_quantity INT NOT NULL,
		departure_date DATETIME(6) NOT NULL,
		base_fare DECIMAL(12,2) NOT NULL,
		total_amount DECIMAL(12,2) NOT NULL,
		currency CHAR(3) NOT NULL,
		booking_status VARCHAR(16) NOT NULL,
		payment_status VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		vendor_notes TEXT NULL,
		responded_at DATETIME(6) NULL,
		paid_at DATETIME(6) NULL,
		cancelled_at DATETIME(6) NULL,
		cancel_reason VARCHAR(255) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_bookings_reference (booking_reference),
		KEY idx_bookings_user (user_id, created_at),
		KEY idx_bookings_vendor (vendor_id, created_at),
		CONSTRAINT fk_bookings_route FOREIGN KEY (route_id) REFERENCES routes(id),
		CONSTRAINT fk_bookings_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT fk_bookings_vendor FOREIGN KEY (vendor_id) REFERENCES users(id),
		CONSTRAINT chk_bookings_quantity CHECK (booking_quantity > 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS booking_passengers (
		booking_id BIGINT NOT NULL,
		passenger_index INT NOT NULL,
		passenger_name VARCHAR(160) NOT NULL,
		ticket_number VARCHAR(40) NOT NULL,
		PRIMARY KEY (booking_id, passenger_index),
		UNIQUE KEY uq_booking_passengers_ticket (ticket_number),
		CONSTRAINT fk_booking_passengers_booking FOREIGN KEY (booking_id) REFERENCES bookings(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS payments (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		currency CHAR(3) NOT NULL,
		status VARCHAR(16) NOT NULL,
		pending_booking_id BIGINT GENERATED ALWAYS AS (CASE WHEN status = 'pending' THEN booking_id END) STORED,
		session_id VARCHAR(255) NULL,
		session_url TEXT NULL,
		intent_id VARCHAR(255) NULL,
		transaction_id VARCHAR(255) NULL,
		processing_fee DECIMAL(12,2) NOT NULL DEFAULT 0,
		gateway_fee DECIMAL(12,2) NOT NULL DEFAULT 0,
		platform_fee DECIMAL(12,2) NOT NULL DEFAULT 0,
		total_fees DECIMAL(12,2) NOT NULL DEFAULT 0,
		vendor_payout_amount DECIMAL(12,2) NULL,
		vendor_payout_set_at DATETIME(6) NULL,
		refund_id VARCHAR(255) NULL,
		refund_amount DECIMAL(12,2) NULL,
		refund_status VARCHAR(16) NULL,
		refund_reason VARCHAR(255) NULL,
		refund_requested_at DATETIME(6) NULL,
		refunded_at DATETIME(6) NULL,
		dispute_id VARCHAR(255) NULL,
		dispute_status VARCHAR(16) NULL,
		dispute_reason VARCHAR(255) NULL,
		dispute_opened_at DATETIME(6) NULL,
		dispute_closed_at DATETIME(6) NULL,
		attempts JSON NULL,
		failure_reason VARCHAR(255) NULL,
		completed_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_payments_pending_booking (pending_booking_id),
		KEY idx_payments_booking (booking_id),
		KEY idx_payments_user (user_id, created_at),
		KEY idx_payments_session (session_id),
		CONSTRAINT fk_payments_booking FOREIGN KEY (booking_id) REFERENCES bookings(id),
		CONSTRAINT fk_payments_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT chk_payments_status CHECK (status IN ('pending','processing','completed','failed','cancelled','refunded','disputed'))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// SQLite keeps money as TEXT so decimals round-trip exactly.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user','vendor','admin')),
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS routes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vendor_id INTEGER NULL REFERENCES users(id),
		operator_name TEXT NOT NULL,
		operator_contact TEXT NULL,
		transport_type TEXT NOT NULL,
		class TEXT NULL,
		from_location TEXT NOT NULL,
		to_location TEXT NOT NULL,
		departure_times TEXT NOT NULL DEFAULT '',
		arrival_time TEXT NULL,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		days TEXT NULL,
		base_fare TEXT NULL,
		price TEXT NULL,
		currency TEXT NOT NULL,
		total_quantity INTEGER NOT NULL,
		available_quantity INTEGER NOT NULL,
		verification_status TEXT NOT NULL DEFAULT 'pending' CHECK (verification_status IN ('pending','approved','rejected')),
		is_advertised INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (available_quantity >= 0 AND available_quantity <= total_quantity)
	)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_reference TEXT NOT NULL UNIQUE,
		route_id INTEGER NOT NULL REFERENCES routes(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		vendor_id INTEGER NOT NULL REFERENCES users(id),
		booking_quantity INTEGER NOT NULL CHECK (booking_quantity > 0),
		departure_date DATETIME NOT NULL,
		base_fare TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		booking_status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		status TEXT NOT NULL,
		vendor_notes TEXT NULL,
		responded_at DATETIME NULL,
		paid_at DATETIME NULL,
		cancelled_at DATETIME NULL,
		cancel_reason TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_vendor ON bookings(vendor_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS booking_passengers (
		booking_id INTEGER NOT NULL REFERENCES bookings(id),
		passenger_index INTEGER NOT NULL,
		passenger_name TEXT NOT NULL,
		ticket_number TEXT NOT NULL UNIQUE,
		PRIMARY KEY (booking_id, passenger_index)
	)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id INTEGER NOT NULL REFERENCES bookings(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending','processing','completed','failed','cancelled','refunded','disputed')),
		session_id TEXT NULL,
		session_url TEXT NULL,
		intent_id TEXT NULL,
		transaction_id TEXT NULL,
		processing_fee TEXT NOT NULL DEFAULT '0',
		gateway_fee TEXT NOT NULL DEFAULT '0',
		platform_fee TEXT NOT NULL DEFAULT '0',
		total_fees TEXT NOT NULL DEFAULT '0',
		vendor_payout_amount TEXT NULL,
		vendor_payout_set_at DATETIME NULL,
		refund_id TEXT NULL,
		refund_amount TEXT NULL,
		refund_status TEXT NULL,
		refund_reason TEXT NULL,
		refund_requested_at DATETIME NULL,
		refunded_at DATETIME NULL,
		dispute_id TEXT NULL,
		dispute_status TEXT NULL,
		dispute_reason TEXT NULL,
		dispute_opened_at DATETIME NULL,
		dispute_closed_at DATETIME NULL,
		attempts TEXT NULL,
		failure_reason TEXT NULL,
		completed_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_pending_booking ON payments(booking_id) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_session ON payments(session_id)`,
}

// Migrate creates the tables for the given dialect. Statements are
// idempotent so it is safe to run on every start.
func Migrate(ctx context.Context, conn *sql.DB, dialect string) error {
	var stmts []string
	switch dialect {
	case DialectMySQL:
		stmts = mysqlSchema
	case DialectSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
	for i, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
