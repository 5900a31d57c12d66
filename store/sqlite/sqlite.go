/*
Package sqlite provides the SQLite-backed store.

PURPOSE:
  Opens a SQLite database with mattn/go-sqlite3 and serves points.Store
  and ticket.Store through the shared sqlstore queries.

CONCURRENCY:
  SQLite has no row locks. The pool is limited to a single connection and
  every transaction starts with BEGIN IMMEDIATE (_txlock=immediate), so
  write transactions are serialized by the database itself. Combined with
  the conditional debit this rules out two purchases against the same
  balance both succeeding.

WAL MODE:
  File databases use WAL for crash recovery; ":memory:" ignores it.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := points.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/sqlstore: the queries
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/points-engine/store/sqlstore"
)

// Store is a sqlstore.Store over SQLite.
type Store struct {
	*sqlstore.Store
}

// New opens (creating if needed) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := sqlstore.New(ctx, db, Dialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{Store: s}, nil
}

// Dialect is the SQLite flavour of the shared schema.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "sqlite",
		Schema:            schema,
		IsUniqueViolation: isUniqueViolation,
		IsConflict:        isConflict,
	}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isConflict(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL CHECK (points > 0),
		image TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		requirements TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS user_products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		purchase_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		ip_server TEXT,
		last_ip_update TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_products_user
		ON user_products(user_id, purchase_date)`,

	`CREATE TABLE IF NOT EXISTS topup_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		points INTEGER NOT NULL CHECK (points > 0),
		payment_method TEXT NOT NULL CHECK (payment_method IN ('bank_transfer', 'true_wallet')),
		proof_reference TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		created_at TEXT NOT NULL,
		resolved_at TEXT,
		resolved_by TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_topup_requests_user
		ON topup_requests(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_topup_requests_status
		ON topup_requests(status, created_at)`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		delta INTEGER NOT NULL,
		kind TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
		created_at TEXT NOT NULL,
		UNIQUE (kind, reference_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user
		ON ledger_entries(user_id, id)`,

	`CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		user_id TEXT NOT NULL REFERENCES users(id),
		assigned_admin_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_user
		ON tickets(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS ticket_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		filename TEXT NOT NULL,
		file_url TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		file_type TEXT NOT NULL DEFAULT '',
		uploaded_by TEXT NOT NULL REFERENCES users(id),
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ticket_comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		comment TEXT NOT NULL,
		is_admin_comment INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
}
