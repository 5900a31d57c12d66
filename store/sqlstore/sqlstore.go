/*
Package sqlstore implements points.Store and ticket.Store on database/sql.

PURPOSE:
  One set of queries serves every driver that speaks "?" placeholders and
  LastInsertId. Driver packages (store/sqlite, store/mysql) open the
  connection and supply a Dialect: schema, row-lock suffix and error
  classification.

KEY TABLES:
  users:           accounts and points balances (points >= 0 CHECK)
  products:        catalog
  user_products:   ownership records, one per purchase
  topup_requests:  pending/approved/rejected top-ups
  ledger_entries:  journal; UNIQUE (kind, reference_id)
  tickets, ticket_files, ticket_comments

LOCKING:
  LockAccount and LockTopUp append Dialect.LockSuffix (" FOR UPDATE" on
  MySQL). SQLite has no row locks; its driver package opens write
  transactions with BEGIN IMMEDIATE on a single connection instead.

  DebitPoints and ResolveTopUp are conditional UPDATEs, so even without a
  lock the balance cannot go negative and a request resolves once.

TIMES:
  Stored as fixed-width UTC text so lexical order is chronological.

SEE ALSO:
  - points/store.go: the contract
  - store/postgres: the pgx implementation of the same contract
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/ticket"
)

// Dialect carries what differs between SQL drivers.
type Dialect struct {
	Name string

	// Schema statements, executed in order on New.
	Schema []string

	// LockSuffix is appended to SELECTs that must hold a row lock.
	LockSuffix string

	// TxOptions is passed to BeginTx.
	TxOptions *sql.TxOptions

	IsUniqueViolation func(error) bool

	// IsConflict reports transient failures (deadlock, busy, lock timeout).
	IsConflict func(error) bool
}

// Store implements points.Store and ticket.Store.
type Store struct {
	db *sql.DB
	d  Dialect
}

var (
	_ points.Store = (*Store)(nil)
	_ ticket.Store = (*Store)(nil)
)

// New migrates the schema and returns the store. The caller keeps
// ownership of db configuration; Close closes it.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate %s database: %w", d.Name, err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the handle for health checks and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) WithTx(ctx context.Context, fn func(points.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&pointsTx{q: tx, s: s})
	})
}

func (s *Store) WithTicketTx(ctx context.Context, fn func(ticket.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&ticketTx{q: tx})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.d.TxOptions)
	if err != nil {
		return s.classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return s.classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// classify marks transient driver failures with points.ErrConflict.
func (s *Store) classify(err error) error {
	if err == nil || errors.Is(err, points.ErrConflict) {
		return err
	}
	if s.d.IsConflict != nil && s.d.IsConflict(err) {
		return fmt.Errorf("%w: %w", points.ErrConflict, err)
	}
	return err
}

func (s *Store) unique(err error) bool {
	return err != nil && s.d.IsUniqueViolation != nil && s.d.IsUniqueViolation(err)
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
