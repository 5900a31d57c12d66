/*
Package postgres provides the PostgreSQL-backed store on a pgx pool.

CONCURRENCY:
  Transactions run at READ COMMITTED. LockAccount and LockTopUp take row
  locks with SELECT ... FOR UPDATE, so concurrent purchases against one
  account and concurrent resolutions of one request are serialized.
  Serialization failures and deadlocks come back marked points.ErrConflict.

TYPES:
  Times are TIMESTAMPTZ; top-up amounts are NUMERIC(14,2) exchanged as text
  so no precision is lost on the way to decimal.Decimal.

SEE ALSO:
  - store/sqlstore: the database/sql flavour of the same queries
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/ticket"
)

// SQLSTATE codes.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ points.Store = (*Store)(nil)
	_ ticket.Store = (*Store)(nil)
)

// New connects, pings and migrates.
func New(ctx context.Context, dsn string, pc PoolConfig) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate postgres database: %w", err)
	}
	return s, nil
}

// Pool exposes the pool for health checks and tests.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) WithTx(ctx context.Context, fn func(points.Tx) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error { return fn(&pointsTx{q: tx}) })
}

func (s *Store) WithTicketTx(ctx context.Context, fn func(ticket.Tx) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error { return fn(&ticketTx{q: tx}) })
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func classify(err error) error {
	if errors.Is(err, points.ErrConflict) {
		return err
	}
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %w", points.ErrConflict, err)
	}
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		points BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
		role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		points BIGINT NOT NULL CHECK (points > 0),
		image TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		requirements TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS user_products (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		product_id BIGINT NOT NULL REFERENCES products(id),
		purchase_date TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		ip_server TEXT,
		last_ip_update TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_products_user ON user_products(user_id, purchase_date)`,

	`CREATE TABLE IF NOT EXISTS topup_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		points BIGINT NOT NULL CHECK (points > 0),
		payment_method TEXT NOT NULL CHECK (payment_method IN ('bank_transfer', 'true_wallet')),
		proof_reference TEXT NOT NULL,
		transaction_date TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		resolved_by TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_topup_requests_user ON topup_requests(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_topup_requests_status ON topup_requests(status, created_at)`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		delta BIGINT NOT NULL,
		kind TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		balance_after BIGINT NOT NULL CHECK (balance_after >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (kind, reference_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id, id)`,

	`CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		user_id TEXT NOT NULL REFERENCES users(id),
		assigned_admin_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS ticket_files (
		id BIGSERIAL PRIMARY KEY,
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		filename TEXT NOT NULL,
		file_url TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		file_type TEXT NOT NULL DEFAULT '',
		uploaded_by TEXT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ticket_comments (
		id BIGSERIAL PRIMARY KEY,
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		comment TEXT NOT NULL,
		is_admin_comment BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}
