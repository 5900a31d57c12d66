/*
store.go - Persistence contract for the ledger

PURPOSE:
  Defines the interface between the ledger engine and the database.
  The engine never holds a connection of its own; a Store is injected
  into NewEngine.

KEY INTERFACES:
  AccountStore: account lookup and first-login creation
  CatalogStore: product reads and admin writes
  Store:        the above plus list queries and WithTx
  Tx:           read-modify-write primitives, valid only inside WithTx

ATOMICITY:
  WithTx commits when fn returns nil and rolls back otherwise. Every
  balance change happens through a Tx, so a purchase either debits the
  balance AND inserts the ownership row AND appends the journal entry,
  or does none of it.

ISOLATION:
  Implementations must serialize concurrent writers to the same account:
  LockAccount and LockTopUp take a row lock (SELECT ... FOR UPDATE) or an
  equivalent write lock. DebitPoints is additionally a conditional update
  that never drives points below zero.

NOT FOUND:
  Lookups return the matching Err*NotFound sentinel, never (nil, nil).

IMPLEMENTATIONS:
  - store/memory:   for tests and demos
  - store/sqlstore: database/sql core used by store/sqlite and store/mysql
  - store/postgres: pgx

SEE ALSO:
  - engine.go: the only caller of Tx
  - pointstest/suite.go: conformance tests every Store must pass
*/
package points

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Reads outside a transaction
// =============================================================================

type AccountStore interface {
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// EnsureAccount inserts the account if no row with its id exists and
	// returns the stored row either way. Existing rows are not modified.
	EnsureAccount(ctx context.Context, acct Account) (*Account, error)
}

type CatalogStore interface {
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	// CreateProduct assigns p.ID.
	CreateProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p Product) error
}

type Store interface {
	AccountStore
	CatalogStore

	// ListTopUps returns matching requests, newest first.
	ListTopUps(ctx context.Context, filter TopUpFilter) ([]TopUpRequest, error)

	// ListOwnedProducts returns the account's ownership rows, newest first.
	ListOwnedProducts(ctx context.Context, id AccountID) ([]OwnedProduct, error)

	// ListEntries returns the account's journal, newest first. limit <= 0 means all.
	ListEntries(ctx context.Context, id AccountID, limit int) ([]Entry, error)

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back and that error returned.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// TX - Read-modify-write primitives
// =============================================================================

type Tx interface {
	// LockAccount reads the account and holds a write lock on it until
	// the transaction ends.
	LockAccount(ctx context.Context, id AccountID) (*Account, error)

	GetProduct(ctx context.Context, id ProductID) (*Product, error)

	// DebitPoints subtracts amount only if the balance covers it and
	// returns the new balance. ErrInsufficientFunds otherwise.
	DebitPoints(ctx context.Context, id AccountID, amount int64) (int64, error)

	// CreditPoints adds amount and returns the new balance.
	CreditPoints(ctx context.Context, id AccountID, amount int64) (int64, error)

	// InsertOwnership assigns o.ID.
	InsertOwnership(ctx context.Context, o *Ownership) error
	GetOwnership(ctx context.Context, id OwnershipID) (*Ownership, error)
	SetServerBinding(ctx context.Context, id OwnershipID, address string, at time.Time) error

	InsertTopUp(ctx context.Context, r *TopUpRequest) error

	// LockTopUp reads the request and holds a write lock on it.
	LockTopUp(ctx context.Context, id TopUpID) (*TopUpRequest, error)

	// ResolveTopUp moves a pending request to status. It returns
	// ErrRequestAlreadyResolved if the request is no longer pending.
	ResolveTopUp(ctx context.Context, id TopUpID, status TopUpStatus, by AccountID, at time.Time) error

	// AppendEntry assigns e.ID. ErrDuplicateEntry if (Kind, ReferenceID) exists.
	AppendEntry(ctx context.Context, e *Entry) error
}
