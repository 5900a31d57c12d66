/*
Package points provides the points ledger for the storefront.

PURPOSE:
  Every operation that changes an account's points balance lives here:
  purchases spend points, approved top-ups credit them. Account, catalog
  and top-up rows are reached only through the Store interface, so the
  same engine runs on memory, SQLite, MySQL or PostgreSQL.

KEY CONCEPTS IN THIS FILE (types.go):
  - Principal: the authenticated caller (user id + role), supplied by the
    external auth layer on every call
  - Account: points balance and role
  - Product: purchasable item with a point price
  - Ownership: proof that a user bought a product
  - TopUpRequest: a claimed external payment awaiting admin review
  - Entry: one journal row per balance change

INVARIANTS:
  1. Account.Points >= 0 at every observable point in time
  2. Points change only through Engine operations
  3. A top-up is credited at most once (pending -> approved is exactly-once)

SEE ALSO:
  - engine.go: the operations
  - store.go: persistence contract
  - errors.go: failure taxonomy
*/
package points

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID is the id assigned by the external OAuth provider.
type AccountID string

type ProductID int64
type OwnershipID int64
type TopUpID string

// =============================================================================
// PRINCIPAL - Who is calling
// =============================================================================

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is the authenticated caller. The engine trusts it as given.
type Principal struct {
	UserID AccountID
	Role   Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID        AccountID
	Name      string
	Email     string
	Points    int64
	Role      Role
	CreatedAt time.Time
}

// Profile is what the auth layer knows about a user on first login.
type Profile struct {
	ID    AccountID
	Name  string
	Email string
}

// =============================================================================
// CATALOG
// =============================================================================

type Product struct {
	ID           ProductID
	Title        string
	Category     string
	Description  string
	PointsPrice  int64
	Image        string
	VideoURL     string
	Version      string
	Details      string
	Requirements string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// OWNERSHIP - One row per successful purchase
// =============================================================================

type OwnershipStatus string

const (
	OwnershipActive OwnershipStatus = "active"
)

type Ownership struct {
	ID          OwnershipID
	UserID      AccountID
	ProductID   ProductID
	PurchasedAt time.Time
	Status      OwnershipStatus

	// ServerBinding is the server address the owner runs the product on.
	ServerBinding    *string
	BindingUpdatedAt *time.Time
}

// OwnedProduct is an ownership row joined with the product it refers to.
type OwnedProduct struct {
	Ownership
	Title       string
	Description string
	Image       string
}

// =============================================================================
// TOP-UP REQUESTS
// =============================================================================

type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentTrueWallet   PaymentMethod = "true_wallet"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentBankTransfer || m == PaymentTrueWallet
}

type TopUpStatus string

const (
	TopUpPending  TopUpStatus = "pending"
	TopUpApproved TopUpStatus = "approved"
	TopUpRejected TopUpStatus = "rejected"
)

func (s TopUpStatus) Valid() bool {
	return s == TopUpPending || s == TopUpApproved || s == TopUpRejected
}

// Terminal reports whether no further transition is allowed.
func (s TopUpStatus) Terminal() bool {
	return s == TopUpApproved || s == TopUpRejected
}

type TopUpRequest struct {
	ID       TopUpID
	UserID   AccountID
	Amount   decimal.Decimal // money paid, in the payment's currency
	Points   int64           // points requested
	Method   PaymentMethod
	ProofRef string // reference to the uploaded proof (URL or storage key)

	// TransactionAt is when the user says the payment happened.
	TransactionAt time.Time

	Status     TopUpStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy *AccountID
}

// TopUpFilter narrows ListTopUps. Nil fields match everything.
type TopUpFilter struct {
	UserID *AccountID
	Status *TopUpStatus
}

// =============================================================================
// JOURNAL
// =============================================================================

type EntryKind string

const (
	EntryPurchase    EntryKind = "purchase"
	EntryTopUpCredit EntryKind = "topup_credit"
)

// Entry records a single balance change. Append-only.
// (Kind, ReferenceID) is unique: a top-up can be credited once.
type Entry struct {
	ID           int64
	AccountID    AccountID
	Delta        int64
	Kind         EntryKind
	ReferenceID  string
	BalanceAfter int64
	CreatedAt    time.Time
}
