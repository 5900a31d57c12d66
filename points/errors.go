/*
errors.go - Failure taxonomy for ledger operations

PURPOSE:
  All ledger failures in one place. Every operation returns either a
  result or one of these, never a silently swallowed error.

ERROR CATEGORIES:
  1. Not found - account, product, top-up request, ownership
  2. Client errors - validation, insufficient funds, already resolved, forbidden
  3. Store errors - TransactionError (conflict or connectivity fault)

USAGE:
    _, err := engine.Purchase(ctx, who, productID)
    var short *points.InsufficientFundsError
    if errors.As(err, &short) {
        // short.Balance, short.Price
    }
    if points.IsRetryable(err) {
        // store conflict; caller decides whether to try again
    }

SEE ALSO:
  - engine.go: wraps store failures in TransactionError
  - api/errors.go: HTTP status mapping
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrRequestNotFound   = errors.New("top-up request not found")
	ErrOwnershipNotFound = errors.New("ownership record not found")

	// ErrValidation is returned for bad input shape or range.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds is returned when a debit would make the balance negative.
	ErrInsufficientFunds = errors.New("insufficient points")

	// ErrRequestAlreadyResolved is returned for any transition out of a terminal state.
	ErrRequestAlreadyResolved = errors.New("top-up request already resolved")

	// ErrForbidden is returned when the principal lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrDuplicateEntry is returned when a journal entry for the same
	// (kind, reference) already exists.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrTransactionFailed is returned when the store could not complete
	// a transaction.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrConflict marks a transient store conflict (serialization failure,
	// deadlock, busy database). Stores wrap their driver error with it.
	ErrConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Balance   int64
	Price     int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient points: balance %d, price %d, shortfall %d",
		e.Balance, e.Price, e.Price-e.Balance)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// AlreadyResolvedError reports the terminal status a request already has.
type AlreadyResolvedError struct {
	RequestID TopUpID
	Status    TopUpStatus
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("top-up request %s already %s", e.RequestID, e.Status)
}

func (e *AlreadyResolvedError) Unwrap() error { return ErrRequestAlreadyResolved }

// TransactionError wraps a store-level failure. It matches both
// ErrTransactionFailed and the underlying cause.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: transaction failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() []error {
	return []error{ErrTransactionFailed, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrOwnershipNotFound)
}

// IsClientError returns true if the error is due to the caller's input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrRequestAlreadyResolved) ||
		errors.Is(err, ErrForbidden)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// isDomain reports whether err already belongs to the taxonomy and must
// reach the caller unwrapped.
func isDomain(err error) bool {
	return IsNotFound(err) || IsClientError(err) || errors.Is(err, ErrDuplicateEntry)
}
