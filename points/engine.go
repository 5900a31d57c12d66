/*
engine.go - Balance-affecting operations

PURPOSE:
  The Engine executes every operation that changes an account's points:
  purchases, top-up submission, and top-up approval/rejection. Each one
  runs inside a single Store transaction and either fully commits or
  fully rolls back.

OPERATION FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  Purchase:      read price ─▶ lock account ─▶ debit ─▶ ownership │
  │                                                 ─▶ journal entry │
  │                                                                  │
  │  SubmitTopUp:   validate ─▶ insert pending request               │
  │                                                                  │
  │  ApproveTopUp:  lock request ─▶ pending? ─▶ approved ─▶ credit   │
  │                                                 ─▶ journal entry │
  │                                                                  │
  │  RejectTopUp:   lock request ─▶ pending? ─▶ rejected             │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

TOP-UP STATE MACHINE:
  pending ──▶ approved   (terminal)
     │
     └─────▶ rejected   (terminal)

  Any transition out of a terminal state fails with
  ErrRequestAlreadyResolved and has no effect.

ROLES:
  The caller authenticates; the engine only reads Principal.Role.
  Approve/Reject refuse non-admin principals with ErrForbidden.

RETRIES:
  None. Store failures come back as *TransactionError; IsRetryable tells
  the caller whether the cause was a transient conflict.

EXAMPLE:
  engine := points.NewEngine(store, logger)
  res, err := engine.Purchase(ctx, who, productID)
  if errors.Is(err, points.ErrInsufficientFunds) {
      // tell the user to top up
  }

SEE ALSO:
  - store.go: Tx primitives used here
  - history.go: read-side views
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store  Store
	Logger logrus.FieldLogger

	// Now and NewID are replaceable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

// NewEngine creates an engine over the given store. A nil logger uses
// the logrus standard logger.
func NewEngine(store Store, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		Store:  store,
		Logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e *Engine) now() time.Time {
	return e.Now().UTC()
}

// PurchaseResult is returned by a successful purchase.
type PurchaseResult struct {
	NewBalance  int64
	OwnershipID OwnershipID
}

// =============================================================================
// PURCHASE
// =============================================================================

// Purchase spends the product's price from the caller's balance and
// records ownership. Fails with ErrProductNotFound, ErrAccountNotFound or
// *InsufficientFundsError, all of which leave state unchanged.
func (e *Engine) Purchase(ctx context.Context, who Principal, productID ProductID) (*PurchaseResult, error) {
	fields := logrus.Fields{"account_id": who.UserID, "product_id": productID}
	now := e.now()

	var result PurchaseResult
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		acct, err := tx.LockAccount(ctx, who.UserID)
		if err != nil {
			return err
		}

		shortage := &InsufficientFundsError{
			AccountID: acct.ID,
			Balance:   acct.Points,
			Price:     product.PointsPrice,
		}
		if acct.Points < product.PointsPrice {
			return shortage
		}

		balance, err := tx.DebitPoints(ctx, acct.ID, product.PointsPrice)
		if errors.Is(err, ErrInsufficientFunds) {
			return shortage
		}
		if err != nil {
			return err
		}

		own := Ownership{
			UserID:      acct.ID,
			ProductID:   product.ID,
			PurchasedAt: now,
			Status:      OwnershipActive,
		}
		if err := tx.InsertOwnership(ctx, &own); err != nil {
			return err
		}

		entry := Entry{
			AccountID:    acct.ID,
			Delta:        -product.PointsPrice,
			Kind:         EntryPurchase,
			ReferenceID:  strconv.FormatInt(int64(own.ID), 10),
			BalanceAfter: balance,
			CreatedAt:    now,
		}
		if err := tx.AppendEntry(ctx, &entry); err != nil {
			return err
		}

		result = PurchaseResult{NewBalance: balance, OwnershipID: own.ID}
		return nil
	})
	if err != nil {
		return nil, e.fail("purchase", err, fields)
	}

	e.Logger.WithFields(fields).WithFields(logrus.Fields{
		"ownership_id": result.OwnershipID,
		"new_balance":  result.NewBalance,
	}).Info("purchase completed")
	return &result, nil
}

// =============================================================================
// TOP-UP SUBMISSION
// =============================================================================

// SubmitTopUp records a pending top-up request. The balance is not touched.
// Duplicate submissions create duplicate pending requests.
func (e *Engine) SubmitTopUp(ctx context.Context, who Principal, sub TopUpSubmission) (TopUpID, error) {
	fields := logrus.Fields{"account_id": who.UserID, "points": sub.Points, "payment_method": sub.Method}

	at, err := sub.validate()
	if err != nil {
		return "", e.fail("submit_topup", err, fields)
	}
	if _, err := e.Store.GetAccount(ctx, who.UserID); err != nil {
		return "", e.fail("submit_topup", err, fields)
	}

	req := TopUpRequest{
		ID:            TopUpID(e.NewID()),
		UserID:        who.UserID,
		Amount:        sub.Amount,
		Points:        sub.Points,
		Method:        sub.Method,
		ProofRef:      strings.TrimSpace(sub.ProofRef),
		TransactionAt: at,
		Status:        TopUpPending,
		CreatedAt:     e.now(),
	}
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertTopUp(ctx, &req)
	})
	if err != nil {
		return "", e.fail("submit_topup", err, fields)
	}

	e.Logger.WithFields(fields).WithField("request_id", req.ID).Info("top-up submitted")
	return req.ID, nil
}

// =============================================================================
// TOP-UP APPROVAL / REJECTION
// =============================================================================

// ApproveTopUp moves a pending request to approved and credits the
// requested points exactly once.
func (e *Engine) ApproveTopUp(ctx context.Context, admin Principal, id TopUpID) (*TopUpRequest, error) {
	return e.resolve(ctx, admin, id, TopUpApproved)
}

// RejectTopUp moves a pending request to rejected. No balance change.
func (e *Engine) RejectTopUp(ctx context.Context, admin Principal, id TopUpID) (*TopUpRequest, error) {
	return e.resolve(ctx, admin, id, TopUpRejected)
}

func (e *Engine) resolve(ctx context.Context, admin Principal, id TopUpID, to TopUpStatus) (*TopUpRequest, error) {
	op := "approve_topup"
	if to == TopUpRejected {
		op = "reject_topup"
	}
	fields := logrus.Fields{"request_id": id, "admin_id": admin.UserID}

	if !admin.IsAdmin() {
		return nil, e.fail(op, fmt.Errorf("%w: %s requires the admin role", ErrForbidden, op), fields)
	}

	now := e.now()
	var resolved TopUpRequest
	var balance int64
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		req, err := tx.LockTopUp(ctx, id)
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return &AlreadyResolvedError{RequestID: id, Status: req.Status}
		}
		if err := tx.ResolveTopUp(ctx, id, to, admin.UserID, now); err != nil {
			return err
		}

		if to == TopUpApproved {
			balance, err = tx.CreditPoints(ctx, req.UserID, req.Points)
			if err != nil {
				return err
			}
			entry := Entry{
				AccountID:    req.UserID,
				Delta:        req.Points,
				Kind:         EntryTopUpCredit,
				ReferenceID:  string(id),
				BalanceAfter: balance,
				CreatedAt:    now,
			}
			if err := tx.AppendEntry(ctx, &entry); err != nil {
				if errors.Is(err, ErrDuplicateEntry) {
					return &AlreadyResolvedError{RequestID: id, Status: TopUpApproved}
				}
				return err
			}
		}

		req.Status = to
		req.ResolvedAt = &now
		req.ResolvedBy = &admin.UserID
		resolved = *req
		return nil
	})
	if err != nil {
		return nil, e.fail(op, err, fields)
	}

	log := e.Logger.WithFields(fields).WithFields(logrus.Fields{
		"account_id": resolved.UserID,
		"status":     resolved.Status,
	})
	if to == TopUpApproved {
		log = log.WithFields(logrus.Fields{"points": resolved.Points, "new_balance": balance})
	}
	log.Info("top-up resolved")
	return &resolved, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// EnsureAccount creates the account on first successful external
// authentication. New accounts start at zero points with the user role.
// An existing account is returned as stored.
func (e *Engine) EnsureAccount(ctx context.Context, profile Profile) (*Account, error) {
	fields := logrus.Fields{"account_id": profile.ID}
	if strings.TrimSpace(string(profile.ID)) == "" {
		return nil, e.fail("ensure_account", invalid("id", "is required"), fields)
	}

	acct, err := e.Store.EnsureAccount(ctx, Account{
		ID:        profile.ID,
		Name:      profile.Name,
		Email:     profile.Email,
		Points:    0,
		Role:      RoleUser,
		CreatedAt: e.now(),
	})
	if err != nil {
		return nil, e.fail("ensure_account", err, fields)
	}
	return acct, nil
}

// Balance returns the caller's account.
func (e *Engine) Balance(ctx context.Context, who Principal) (*Account, error) {
	acct, err := e.Store.GetAccount(ctx, who.UserID)
	if err != nil {
		return nil, e.fail("balance", err, logrus.Fields{"account_id": who.UserID})
	}
	return acct, nil
}

// fail logs err and returns it to the caller. Taxonomy errors pass
// through unchanged; anything else is a store failure.
func (e *Engine) fail(op string, err error, fields logrus.Fields) error {
	log := e.Logger.WithFields(fields).WithError(err)
	if isDomain(err) {
		log.Debugf("%s refused", op)
		return err
	}
	log.Errorf("%s failed", op)
	return &TransactionError{Op: op, Err: err}
}
