package points

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// READ-SIDE VIEWS
// =============================================================================

type HistoryKind string

const (
	HistoryTopUp    HistoryKind = "topup"
	HistoryPurchase HistoryKind = "purchase"
)

// HistoryItem is one row of the caller's financial history. Top-ups carry
// Amount and Status; purchases carry Details (the product title). Points is
// the requested credit for a top-up and the amount spent for a purchase.
type HistoryItem struct {
	Kind        HistoryKind
	ReferenceID string
	Points      int64
	Amount      decimal.Decimal
	Method      PaymentMethod
	Status      string
	Details     string
	CreatedAt   time.Time
}

// OwnedProducts lists the caller's purchases joined with product data.
func (e *Engine) OwnedProducts(ctx context.Context, who Principal) ([]OwnedProduct, error) {
	owned, err := e.Store.ListOwnedProducts(ctx, who.UserID)
	if err != nil {
		return nil, e.fail("owned_products", err, logrus.Fields{"account_id": who.UserID})
	}
	return owned, nil
}

// History merges the caller's top-ups (any status) and purchases, newest first.
func (e *Engine) History(ctx context.Context, who Principal) ([]HistoryItem, error) {
	fields := logrus.Fields{"account_id": who.UserID}

	topups, err := e.Store.ListTopUps(ctx, TopUpFilter{UserID: &who.UserID})
	if err != nil {
		return nil, e.fail("history", err, fields)
	}
	owned, err := e.Store.ListOwnedProducts(ctx, who.UserID)
	if err != nil {
		return nil, e.fail("history", err, fields)
	}
	entries, err := e.Store.ListEntries(ctx, who.UserID, 0)
	if err != nil {
		return nil, e.fail("history", err, fields)
	}

	// The purchase entry holds the price actually paid, which a later
	// catalog edit does not change.
	spent := make(map[string]int64, len(owned))
	for _, en := range entries {
		if en.Kind == EntryPurchase {
			spent[en.ReferenceID] = -en.Delta
		}
	}

	items := make([]HistoryItem, 0, len(topups)+len(owned))
	for _, t := range topups {
		items = append(items, HistoryItem{
			Kind:        HistoryTopUp,
			ReferenceID: string(t.ID),
			Points:      t.Points,
			Amount:      t.Amount,
			Method:      t.Method,
			Status:      string(t.Status),
			CreatedAt:   t.CreatedAt,
		})
	}
	for _, o := range owned {
		ref := strconv.FormatInt(int64(o.ID), 10)
		items = append(items, HistoryItem{
			Kind:        HistoryPurchase,
			ReferenceID: ref,
			Points:      spent[ref],
			Status:      string(o.Status),
			Details:     o.Title,
			CreatedAt:   o.PurchasedAt,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// Entries returns the caller's balance journal, newest first.
func (e *Engine) Entries(ctx context.Context, who Principal, limit int) ([]Entry, error) {
	entries, err := e.Store.ListEntries(ctx, who.UserID, limit)
	if err != nil {
		return nil, e.fail("entries", err, logrus.Fields{"account_id": who.UserID})
	}
	return entries, nil
}

// ListTopUps is the admin review queue.
func (e *Engine) ListTopUps(ctx context.Context, admin Principal, filter TopUpFilter) ([]TopUpRequest, error) {
	fields := logrus.Fields{"admin_id": admin.UserID}
	if !admin.IsAdmin() {
		return nil, e.fail("list_topups", fmt.Errorf("%w: listing top-ups requires the admin role", ErrForbidden), fields)
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, e.fail("list_topups", invalid("status", "must be pending, approved or rejected"), fields)
	}

	reqs, err := e.Store.ListTopUps(ctx, filter)
	if err != nil {
		return nil, e.fail("list_topups", err, fields)
	}
	return reqs, nil
}

// =============================================================================
// SERVER BINDING
// =============================================================================

// UpdateServerBinding records the server address a purchased product runs
// on. Only the owner may change it; someone else's record reads as
// ErrOwnershipNotFound.
func (e *Engine) UpdateServerBinding(ctx context.Context, who Principal, id OwnershipID, productID ProductID, address string) (*Ownership, error) {
	fields := logrus.Fields{"account_id": who.UserID, "ownership_id": id, "product_id": productID}

	address = strings.TrimSpace(address)
	if address == "" {
		return nil, e.fail("update_binding", invalid("address", "is required"), fields)
	}

	now := e.now()
	var updated Ownership
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		own, err := tx.GetOwnership(ctx, id)
		if err != nil {
			return err
		}
		if own.UserID != who.UserID || own.ProductID != productID {
			return ErrOwnershipNotFound
		}
		if err := tx.SetServerBinding(ctx, id, address, now); err != nil {
			return err
		}
		own.ServerBinding = &address
		own.BindingUpdatedAt = &now
		updated = *own
		return nil
	})
	if err != nil {
		return nil, e.fail("update_binding", err, fields)
	}

	e.Logger.WithFields(fields).WithField("address", address).Info("server binding updated")
	return &updated, nil
}
