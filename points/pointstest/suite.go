/*
Package pointstest is the conformance suite every points.Store must pass.

USAGE:
    func TestConformance(t *testing.T) {
        pointstest.Run(t, func(t *testing.T) points.Store {
            s, err := sqlite.New(":memory:")
            require.NoError(t, err)
            t.Cleanup(func() { s.Close() })
            return s
        })
    }

Each subtest receives a fresh, empty store from the factory.
*/
package pointstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/points"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) points.Store

// =============================================================================
// FIXTURE
// =============================================================================

type clock struct {
	mu sync.Mutex
	t  time.Time
}

// Now advances one second per call so rows get distinct timestamps.
func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	store  points.Store
	engine *points.Engine
	clock  *clock
}

func newFixture(t *testing.T, newStore Factory) *fixture {
	store := newStore(t)
	logger, _ := test.NewNullLogger()
	c := &clock{t: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}

	engine := points.NewEngine(store, logger)
	engine.Now = c.Now
	return &fixture{store: store, engine: engine, clock: c}
}

func (f *fixture) account(t *testing.T, id string, balance int64) points.Principal {
	t.Helper()
	_, err := f.store.EnsureAccount(context.Background(), points.Account{
		ID:        points.AccountID(id),
		Name:      id,
		Email:     id + "@example.com",
		Points:    balance,
		Role:      points.RoleUser,
		CreatedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	return points.Principal{UserID: points.AccountID(id), Role: points.RoleUser}
}

func (f *fixture) admin(t *testing.T) points.Principal {
	t.Helper()
	_, err := f.store.EnsureAccount(context.Background(), points.Account{
		ID:        "admin-1",
		Name:      "Admin",
		Role:      points.RoleAdmin,
		CreatedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	return points.Principal{UserID: "admin-1", Role: points.RoleAdmin}
}

func (f *fixture) product(t *testing.T, title string, price int64) points.ProductID {
	t.Helper()
	now := f.clock.Now()
	p := points.Product{Title: title, Category: "script", PointsPrice: price, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.store.CreateProduct(context.Background(), &p))
	require.NotZero(t, p.ID)
	return p.ID
}

func (f *fixture) balance(t *testing.T, who points.Principal) int64 {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), who.UserID)
	require.NoError(t, err)
	return acct.Points
}

func (f *fixture) owned(t *testing.T, who points.Principal) []points.OwnedProduct {
	t.Helper()
	owned, err := f.store.ListOwnedProducts(context.Background(), who.UserID)
	require.NoError(t, err)
	return owned
}

func (f *fixture) submit(t *testing.T, who points.Principal, pts int64) points.TopUpID {
	t.Helper()
	id, err := f.engine.SubmitTopUp(context.Background(), who, points.TopUpSubmission{
		Amount:        decimal.NewFromInt(pts),
		Points:        pts,
		Method:        points.PaymentBankTransfer,
		ProofRef:      "proofs/slip.png",
		TransactionAt: "2025-02-28T14:30:00Z",
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) topup(t *testing.T, id points.TopUpID) points.TopUpRequest {
	t.Helper()
	reqs, err := f.store.ListTopUps(context.Background(), points.TopUpFilter{})
	require.NoError(t, err)
	for _, r := range reqs {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("top-up %s not listed", id)
	return points.TopUpRequest{}
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errInjected = errors.New("injected failure")

// failingStore fails the named Tx step inside every transaction.
type failingStore struct {
	points.Store
	step string
}

func (s failingStore) WithTx(ctx context.Context, fn func(points.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx points.Tx) error {
		return fn(failingTx{Tx: tx, step: s.step})
	})
}

type failingTx struct {
	points.Tx
	step string
}

func (tx failingTx) InsertOwnership(ctx context.Context, o *points.Ownership) error {
	if tx.step == "ownership" {
		return errInjected
	}
	return tx.Tx.InsertOwnership(ctx, o)
}

func (tx failingTx) AppendEntry(ctx context.Context, e *points.Entry) error {
	if tx.step == "entry" {
		return errInjected
	}
	return tx.Tx.AppendEntry(ctx, e)
}

// =============================================================================
// SUITE
// =============================================================================

// Run executes every conformance test against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"Scenario1_PurchaseWithinBalance", testPurchaseWithinBalance},
		{"Scenario2_PurchaseInsufficientFunds", testPurchaseInsufficientFunds},
		{"Scenario3_SubmitThenApprove", testSubmitThenApprove},
		{"Scenario4_RejectThenApprove", testRejectThenApprove},
		{"Purchase_ExactBalance", testPurchaseExactBalance},
		{"Purchase_UnknownProduct", testPurchaseUnknownProduct},
		{"Purchase_UnknownAccount", testPurchaseUnknownAccount},
		{"Purchase_RollsBackOnFailure", testPurchaseRollsBack},
		{"Purchase_ConcurrentExactBalance", testConcurrentPurchase},
		{"Approve_Twice", testApproveTwice},
		{"Approve_ThenReject", testApproveThenReject},
		{"Approve_ConcurrentCreditsOnce", testConcurrentApprove},
		{"Approve_UnknownRequest", testApproveUnknown},
		{"Approve_RequiresAdmin", testApproveRequiresAdmin},
		{"SubmitTopUp_Validation", testSubmitValidation},
		{"SubmitTopUp_UnknownAccount", testSubmitUnknownAccount},
		{"SubmitTopUp_DuplicatesAllowed", testSubmitDuplicates},
		{"ListTopUps_Filter", testListTopUpsFilter},
		{"History_NewestFirst", testHistory},
		{"Entries_Journal", testEntries},
		{"EnsureAccount_Idempotent", testEnsureAccount},
		{"ServerBinding_OwnerOnly", testServerBinding},
		{"Catalog_CRUD", testCatalogStore},
		{"BalanceNeverNegative", testBalanceNeverNegative},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) { tc.fn(t, newStore) })
	}
}

func testPurchaseWithinBalance(t *testing.T, newStore Factory) {
	// GIVEN: balance 500, product priced 300
	f := newFixture(t, newStore)
	ctx := context.Background()
	user := f.account(t, "user-1", 500)
	product := f.product(t, "Auto Farm", 300)

	// WHEN: purchasing
	res, err := f.engine.Purchase(ctx, user, product)

	// THEN: balance 200 and one ownership record
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.NewBalance)
	assert.Equal(t, int64(200), f.balance(t, user))

	owned := f.owned(t, user)
	require.Len(t, owned, 1)
	assert.Equal(t, res.OwnershipID, owned[0].ID)
	assert.Equal(t, product, owned[0].ProductID)
	assert.Equal(t, points.OwnershipActive, owned[0].Status)
	assert.Equal(t, "Auto Farm", owned[0].Title)
	assert.Nil(t, owned[0].ServerBinding)
}

func testPurchaseInsufficientFunds(t *testing.T, newStore Factory) {
	// GIVEN: balance 100, product priced 300
	f := newFixture(t, newStore)
	user := f.account(t, "user-1", 100)
	product := f.product(t, "Auto Farm", 300)

	// WHEN: purchasing
	_, err := f.engine.Purchase(context.Background(), user, product)

	// THEN: refused, nothing changed
	require.ErrorIs(t, err, points.ErrInsufficientFunds)
	var short *points.InsufficientFundsError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, int64(100), short.Balance)
	assert.Equal(t, int64(300), short.Price)

	assert.Equal(t, int64(100), f.balance(t, user))
	assert.Empty(t, f.owned(t, user))
}

func testSubmitThenApprove(t *testing.T, newStore Factory) {
	// GIVEN: a user with no points
	f := newFixture(t, newStore)
	ctx := context.Background()
	user := f.account(t, "user-1", 0)
	admin := f.admin(t)

	// WHEN: submitting a 1000 point bank transfer
	id, err := f.engine.SubmitTopUp(ctx, user, points.TopUpSubmission{
		Amount:        decimal.NewFromInt(1000),
		Points:        1000,
		Method:        points.PaymentBankTransfer,
		ProofRef:      "proofs/slip-1000.png",
		TransactionAt: "2025-02-28T14:30:00+07:00",
	})
	require.NoError(t, err)

	// THEN: a pending request exists and the balance is untouched
	req := f.topup(t, id)
	assert.Equal(t, points.TopUpPending, req.Status)
	assert.True(t, decimal.NewFromInt(1000).Equal(req.Amount))
	assert.True(t, time.Date(2025, 2, 28, 7, 30, 0, 0, time.UTC).Equal(req.TransactionAt))
	assert.Equal(t, int64(0), f.balance(t, user))

	// WHEN: the admin approves
	resolved, err := f.engine.ApproveTopUp(ctx, admin, id)

	// THEN: approved and credited exactly 1000
	require.NoError(t, err)
	assert.Equal(t, points.TopUpApproved, resolved.Status)
	assert.Equal(t, int64(1000), f.balance(t, user))

	req = f.topup(t, id)
	assert.Equal(t, points.TopUpApproved, req.Status)
	require.NotNil(t, req.ResolvedBy)
	assert.Equal(t, admin.UserID, *req.ResolvedBy)
	assert.NotNil(t, req.ResolvedAt)
}

func testRejectThenApprove(t *testing.T, newStore Factory) {
	// GIVEN: a pending request
	f := newFixture(t, newStore)
	ctx := context.Background()
	user := f.account(t, "user-1", 50)
	admin := f.admin(t)
	id := f.submit(t, user, 500)

	// WHEN: rejected
	resolved, err := f.engine.RejectTopUp(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, points.TopUpRejected, resolved.Status)

	// THEN: balance unchanged and a later approval is refused
	assert.Equal(t, int64(50), f.balance(t, user))

	_, err = f.engine.ApproveTopUp(ctx, admin, id)
	require.ErrorIs(t, err, points.ErrRequestAlreadyResolved)
	var already *points.AlreadyResolvedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, points.TopUpRejected, already.Status)

	assert.Equal(t, int64(50), f.balance(t, user))
	assert.Equal(t, points.TopUpRejected, f.topup(t, id).Status)
}

func testPurchaseExactBalance(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	user := f.account(t, "user-1", 300)
	product := f.product(t, "Auto Farm", 300)

	res, err := f.engine.Purchase(context.Background(), user, product)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.NewBalance)
	assert.Equal(t, int64(0), f.balance(t, user))
}

func testPurchaseUnknownProduct(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	user := f.account(t, "user-1", 300)

	_, err := f.engine.Purchase(context.Background(), user, 9999)
	require.ErrorIs(t, err, points.ErrProductNotFound)
	assert.True(t, points.IsNotFound(err))
	assert.Equal(t, int64(300), f.balance(t, user))
}

func testPurchaseUnknownAccount(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	product := f.product(t, "Auto Farm", 300)

	_, err := f.engine.Purchase(context.Background(), points.Principal{UserID: "ghost", Role: points.RoleUser}, product)
	require.ErrorIs(t, err, points.ErrAccountNotFound)
}

func testPurchaseRollsBack(t *testing.T, newStore Factory) {
	for _, step := range []string{"ownership", "entry"} {
		t.Run(step, func(t *testing.T) {
			// GIVEN: a store whose transaction fails after the debit
			f := newFixture(t, newStore)
			user := f.account(t, "user-1", 500)
			product := f.product(t, "Auto Farm", 300)
			f.engine.Store = failingStore{Store: f.store, step: step}

			// WHEN: purchasing
			_, err := f.engine.Purchase(context.Background(), user, product)

			// THEN: a transaction failure and no partial effect
			require.ErrorIs(t, err, points.ErrTransactionFailed)
			require.ErrorIs(t, err, errInjected)
			var txErr *points.TransactionError
			require.ErrorAs(t, err, &txErr)
			assert.Equal(t, "purchase", txErr.Op)

			assert.Equal(t, int64(500), f.balance(t, user))
			assert.Empty(t, f.owned(t, user))

			entries, err := f.store.ListEntries(context.Background(), user.UserID, 0)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func testConcurrentPurchase(t *testing.T, newStore Factory) {
	// GIVEN: balance exactly X and two products priced X
	f := newFixture(t, newStore)
	user := f.account(t, "user-1", 300)
	first := f.product(t, "Auto Farm", 300)
	second := f.product(t, "Auto Fish", 300)

	// WHEN: both are purchased at once
	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, p := range []points.ProductID{first, second} {
		wg.Add(1)
		go func(i int, p points.ProductID) {
			defer wg.Done()
			<-start
			_, errs[i] = f.engine.Purchase(context.Background(), user, p)
		}(i, p)
	}
	close(start)
	wg.Wait()

	// THEN: exactly one succeeds
	succeeded, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, points.ErrInsufficientFunds):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, short)
	assert.Equal(t, int64(0), f.balance(t, user))
	assert.Len(t, f.owned(t, user), 1)
}

func testApproveTwice(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()
	user := f.account(t, "user-1", 0)
	admin := f.admin(t)
	id := f.submit(t, user, 700)

	_, err := f.engine.ApproveTopUp(ctx, admin, id)
	require.NoError(t, err)

	_, err = f.engine.ApproveTopUp(ctx, admin, id)
	require.ErrorIs(t, err, points.ErrRequestAlreadyResolved)
	assert.True(t, points.IsClientError(err))
	assert.Equal(t, int64(700), f.balance(t, user))
}

func testApproveThenReject(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()
	user := f.account(t, "user-1", 0)
	admin := f.admin(t)
	id := f.submit(t, user, 700)

	_, err := f.engine.ApproveTopUp(ctx, admin, id)
	require.NoError(t, err)

	_, err = f.engine.RejectTopUp(ctx, admin, id)
	require.ErrorIs(t, err, points.ErrRequestAlreadyResolved)
	assert.Equal(t, int64(700), f.balance(t, user))
	assert.Equal(t, points.TopUpApproved, f.topup(t, id).Status)
}

func testConcurrentApprove(t *testing.T, newStore Factory) {
	// GIVEN: one pending request
	f := newFixture(t, newStore)
	user := f.account(t, "user-1", 0)
	admin := f.admin(t)
	id := f.submit(t, user, 250)

	// WHEN: approved and rejected concurrently, several times over
	const n = 4
	start := make(chan struct{})
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				_, errs[i] = f.engine.ApproveTopUp(context.Background(), admin, id)
			} else {
				_, errs[i] = f.engine.RejectTopUp(context.Background(), admin, id)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	// THEN: exactly one transition won
	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, points.ErrRequestAlreadyResolved)
	}
	assert.Equal(t, 1, won)

	final := f.topup(t, id).Status
	if final == points.TopUpApproved {
		assert.Equal(t, int64(250), f.balance(t, user))
	} else {
		assert.Equal(t, points.TopUpRejected, final)
		assert.Equal(t, int64(0), f.balance(t, user))
	}
}

func testApproveUnknown(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	admin := f.admin(t)

	_, err := f.engine.ApproveTopUp(context.Background(), admin, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, points.ErrRequestNotFound)

	_, err = f.engine.RejectTopUp(context.Background(), admin, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, points.ErrRequestNotFound)
}

func testApproveRequiresAdmin(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()
	user := f.account(t, "user-1", 0)
	id := f.submit(t, user, 100)

	_, err := f.engine.ApproveTopUp(ctx, user, id)
	require.ErrorIs(t, err, points.ErrForbidden)
	_, err = f.engine.RejectTopUp(ctx, user, id)
	require.ErrorIs(t, err, points.ErrForbidden)

	assert.Equal(t, points.TopUpPending, f.topup(t, id).Status)
	assert.Equal(t, int64(0), f.balance(t, user))
}

func testSubmitValidation(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	user := f.account(t, "user-1", 0)

	valid := points.TopUpSubmission{
		Amount:        decimal.RequireFromString("99.50"),
		Points:        100,
		Method:        points.PaymentTrueWallet,
		ProofRef:      "proofs/wallet.jpg",
		TransactionAt: "2025-02-28T14:30:00Z",
	}

	tests := []struct {
		field  string
		mutate func(s *points.TopUpSubmission)
	}{
		{"amount", func(s *points.TopUpSubmission) { s.Amount = decimal.Zero }},
		{"amount", func(s *points.TopUpSubmission) { s.Amount = decimal.NewFromInt(-5) }},
		{"amount", func(s *points.TopUpSubmission) { s.Amount = decimal.RequireFromString("0.001") }},
		{"amount", func(s *points.TopUpSubmission) { s.Amount = decimal.RequireFromString("10.005") }},
		{"amount", func(s *points.TopUpSubmission) { s.Amount = decimal.New(1, 12) }},
		{"points", func(s *points.TopUpSubmission) { s.Points = 0 }},
		{"payment_method", func(s *points.TopUpSubmission) { s.Method = "paypal" }},
		{"transaction_date", func(s *points.TopUpSubmission) { s.TransactionAt = "yesterday" }},
		{"proof_reference", func(s *points.TopUpSubmission) { s.ProofRef = "  " }},
	}
	for _, tc := range tests {
		t.Run(tc.field, func(t *testing.T) {
			sub := valid
			tc.mutate(&sub)

			_, err := f.engine.SubmitTopUp(context.Background(), user, sub)

			require.ErrorIs(t, err, points.ErrValidation)
			var verr *points.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	reqs, err := f.store.ListTopUps(context.Background(), points.TopUpFilter{})
	require.NoError(t, err)
	assert.Empty(t, reqs)

	_, err = f.engine.SubmitTopUp(context.Background(), user, valid)
	require.NoError(t, err)

	// Trailing zeros and the largest storable amount are accepted.
	for _, amount := range []string{"10.500", "999999999999.99"} {
		sub := valid
		sub.Amount = decimal.RequireFromString(amount)
		_, err = f.engine.SubmitTopUp(context.Background(), user, sub)
		require.NoError(t, err, amount)
	}
}

func testSubmitUnknownAccount(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)

	_, err := f.engine.SubmitTopUp(context.Background(), points.Principal{UserID: "ghost"}, points.TopUpSubmission{
		Amount:        decimal.NewFromInt(10),
		Points:        10,
		Method:        points.PaymentBankTransfer,
		ProofRef:      "proofs/x.png",
		TransactionAt: "2025-02-28T14:30:00Z",
	})
	require.ErrorIs(t, err, points.ErrAccountNotFound)
}

func testSubmitDuplicates(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	user := f.account(t, "user-1", 0)

	a := f.submit(t, user, 100)
	b := f.submit(t, user, 100)
	assert.NotEqual(t, a, b)

	pending := points.TopUpPending
	reqs, err := f.store.ListTopUps(context.Background(), points.TopUpFilter{Status: &pending})
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
}

func testListTopUpsFilter(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()
	alice := f.account(t, "alice", 0)
	bob := f.account(t, "bob", 0)
	admin := f.admin(t)

	first := f.submit(t, alice, 100)
	second := f.submit(t, bob, 200)
	third := f.submit(t, alice, 300)
	_, err := f.engine.ApproveTopUp(ctx, admin, second)
	require.NoError(t, err)

	all, err := f.engine.ListTopUps(ctx, admin, points.TopUpFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []points.TopUpID{third, second, first}, []points.TopUpID{all[0].ID, all[1].ID, all[2].ID})

	pending := points.TopUpPending
	queue, err := f.engine.ListTopUps(ctx, admin, points.TopUpFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, third, queue[0].ID)
	assert.Equal(t, first, queue[1].ID)

	mine, err := f.store.ListTopUps(ctx, points.TopUpFilter{UserID: &bob.UserID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, second, mine[0].ID)

	_, err = f.engine.ListTopUps(ctx, alice, points.TopUpFilter{})
	require.ErrorIs(t, err, points.ErrForbidden)

	bogus := points.TopUpStatus("lost")
	_, err = f.engine.ListTopUps(ctx, admin, points.TopUpFilter{Status: &bogus})
	require.ErrorIs(t, err, points.ErrValidation)
}

func testHistory(t *testing.T, newStore Factory) {
	// GIVEN: a top-up, then a purchase, then another top-up
	f := newFixture(t, newStore)
	ctx := context.Background()
	user := f.account(t, "user-1", 1000)
	admin := f.admin(t)
	product := f.product(t, "Auto Farm", 300)

	first := f.submit(t, user, 100)
	res, err := f.engine.Purchase(ctx, user, product)
	require.NoError(t, err)
	second := f.submit(t, user, 200)
	_, err = f.engine.RejectTopUp(ctx, admin, second)
	require.NoError(t, err)

	// AND: the product is repriced after the sale
	p, err := f.store.GetProduct(ctx, product)
	require.NoError(t, err)
	p.PointsPrice = 450
	require.NoError(t, f.store.UpdateProduct(ctx, *p))

	// WHEN: reading the history
	items, err := f.engine.History(ctx, user)

	// THEN: newest first, any status
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, points.HistoryTopUp, items[0].Kind)
	assert.Equal(t, string(second), items[0].ReferenceID)
	assert.Equal(t, string(points.TopUpRejected), items[0].Status)

	assert.Equal(t, points.HistoryPurchase, items[1].Kind)
	assert.Equal(t, fmt.Sprint(res.OwnershipID), items[1].ReferenceID)
	assert.Equal(t, "Auto Farm", items[1].Details)
	assert.Equal(t, int64(300), items[1].Points, "purchase shows the price paid")

	assert.Equal(t, points.HistoryTopUp, items[2].Kind)
	assert.Equal(t, string(first), items[2].ReferenceID)
	assert.Equal(t, string(points.TopUpPending), items[2].Status)
	assert.Equal(t, int64(100), items[2].Points)
}

func testEntries(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()
	user := f.account(t, "user-1", 0)
	admin := f.admin(t)
	product := f.product(t, "Auto Farm", 300)

	id := f.submit(t, user, 500)
	_, err := f.engine.ApproveTopUp(ctx, admin, id)
	require.NoError(t, err)
	_, err = f.engine.Purchase(ctx, user, product)
	require.NoError(t, err)

	entries, err := f.engine.Entries(ctx, user, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, points.EntryPurchase, entries[0].Kind)
	assert.Equal(t, int64(-300), entries[0].Delta)
	assert.Equal(t, int64(200), entries[0].BalanceAfter)

	assert.Equal(t, points.EntryTopUpCredit, entries[1].Kind)
	assert.Equal(t, string(id), entries[1].ReferenceID)
	assert.Equal(t, int64(500), entries[1].Delta)
	assert.Equal(t, int64(500), entries[1].BalanceAfter)

	limited, err := f.engine.Entries(ctx, user, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, points.EntryPurchase, limited[0].Kind)
}

func testEnsureAccount(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()

	created, err := f.engine.EnsureAccount(ctx, points.Profile{ID: "discord-42", Name: "Nok", Email: "nok@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), created.Points)
	assert.Equal(t, points.RoleUser, created.Role)

	// Existing rows are returned unchanged, including balance.
	id := f.submit(t, points.Principal{UserID: "discord-42"}, 40)
	_, err = f.engine.ApproveTopUp(ctx, f.admin(t), id)
	require.NoError(t, err)

	again, err := f.engine.EnsureAccount(ctx, points.Profile{ID: "discord-42", Name: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, "Nok", again.Name)
	assert.Equal(t, int64(40), again.Points)

	_, err = f.engine.EnsureAccount(ctx, points.Profile{ID: " "})
	require.ErrorIs(t, err, points.ErrValidation)
}

func testServerBinding(t *testing.T, newStore Factory) {
	// GIVEN: alice owns a product, bob does not
	f := newFixture(t, newStore)
	ctx := context.Background()
	alice := f.account(t, "alice", 500)
	bob := f.account(t, "bob", 500)
	product := f.product(t, "Auto Farm", 100)

	res, err := f.engine.Purchase(ctx, alice, product)
	require.NoError(t, err)

	// WHEN: alice binds a server
	own, err := f.engine.UpdateServerBinding(ctx, alice, res.OwnershipID, product, " 10.0.0.7 ")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", *own.ServerBinding)

	owned := f.owned(t, alice)
	require.Len(t, owned, 1)
	require.NotNil(t, owned[0].ServerBinding)
	assert.Equal(t, "10.0.0.7", *owned[0].ServerBinding)
	assert.NotNil(t, owned[0].BindingUpdatedAt)

	// THEN: bob cannot touch it, nor can a mismatched product id
	_, err = f.engine.UpdateServerBinding(ctx, bob, res.OwnershipID, product, "6.6.6.6")
	require.ErrorIs(t, err, points.ErrOwnershipNotFound)
	_, err = f.engine.UpdateServerBinding(ctx, alice, res.OwnershipID, product+1000, "6.6.6.6")
	require.ErrorIs(t, err, points.ErrOwnershipNotFound)
	_, err = f.engine.UpdateServerBinding(ctx, alice, res.OwnershipID+1000, product, "6.6.6.6")
	require.ErrorIs(t, err, points.ErrOwnershipNotFound)
	_, err = f.engine.UpdateServerBinding(ctx, alice, res.OwnershipID, product, "")
	require.ErrorIs(t, err, points.ErrValidation)

	assert.Equal(t, "10.0.0.7", *f.owned(t, alice)[0].ServerBinding)
	assert.Equal(t, int64(400), f.balance(t, alice))
}

func testCatalogStore(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()

	a := f.product(t, "Auto Farm", 100)
	b := f.product(t, "Auto Fish", 200)

	list, err := f.store.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, b, list[1].ID)

	p, err := f.store.GetProduct(ctx, b)
	require.NoError(t, err)
	p.PointsPrice = 250
	p.Version = "2.0"
	require.NoError(t, f.store.UpdateProduct(ctx, *p))

	got, err := f.store.GetProduct(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.PointsPrice)
	assert.Equal(t, "2.0", got.Version)

	err = f.store.UpdateProduct(ctx, points.Product{ID: 9999, Title: "x", PointsPrice: 1})
	require.ErrorIs(t, err, points.ErrProductNotFound)
	_, err = f.store.GetProduct(ctx, 9999)
	require.ErrorIs(t, err, points.ErrProductNotFound)
}

func testBalanceNeverNegative(t *testing.T, newStore Factory) {
	// GIVEN: an account that can afford three of five purchases
	f := newFixture(t, newStore)
	user := f.account(t, "user-1", 300)
	var products []points.ProductID
	for i := 0; i < 5; i++ {
		products = append(products, f.product(t, fmt.Sprintf("Item %d", i), 100))
	}

	// WHEN: all five are attempted concurrently
	var wg sync.WaitGroup
	start := make(chan struct{})
	var mu sync.Mutex
	succeeded := 0
	for _, p := range products {
		wg.Add(1)
		go func(p points.ProductID) {
			defer wg.Done()
			<-start
			_, err := f.engine.Purchase(context.Background(), user, p)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, points.ErrInsufficientFunds)
		}(p)
	}
	close(start)
	wg.Wait()

	// THEN: exactly three succeed and the balance is zero, not negative
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(0), f.balance(t, user))
	assert.Len(t, f.owned(t, user), 3)
}
