package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/points/pointstest"
	"github.com/warp/points-engine/store/sqlite"
	"github.com/warp/points-engine/ticket/tickettest"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPointsConformance(t *testing.T) {
	pointstest.Run(t, func(t *testing.T) points.Store { return newTestStore(t) })
}

func TestTicketConformance(t *testing.T) {
	tickettest.Run(t, func(t *testing.T) tickettest.Store { return newTestStore(t) })
}

func TestPurchase_ConstraintFailureRollsBack(t *testing.T) {
	// GIVEN: a trigger that makes every ownership insert fail inside the database
	store := newTestStore(t)
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	engine := points.NewEngine(store, logger)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.EnsureAccount(ctx, points.Account{ID: "user-1", Points: 500, Role: points.RoleUser, CreatedAt: now})
	require.NoError(t, err)
	p := points.Product{Title: "Auto Farm", PointsPrice: 300, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateProduct(ctx, &p))

	_, err = store.DB().ExecContext(ctx, `
		CREATE TRIGGER reject_ownership BEFORE INSERT ON user_products
		BEGIN SELECT RAISE(ABORT, 'ownership rejected'); END`)
	require.NoError(t, err)

	// WHEN: purchasing
	_, err = engine.Purchase(ctx, points.Principal{UserID: "user-1", Role: points.RoleUser}, p.ID)

	// THEN: the debit that ran first is rolled back
	require.ErrorIs(t, err, points.ErrTransactionFailed)
	assert.Contains(t, err.Error(), "ownership rejected")

	acct, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.Points)

	owned, err := store.ListOwnedProducts(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestBalanceCheckConstraint(t *testing.T) {
	// The schema itself refuses a negative balance.
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.EnsureAccount(ctx, points.Account{ID: "user-1", Points: 10, Role: points.RoleUser})
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx, `UPDATE users SET points = -1 WHERE id = 'user-1'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHECK constraint failed")
}

func TestReopen_PersistsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = store.EnsureAccount(ctx, points.Account{ID: "user-1", Points: 42, Role: points.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	acct, err := reopened.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), acct.Points)
	assert.Equal(t, points.RoleAdmin, acct.Role)
}
