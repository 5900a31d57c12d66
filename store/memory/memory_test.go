package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/points/pointstest"
	"github.com/warp/points-engine/store/memory"
	"github.com/warp/points-engine/ticket/tickettest"
)

func TestPointsConformance(t *testing.T) {
	pointstest.Run(t, func(t *testing.T) points.Store { return memory.New() })
}

func TestTicketConformance(t *testing.T) {
	tickettest.Run(t, func(t *testing.T) tickettest.Store { return memory.New() })
}

func TestWithTx_CancelledContext(t *testing.T) {
	// GIVEN: a cancelled context
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN: starting a transaction
	called := false
	err := store.WithTx(ctx, func(points.Tx) error {
		called = true
		return nil
	})

	// THEN: fn never runs
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestEnsureAccount_KeepsExistingRow(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	_, err := store.EnsureAccount(ctx, points.Account{ID: "u", Points: 10, Role: points.RoleAdmin})
	require.NoError(t, err)

	got, err := store.EnsureAccount(ctx, points.Account{ID: "u", Points: 0, Role: points.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Points)
	assert.Equal(t, points.RoleAdmin, got.Role)
}
