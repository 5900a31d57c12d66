package mysql_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/points/pointstest"
	"github.com/warp/points-engine/store/mysql"
	"github.com/warp/points-engine/ticket/tickettest"
)

// Integration tests run only when POINTS_TEST_MYSQL_DSN names a disposable
// database, e.g. "root:secret@tcp(127.0.0.1:3306)/points_test".

var tables = []string{
	"ticket_comments", "ticket_files", "tickets",
	"ledger_entries", "topup_requests", "user_products", "products", "users",
}

func newTestStore(t *testing.T) *mysql.Store {
	dsn := os.Getenv("POINTS_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("POINTS_TEST_MYSQL_DSN not set")
	}
	ctx := context.Background()

	store, err := mysql.New(ctx, dsn, mysql.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, table := range tables {
		_, err := store.DB().ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return store
}

func TestPointsConformance(t *testing.T) {
	pointstest.Run(t, func(t *testing.T) points.Store { return newTestStore(t) })
}

func TestTicketConformance(t *testing.T) {
	tickettest.Run(t, func(t *testing.T) tickettest.Store { return newTestStore(t) })
}
