package points_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/cache"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/memory"
)

// listHookStore runs during once, after ListProducts has read its rows.
type listHookStore struct {
	*memory.Store
	lists  int
	during func()
}

func (s *listHookStore) ListProducts(ctx context.Context) ([]points.Product, error) {
	s.lists++
	products, err := s.Store.ListProducts(ctx)
	if f := s.during; f != nil {
		s.during = nil
		f()
	}
	return products, err
}

func newTestCatalog(t *testing.T) (*points.Catalog, *listHookStore) {
	t.Helper()
	store := &listHookStore{Store: memory.New()}
	c := cache.NewMemory(time.Minute)
	t.Cleanup(func() { c.Close() })
	logger, _ := test.NewNullLogger()
	return points.NewCatalog(store, c, logger), store
}

var catalogAdmin = points.Principal{UserID: "admin-1", Role: points.RoleAdmin}

func TestCatalog_ListServedFromCache(t *testing.T) {
	catalog, store := newTestCatalog(t)
	ctx := context.Background()
	_, err := catalog.Create(ctx, catalogAdmin, points.ProductInput{Title: "Auto Farm", PointsPrice: 300})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		products, err := catalog.List(ctx)
		require.NoError(t, err)
		require.Len(t, products, 1)
	}
	assert.Equal(t, 1, store.lists)
}

func TestCatalog_EditDuringFillIsNotCached(t *testing.T) {
	// GIVEN: a product and an admin edit that lands while List is loading
	catalog, store := newTestCatalog(t)
	ctx := context.Background()
	p, err := catalog.Create(ctx, catalogAdmin, points.ProductInput{Title: "Auto Farm", PointsPrice: 300})
	require.NoError(t, err)

	store.during = func() {
		_, err := catalog.Update(ctx, catalogAdmin, p.ID, points.ProductInput{Title: "Auto Farm v2", PointsPrice: 350})
		require.NoError(t, err)
	}

	// WHEN: the racing List returns its pre-edit rows
	first, err := catalog.List(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "Auto Farm", first[0].Title)

	// THEN: the next List reloads instead of serving the stale fill
	second, err := catalog.List(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "Auto Farm v2", second[0].Title)
	assert.Equal(t, int64(350), second[0].PointsPrice)
	assert.Equal(t, 2, store.lists)
}
