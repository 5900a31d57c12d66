package points

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/points-engine/cache"
)

// =============================================================================
// CATALOG - Product browsing and admin edits
// =============================================================================

const (
	catalogListKey    = "catalog:products"
	DefaultCatalogTTL = 5 * time.Minute
)

func catalogProductKey(id ProductID) string {
	return fmt.Sprintf("catalog:product:%d", id)
}

// Catalog serves product reads through a read-through cache. A failing
// cache is logged and bypassed. Purchase reads prices from the Store
// inside its transaction, never from here.
//
// Every write bumps a generation counter. A fill that loaded before a
// write in this process is evicted instead of kept.
type Catalog struct {
	Store  CatalogStore
	Cache  cache.Cache // nil disables caching
	TTL    time.Duration
	Logger logrus.FieldLogger
	Now    func() time.Time

	gen atomic.Uint64
}

func NewCatalog(store CatalogStore, c cache.Cache, logger logrus.FieldLogger) *Catalog {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Catalog{
		Store:  store,
		Cache:  c,
		TTL:    DefaultCatalogTTL,
		Logger: logger,
		Now:    time.Now,
	}
}

// List returns every product, ordered by id.
func (c *Catalog) List(ctx context.Context) ([]Product, error) {
	var products []Product
	err := c.cached(ctx, catalogListKey, &products, func() (any, error) {
		return c.Store.ListProducts(ctx)
	})
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}

func (c *Catalog) Get(ctx context.Context, id ProductID) (*Product, error) {
	var p Product
	err := c.cached(ctx, catalogProductKey(id), &p, func() (any, error) {
		return c.Store.GetProduct(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create adds a product. Admin only.
func (c *Catalog) Create(ctx context.Context, admin Principal, in ProductInput) (*Product, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("%w: creating products requires the admin role", ErrForbidden)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := c.Now().UTC()
	p := Product{CreatedAt: now, UpdatedAt: now}
	in.apply(&p)
	if err := c.Store.CreateProduct(ctx, &p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	c.invalidate(ctx, p.ID)
	c.Logger.WithFields(logrus.Fields{"product_id": p.ID, "admin_id": admin.UserID}).Info("product created")
	return &p, nil
}

// Update replaces the editable fields of a product. Admin only.
func (c *Catalog) Update(ctx context.Context, admin Principal, id ProductID, in ProductInput) (*Product, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("%w: editing products requires the admin role", ErrForbidden)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	p, err := c.Store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(p)
	p.UpdatedAt = c.Now().UTC()
	if err := c.Store.UpdateProduct(ctx, *p); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update product %d: %w", id, err)
	}

	c.invalidate(ctx, id)
	c.Logger.WithFields(logrus.Fields{"product_id": id, "admin_id": admin.UserID}).Info("product updated")
	return p, nil
}

// cached decodes key into dst, or calls load and stores its JSON form.
func (c *Catalog) cached(ctx context.Context, key string, dst any, load func() (any, error)) error {
	fill := func() ([]byte, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}
	if c.Cache == nil {
		data, err := fill()
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dst)
	}

	gen := c.gen.Load()
	filled := false
	data, err := cache.GetOrSet(ctx, c.Cache, key, c.TTL, func() ([]byte, error) {
		filled = true
		return fill()
	})
	if data == nil {
		return err
	}
	if err != nil {
		c.Logger.WithError(err).WithField("key", key).Warn("cache write failed")
	}
	if filled && c.gen.Load() != gen {
		c.evict(ctx, key)
	}

	if jerr := json.Unmarshal(data, dst); jerr != nil {
		if filled {
			return fmt.Errorf("decode %s: %w", key, jerr)
		}
		c.Logger.WithField("key", key).Warn("discarding undecodable cache entry")
		c.evict(ctx, key)
		if data, err = fill(); err != nil {
			return err
		}
		return json.Unmarshal(data, dst)
	}
	return nil
}

func (c *Catalog) evict(ctx context.Context, keys ...string) {
	if err := c.Cache.Delete(ctx, keys...); err != nil {
		c.Logger.WithError(err).WithField("keys", keys).Warn("cache invalidation failed")
	}
}

func (c *Catalog) invalidate(ctx context.Context, id ProductID) {
	c.gen.Add(1)
	if c.Cache == nil {
		return
	}
	c.evict(ctx, catalogListKey, catalogProductKey(id))
}
