package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"poslot/backend/internal/cache"
	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

const DefaultTTL = 5 * time.Minute

// Catalog is a read-through product lookup. Cache failures are logged and
// fall back to the repository.
type Catalog struct {
	products store.ProductRepository
	cache    cache.ProductCache
	ttl      time.Duration
	logger   *zap.Logger
}

func New(products store.ProductRepository, productCache cache.ProductCache, ttl time.Duration, logger *zap.Logger) *Catalog {
	if productCache == nil {
		productCache = cache.NoopProductCache{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		products: products,
		cache:    productCache,
		ttl:      ttl,
		logger:   logger.Named("catalog"),
	}
}

func (c *Catalog) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return c.products.ListProducts(ctx)
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	key := domain.CanonicalProductID(id)
	if key == "" {
		return nil, store.ErrNotFound
	}

	cached, hit, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("product cache read failed", zap.String("product_id", key), zap.Error(err))
	}
	if hit && cached != nil {
		return cached, nil
	}

	product, err := c.products.GetProductByID(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, product, c.ttl); err != nil {
		c.logger.Warn("product cache write failed", zap.String("product_id", key), zap.Error(err))
	}
	return product, nil
}

func (c *Catalog) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	created, err := c.products.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Delete(ctx, created.ID); err != nil {
		c.logger.Warn("product cache invalidation failed", zap.String("product_id", created.ID), zap.Error(err))
	}
	return created, nil
}
