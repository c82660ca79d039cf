package catalog

import (
	"context"
	"time"

	"rewards-backend/models"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedLookup memoizes product reads for ttl. Errors are not cached.
type CachedLookup struct {
	next  Lookup
	cache *expirable.LRU[uuid.UUID, models.Product]
}

func NewCachedLookup(next Lookup, size int, ttl time.Duration) *CachedLookup {
	if size <= 0 {
		size = 1024
	}
	return &CachedLookup{
		next:  next,
		cache: expirable.NewLRU[uuid.UUID, models.Product](size, nil, ttl),
	}
}

func (c *CachedLookup) GetProduct(ctx context.Context, id uuid.UUID) (models.Product, error) {
	if p, ok := c.cache.Get(id); ok {
		return p, nil
	}
	p, err := c.next.GetProduct(ctx, id)
	if err != nil {
		return models.Product{}, err
	}
	c.cache.Add(id, p)
	return p, nil
}

// Invalidate drops id so the next read goes to the store, e.g. after a
// checkout changed its stock.
func (c *CachedLookup) Invalidate(ids ...uuid.UUID) {
	for _, id := range ids {
		c.cache.Remove(id)
	}
}

func (c *CachedLookup) Len() int { return c.cache.Len() }
