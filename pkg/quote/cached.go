package quote

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
)

// Cached remembers successful lookups of an underlying source for ttl.
// Misses and errors are not cached.
type Cached struct {
	src   Source
	cache *expirable.LRU[string, decimal.Decimal]
}

func NewCached(src Source, size int, ttl time.Duration) *Cached {
	return &Cached{
		src:   src,
		cache: expirable.NewLRU[string, decimal.Decimal](size, nil, ttl),
	}
}

func (c *Cached) Price(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	key := strings.ToUpper(symbol)
	if p, ok := c.cache.Get(key); ok {
		return p, true, nil
	}
	p, ok, err := c.src.Price(ctx, key)
	if err != nil || !ok {
		return p, ok, err
	}
	c.cache.Add(key, p)
	return p, true, nil
}
