package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// priceTTL expires cached prices of a source nobody settles against anymore.
const priceTTL = 24 * time.Hour

// PriceCache implements domain.PriceCache with one hash per price source at
// "price:{source}" holding the decimal price and the unix-nano timestamp.
type PriceCache struct {
	client *Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{client: c}
}

// SetPrice records the latest settlement price of source.
func (pc *PriceCache) SetPrice(ctx context.Context, source string, price *uint256.Int, ts time.Time) error {
	key := pc.client.key("price", source)
	pipe := pc.client.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": price.Dec(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", source, err)
	}
	return nil
}

// GetPrice returns the latest price of source, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, source string) (*uint256.Int, time.Time, error) {
	vals, err := pc.client.rdb.HGetAll(ctx, pc.client.key("price", source)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get price %s: %w", source, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	price, err := uint256.FromDecimal(priceStr)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse price %s: %w", source, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", source, err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}
