package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX PX, so every instance
// behind a load balancer sees the same used keys.
type NonceStore struct {
	client *Client
}

var _ domain.NonceStore = (*NonceStore)(nil)

// NewNonceStore creates a NonceStore backed by c.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{client: c}
}

// Claim records key for ttl and reports whether it was unused.
func (n *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := n.client.rdb.SetNX(ctx, n.client.key("nonce", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}
