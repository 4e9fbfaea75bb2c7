package domain

import (
	"context"
	"time"

	"github.com/holiman/uint256"
)

// PriceCache keeps the latest settlement price per source for read paths
// that should not hit the oracle.
type PriceCache interface {
	SetPrice(ctx context.Context, source string, price *uint256.Int, ts time.Time) error
	GetPrice(ctx context.Context, source string) (*uint256.Int, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NonceStore remembers single-use keys for a bounded time.
type NonceStore interface {
	// Claim records key for ttl. It reports false when key was already
	// recorded and has not expired.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelRounds   = "rounds"
	ChannelWagers   = "wagers"
	ChannelClaims   = "claims"
	StreamTransfers = "transfers"
)
