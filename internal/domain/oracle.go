package domain

import (
	"context"
	"time"

	"github.com/holiman/uint256"
)

// PriceQuery is the input to a price fetch. Since is the cumulative snapshot
// recorded when the current round opened and is only consulted by
// time-weighted strategies.
type PriceQuery struct {
	Now   time.Time
	Since *CumulativeSnapshot
}

// PriceReading is the result of a price fetch. A nil Price means the source
// answered but no price could be derived for the window; the round being
// settled is voided. Snapshot is set by strategies that track a cumulative
// accumulator.
type PriceReading struct {
	Price    *uint256.Int
	Snapshot *CumulativeSnapshot
}

// Resolvable reports whether the reading carries a price.
func (r PriceReading) Resolvable() bool { return r.Price != nil }

// PriceOracle derives a reference price from an external source.
// Implementations must return ErrPriceUnavailable rather than a zero price
// when the source has no data.
type PriceOracle interface {
	Name() string
	FetchPrice(ctx context.Context, q PriceQuery) (PriceReading, error)
}

// PoolReserves is a two-asset liquidity pool snapshot.
type PoolReserves struct {
	Base      uint256.Int
	Quote     uint256.Int
	BlockTime uint64
}

// ReservesSource reads spot reserves of a liquidity pool.
type ReservesSource interface {
	Reserves(ctx context.Context) (PoolReserves, error)
}

// CumulativeSource reads the cumulative price accumulator of a pool.
type CumulativeSource interface {
	Cumulative(ctx context.Context) (CumulativeSnapshot, error)
}

// PriceReport is one entry from a reporter-driven price feed.
type PriceReport struct {
	Price     uint256.Int
	Timestamp time.Time
	Reporter  string
}

// FeedSource returns the most recent `limit` reports of a price feed.
type FeedSource interface {
	LatestReports(ctx context.Context, limit int) ([]PriceReport, error)
}
