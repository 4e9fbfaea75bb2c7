// Package oracle derives round reference prices from external sources. Each
// strategy implements domain.PriceOracle; which one a game uses is fixed by
// configuration.
package oracle

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// DefaultScale is the fixed-point scale of derived prices (six decimals).
const DefaultScale = 1_000_000

// Instant prices the pool at its current reserve ratio.
type Instant struct {
	source domain.ReservesSource
	scale  uint256.Int
}

var _ domain.PriceOracle = (*Instant)(nil)

// NewInstant creates an instant-ratio oracle over source.
func NewInstant(source domain.ReservesSource, scale uint64) *Instant {
	if scale == 0 {
		scale = DefaultScale
	}
	return &Instant{source: source, scale: *uint256.NewInt(scale)}
}

// Name returns "instant".
func (o *Instant) Name() string { return "instant" }

// FetchPrice returns scale * quote / base.
func (o *Instant) FetchPrice(ctx context.Context, _ domain.PriceQuery) (domain.PriceReading, error) {
	res, err := o.source.Reserves(ctx)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("oracle: instant: reserves: %w: %w", domain.ErrPriceUnavailable, err)
	}
	if res.Base.IsZero() {
		return domain.PriceReading{}, fmt.Errorf("oracle: instant: empty base reserve: %w", domain.ErrPriceUnavailable)
	}
	price, overflow := new(uint256.Int).MulDivOverflow(&o.scale, &res.Quote, &res.Base)
	if overflow {
		return domain.PriceReading{}, fmt.Errorf("oracle: instant: %w", domain.ErrOverflow)
	}
	return domain.PriceReading{Price: price}, nil
}
