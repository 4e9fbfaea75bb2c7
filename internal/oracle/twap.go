package oracle

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// TWAP prices a round as the time-weighted average between the cumulative
// snapshot taken when the round opened and a fresh one.
type TWAP struct {
	source domain.CumulativeSource
	scale  uint256.Int
	// fracBits is the number of fractional bits of the accumulator
	// (112 for UQ112x112 accumulators, 0 for plain integers).
	fracBits uint
}

var _ domain.PriceOracle = (*TWAP)(nil)

// NewTWAP creates a TWAP oracle over source.
func NewTWAP(source domain.CumulativeSource, scale uint64, fracBits uint) *TWAP {
	if scale == 0 {
		scale = DefaultScale
	}
	return &TWAP{source: source, scale: *uint256.NewInt(scale), fracBits: fracBits}
}

// Name returns "twap".
func (o *TWAP) Name() string { return "twap" }

// Snapshot reads the accumulator without pricing anything. It primes the
// first round.
func (o *TWAP) Snapshot(ctx context.Context) (domain.CumulativeSnapshot, error) {
	snap, err := o.source.Cumulative(ctx)
	if err != nil {
		return domain.CumulativeSnapshot{}, fmt.Errorf("oracle: twap: cumulative: %w: %w", domain.ErrPriceUnavailable, err)
	}
	return snap, nil
}

// FetchPrice returns (s2 - s1) / (t2 - t1), scaled. A counter that went
// backwards or a window with no elapsed time yields a reading without a price
// so the round is voided rather than settled on a bogus value. A round that
// opened without a snapshot has no window; the reading carries only the fresh
// snapshot, which primes the next round.
func (o *TWAP) FetchPrice(ctx context.Context, q domain.PriceQuery) (domain.PriceReading, error) {
	snap, err := o.Snapshot(ctx)
	if err != nil {
		return domain.PriceReading{}, err
	}
	reading := domain.PriceReading{Snapshot: &snap}
	if q.Since == nil {
		return reading, nil
	}

	price, ok := Average(*q.Since, snap, &o.scale, o.fracBits)
	if !ok {
		return reading, nil
	}
	reading.Price = price
	return reading, nil
}

// Average computes the scaled average price between two snapshots. It
// reports false when the window is not resolvable.
func Average(from, to domain.CumulativeSnapshot, scale *uint256.Int, fracBits uint) (*uint256.Int, bool) {
	if to.Cumulative.Lt(&from.Cumulative) || to.BlockTime <= from.BlockTime {
		return nil, false
	}
	delta := new(uint256.Int).Sub(&to.Cumulative, &from.Cumulative)
	elapsed := uint256.NewInt(to.BlockTime - from.BlockTime)
	denom := new(uint256.Int).Lsh(elapsed, fracBits)

	price, overflow := new(uint256.Int).MulDivOverflow(delta, scale, denom)
	if overflow {
		return nil, false
	}
	return price, true
}
