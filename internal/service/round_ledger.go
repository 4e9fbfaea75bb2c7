package service

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// roundTimes returns the closing and expire time of a round opened at now.
// Settlement of a round happens one round after it closes, so expire leaves
// two full round lengths plus the grace window from open.
func roundTimes(now time.Time, cfg domain.GameConfig) (closing, expire time.Time) {
	closing = now.Add(cfg.RoundDuration)
	expire = closing.Add(cfg.RoundDuration).Add(cfg.SettlementGrace)
	return closing, expire
}

func newRound(id uint64, now time.Time, cfg domain.GameConfig, reading domain.PriceReading) domain.Round {
	closing, expire := roundTimes(now, cfg)
	r := domain.Round{
		ID:           id,
		ClosingTime:  closing,
		ExpireTime:   expire,
		Outcome:      domain.Unresolved(),
		OpenSnapshot: reading.Snapshot,
	}
	if reading.Price != nil {
		r.LockedPrice = new(uint256.Int).Set(reading.Price)
	}
	return r
}

// openFirstRound creates round 0.
func openFirstRound(now time.Time, cfg domain.GameConfig, opening domain.PriceReading) domain.Round {
	return newRound(0, now, cfg, opening)
}

// rollOver creates the round after prev, locking it at the carried reading.
func rollOver(prev domain.Round, now time.Time, cfg domain.GameConfig, carried domain.PriceReading) domain.Round {
	return newRound(prev.ID+1, now, cfg, carried)
}

// accumulateStake adds amount to one side of the current round's pool.
func accumulateStake(ctx context.Context, tx domain.Tx, roundID uint64, dir domain.Direction, amount *uint256.Int) (domain.Round, error) {
	st, err := tx.GetState(ctx)
	if err != nil {
		return domain.Round{}, err
	}
	if st.CurrentRound != roundID {
		return domain.Round{}, fmt.Errorf("round %d is not the current round: %w", roundID, domain.ErrNotFound)
	}
	r, err := tx.GetRound(ctx, roundID)
	if err != nil {
		return domain.Round{}, err
	}
	pool := r.Pool(dir)
	if _, overflow := pool.AddOverflow(pool, amount); overflow {
		return domain.Round{}, fmt.Errorf("round %d %s pool: %w", roundID, dir, domain.ErrOverflow)
	}
	if err := tx.PutRound(ctx, r); err != nil {
		return domain.Round{}, err
	}
	return r, nil
}
