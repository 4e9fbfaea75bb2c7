package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// stakeAmount validates the funds attached to a stake and returns the amount.
// It never touches storage.
func stakeAmount(funds []domain.Coin, denom string) (*uint256.Int, error) {
	switch len(funds) {
	case 0:
		return nil, domain.ErrEmptyFunds
	case 1:
	default:
		return nil, domain.ErrMultipleDenoms
	}
	if funds[0].Denom != denom {
		return nil, fmt.Errorf("%w: got %q, want %q", domain.ErrWrongDenom, funds[0].Denom, denom)
	}
	if funds[0].Amount.IsZero() {
		return nil, domain.ErrEmptyFunds
	}
	return new(uint256.Int).Set(&funds[0].Amount), nil
}

// recordWager adds amount on dir to the player's wager for roundID and to the
// round pool. Both writes belong to the caller's transaction.
func recordWager(ctx context.Context, tx domain.Tx, roundID uint64, player domain.Player, dir domain.Direction, amount *uint256.Int) (domain.Wager, domain.Round, error) {
	w, err := tx.GetWager(ctx, player, roundID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		w = domain.Wager{Player: player, RoundID: roundID}
	case err != nil:
		return domain.Wager{}, domain.Round{}, err
	}

	side := w.Side(dir)
	if _, overflow := side.AddOverflow(side, amount); overflow {
		return domain.Wager{}, domain.Round{}, fmt.Errorf("wager %s/%d: %w", player.Hex(), roundID, domain.ErrOverflow)
	}
	if err := tx.PutWager(ctx, w); err != nil {
		return domain.Wager{}, domain.Round{}, err
	}

	r, err := accumulateStake(ctx, tx, roundID, dir, amount)
	if err != nil {
		return domain.Wager{}, domain.Round{}, err
	}
	return w, r, nil
}
