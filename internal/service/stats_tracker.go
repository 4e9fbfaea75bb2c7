package service

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// claimKind classifies a claimed wager for stats and metrics.
type claimKind string

const (
	claimWin    claimKind = "win"
	claimLoss   claimKind = "loss"
	claimRefund claimKind = "refund"
)

// applyStats folds one claimed round into the player's lifetime record.
// net_rewards moves by prize - stake and never goes below zero.
func applyStats(s *domain.PlayerStats, kind claimKind, stake, prize *uint256.Int) {
	switch kind {
	case claimWin:
		s.RoundsWon++
		if prize.Gt(stake) {
			profit := new(uint256.Int).Sub(prize, stake)
			if _, overflow := s.NetRewards.AddOverflow(&s.NetRewards, profit); overflow {
				s.NetRewards.SetAllOne()
			}
		} else {
			subFloor(&s.NetRewards, new(uint256.Int).Sub(stake, prize))
		}
	case claimLoss:
		s.RoundsLost++
		subFloor(&s.NetRewards, stake)
	case claimRefund:
	}
}

func subFloor(z, x *uint256.Int) {
	if z.Lt(x) {
		z.Clear()
		return
	}
	z.Sub(z, x)
}

// loadStats returns the player's record, or a zeroed one on first touch.
func loadStats(ctx context.Context, tx domain.Tx, player domain.Player) (domain.PlayerStats, error) {
	s, err := tx.GetPlayerStats(ctx, player)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PlayerStats{Player: player}, nil
	}
	return s, err
}
