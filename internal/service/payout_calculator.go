package service

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// roundPrize computes what a wager returns on a settled round.
func roundPrize(r domain.Round, w domain.Wager) (*uint256.Int, claimKind, error) {
	switch r.Outcome.Kind {
	case domain.OutcomeVoid:
		total, overflow := w.Total()
		if overflow {
			return nil, "", domain.ErrOverflow
		}
		return total, claimRefund, nil

	case domain.OutcomeDecided:
		stake := w.Side(r.Outcome.Direction)
		if stake.IsZero() {
			return new(uint256.Int), claimLoss, nil
		}
		total, overflow := r.TotalPool()
		if overflow {
			return nil, "", domain.ErrOverflow
		}
		prize, err := pariMutuel(stake, total, r.Pool(r.Outcome.Direction))
		if err != nil {
			return nil, "", err
		}
		return prize, claimWin, nil

	default:
		return nil, "", domain.ErrPredictionStillInProgress
	}
}

// pariMutuel returns floor(stake * total / winningPool) with a 512-bit
// intermediate product.
func pariMutuel(stake, total, winningPool *uint256.Int) (*uint256.Int, error) {
	if winningPool.IsZero() {
		return nil, fmt.Errorf("empty winning pool: %w", domain.ErrOverflow)
	}
	prize, overflow := new(uint256.Int).MulDivOverflow(stake, total, winningPool)
	if overflow {
		return nil, domain.ErrOverflow
	}
	return prize, nil
}

// claimResult is the outcome of a batch claim before transfers are built.
type claimResult struct {
	Win    uint256.Int
	Refund uint256.Int
	Fee    uint256.Int
	Net    uint256.Int
	Kinds  map[claimKind]int
}

// claimRounds settles the player's wagers on rounds inside tx. Any error
// leaves the transaction to be discarded, so a batch either applies fully or
// not at all.
func claimRounds(ctx context.Context, tx domain.Tx, cfg domain.GameConfig, player domain.Player, rounds []uint64) (claimResult, error) {
	res := claimResult{Kinds: make(map[claimKind]int, 3)}

	stats, err := loadStats(ctx, tx, player)
	if err != nil {
		return res, err
	}

	for _, id := range rounds {
		r, err := tx.GetRound(ctx, id)
		if err != nil {
			return res, err
		}
		if !r.Outcome.Resolved() {
			return res, fmt.Errorf("round %d: %w", id, domain.ErrPredictionStillInProgress)
		}

		w, err := tx.GetWager(ctx, player, id)
		if err != nil {
			return res, err
		}
		if w.Claimed {
			return res, fmt.Errorf("round %d: %w", id, domain.ErrAlreadyResolved)
		}

		prize, kind, err := roundPrize(r, w)
		if err != nil {
			return res, fmt.Errorf("round %d: %w", id, err)
		}
		subtotal := &res.Win
		if kind == claimRefund {
			subtotal = &res.Refund
		}
		if _, overflow := subtotal.AddOverflow(subtotal, prize); overflow {
			return res, domain.ErrOverflow
		}

		w.Claimed = true
		w.Prize = *prize
		if err := tx.PutWager(ctx, w); err != nil {
			return res, err
		}

		stake, overflow := w.Total()
		if overflow {
			return res, domain.ErrOverflow
		}
		applyStats(&stats, kind, stake, prize)
		res.Kinds[kind]++
	}

	if len(rounds) > 0 {
		if err := tx.PutPlayerStats(ctx, stats); err != nil {
			return res, err
		}
	}

	fee, err := cfg.FeeRate.Apply(&res.Win)
	if err != nil {
		return res, err
	}
	res.Fee = *fee
	res.Net.Sub(&res.Win, fee)
	if _, overflow := res.Net.AddOverflow(&res.Net, &res.Refund); overflow {
		return res, domain.ErrOverflow
	}
	return res, nil
}

// transfers builds at most two payouts for the whole batch: net to the
// player and the fee to the collector, each only when nonzero.
func (res claimResult) transfers(cfg domain.GameConfig, player domain.Player) []domain.Transfer {
	var out []domain.Transfer
	if !res.Net.IsZero() {
		out = append(out, domain.Transfer{
			Recipient: player,
			Coins:     []domain.Coin{{Denom: cfg.Denom, Amount: res.Net}},
		})
	}
	if !res.Fee.IsZero() {
		out = append(out, domain.Transfer{
			Recipient: cfg.Collector,
			Coins:     []domain.Coin{{Denom: cfg.Denom, Amount: res.Fee}},
		})
	}
	return out
}
