package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// settlement describes one applied settlement.
type settlement struct {
	Closed    domain.Round
	Evaluated *domain.Round
	Opened    domain.Round
}

// checkCloseable enforces the closing-time gate on the current round.
func checkCloseable(cur domain.Round, now time.Time) error {
	if now.Before(cur.ClosingTime) {
		return fmt.Errorf("round %d closes at %s: %w",
			cur.ID, cur.ClosingTime.UTC().Format(time.RFC3339), domain.ErrPredictionStillInProgress)
	}
	return nil
}

// evaluate decides a round against the settlement price. A missing price on
// either end, a one-sided pool, an unchanged price or a settlement after the
// round expired all void the round.
func evaluate(r domain.Round, price *uint256.Int, now time.Time) domain.Outcome {
	if price == nil || r.LockedPrice == nil {
		return domain.Void()
	}
	success := now.Before(r.ExpireTime) &&
		!r.UpPool.IsZero() &&
		!r.DownPool.IsZero() &&
		!price.Eq(r.LockedPrice)
	if !success {
		return domain.Void()
	}
	return domain.Decided(domain.DirectionOf(price.Gt(r.LockedPrice)))
}

// settleRound closes round `expected`, decides the round before it and opens
// the next one, all inside tx. The reading was fetched for `expected`; if the
// game has moved on since, nothing is written.
func settleRound(ctx context.Context, tx domain.Tx, cfg domain.GameConfig, now time.Time, expected uint64, reading domain.PriceReading) (settlement, error) {
	st, err := tx.GetState(ctx)
	if err != nil {
		return settlement{}, err
	}
	if st.CurrentRound != expected {
		return settlement{}, fmt.Errorf("round %d was settled concurrently: %w", expected, domain.ErrAlreadyResolved)
	}
	cur, err := tx.GetRound(ctx, st.CurrentRound)
	if err != nil {
		return settlement{}, err
	}
	if err := checkCloseable(cur, now); err != nil {
		return settlement{}, err
	}

	var out settlement
	if cur.ID > 0 {
		prev, err := tx.GetRound(ctx, cur.ID-1)
		if err != nil {
			return settlement{}, err
		}
		if prev.Outcome.Resolved() {
			return settlement{}, fmt.Errorf("round %d: %w", prev.ID, domain.ErrAlreadyResolved)
		}
		prev.Outcome = evaluate(prev, reading.Price, now)
		if reading.Price != nil {
			prev.ResolvedPrice = new(uint256.Int).Set(reading.Price)
		}
		if err := tx.PutRound(ctx, prev); err != nil {
			return settlement{}, err
		}
		out.Evaluated = &prev
	}

	cur.CloseSnapshot = reading.Snapshot
	if err := tx.PutRound(ctx, cur); err != nil {
		return settlement{}, err
	}
	out.Closed = cur

	next := rollOver(cur, now, cfg, reading)
	if err := tx.PutRound(ctx, next); err != nil {
		return settlement{}, err
	}
	if err := tx.PutState(ctx, domain.GameState{CurrentRound: next.ID}); err != nil {
		return settlement{}, err
	}
	out.Opened = next
	return out, nil
}

// attributes renders the settlement for the command response.
func (s settlement) attributes(reading domain.PriceReading) *domain.Response {
	res := &domain.Response{}
	if prev := s.Evaluated; prev != nil {
		success := prev.Outcome.Kind == domain.OutcomeDecided
		res.AddAttribute("prediction_id", strconv.FormatUint(prev.ID, 10)).
			AddAttribute("locked_price", domain.FormatOptionalAmount(prev.LockedPrice)).
			AddAttribute("resolved_price", domain.FormatOptionalAmount(reading.Price)).
			AddAttribute("is_success", strconv.FormatBool(success))
		if success {
			res.AddAttribute("resolved", prev.Outcome.Direction.String())
		}
	}
	res.AddAttribute("action", "resolve_prediction").
		AddAttribute("next_prediction_id", strconv.FormatUint(s.Opened.ID, 10))
	return res
}
