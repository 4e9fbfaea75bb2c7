package badgerstore

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

type configRecord struct {
	PriceSource     string `json:"price_source"`
	Collector       string `json:"collector"`
	RoundDuration   int64  `json:"round_duration_ns"`
	SettlementGrace int64  `json:"settlement_grace_ns"`
	Denom           string `json:"denom"`
	FeeRate         string `json:"fee_rate"`
}

func toConfigRecord(c domain.GameConfig) configRecord {
	return configRecord{
		PriceSource:     c.PriceSource,
		Collector:       c.Collector.Hex(),
		RoundDuration:   int64(c.RoundDuration),
		SettlementGrace: int64(c.SettlementGrace),
		Denom:           c.Denom,
		FeeRate:         c.FeeRate.String(),
	}
}

func (r configRecord) toDomain() (domain.GameConfig, error) {
	rate, err := domain.ParseFeeRate(r.FeeRate)
	if err != nil {
		return domain.GameConfig{}, err
	}
	return domain.GameConfig{
		PriceSource:     r.PriceSource,
		Collector:       common.HexToAddress(r.Collector),
		RoundDuration:   time.Duration(r.RoundDuration),
		SettlementGrace: time.Duration(r.SettlementGrace),
		Denom:           r.Denom,
		FeeRate:         rate,
	}, nil
}

type snapshotRecord struct {
	Cumulative string `json:"cumulative"`
	BlockTime  uint64 `json:"block_time"`
}

func toSnapshotRecord(s *domain.CumulativeSnapshot) *snapshotRecord {
	if s == nil {
		return nil
	}
	return &snapshotRecord{Cumulative: s.Cumulative.Dec(), BlockTime: s.BlockTime}
}

func (r *snapshotRecord) toDomain() (*domain.CumulativeSnapshot, error) {
	if r == nil {
		return nil, nil
	}
	c, err := domain.ParseAmount(r.Cumulative)
	if err != nil {
		return nil, err
	}
	return &domain.CumulativeSnapshot{Cumulative: c, BlockTime: r.BlockTime}, nil
}

type roundRecord struct {
	ID            uint64          `json:"id"`
	Up            string          `json:"up"`
	Down          string          `json:"down"`
	LockedPrice   string          `json:"locked_price,omitempty"`
	ResolvedPrice string          `json:"resolved_price,omitempty"`
	ClosingTime   time.Time       `json:"closing_time"`
	ExpireTime    time.Time       `json:"expire_time"`
	Outcome       string          `json:"outcome"`
	Direction     string          `json:"direction,omitempty"`
	OpenSnapshot  *snapshotRecord `json:"open_snapshot,omitempty"`
	CloseSnapshot *snapshotRecord `json:"close_snapshot,omitempty"`
}

func toRoundRecord(r domain.Round) roundRecord {
	rec := roundRecord{
		ID:            r.ID,
		Up:            r.UpPool.Dec(),
		Down:          r.DownPool.Dec(),
		LockedPrice:   domain.FormatOptionalAmount(r.LockedPrice),
		ResolvedPrice: domain.FormatOptionalAmount(r.ResolvedPrice),
		ClosingTime:   r.ClosingTime.UTC(),
		ExpireTime:    r.ExpireTime.UTC(),
		Outcome:       string(r.Outcome.Kind),
		OpenSnapshot:  toSnapshotRecord(r.OpenSnapshot),
		CloseSnapshot: toSnapshotRecord(r.CloseSnapshot),
	}
	if r.Outcome.Kind == domain.OutcomeDecided {
		rec.Direction = r.Outcome.Direction.String()
	}
	return rec
}

func (rec roundRecord) toDomain() (domain.Round, error) {
	r := domain.Round{
		ID:          rec.ID,
		ClosingTime: rec.ClosingTime.UTC(),
		ExpireTime:  rec.ExpireTime.UTC(),
	}
	var err error
	if r.UpPool, err = domain.ParseAmount(rec.Up); err != nil {
		return r, err
	}
	if r.DownPool, err = domain.ParseAmount(rec.Down); err != nil {
		return r, err
	}
	if r.LockedPrice, err = domain.ParseOptionalAmount(rec.LockedPrice); err != nil {
		return r, err
	}
	if r.ResolvedPrice, err = domain.ParseOptionalAmount(rec.ResolvedPrice); err != nil {
		return r, err
	}
	if r.OpenSnapshot, err = rec.OpenSnapshot.toDomain(); err != nil {
		return r, err
	}
	if r.CloseSnapshot, err = rec.CloseSnapshot.toDomain(); err != nil {
		return r, err
	}
	switch domain.OutcomeKind(rec.Outcome) {
	case domain.OutcomeUnresolved, "":
		r.Outcome = domain.Unresolved()
	case domain.OutcomeVoid:
		r.Outcome = domain.Void()
	case domain.OutcomeDecided:
		r.Outcome = domain.Decided(domain.DirectionOf(rec.Direction == "up"))
	default:
		return r, fmt.Errorf("unknown outcome %q", rec.Outcome)
	}
	return r, nil
}

type wagerRecord struct {
	Up      string `json:"up"`
	Down    string `json:"down"`
	Claimed bool   `json:"claimed"`
	Prize   string `json:"prize"`
}

func toWagerRecord(w domain.Wager) wagerRecord {
	return wagerRecord{
		Up:      w.Up.Dec(),
		Down:    w.Down.Dec(),
		Claimed: w.Claimed,
		Prize:   w.Prize.Dec(),
	}
}

func (rec wagerRecord) toDomain(player domain.Player, roundID uint64) (domain.Wager, error) {
	w := domain.Wager{Player: player, RoundID: roundID, Claimed: rec.Claimed}
	var err error
	if w.Up, err = domain.ParseAmount(rec.Up); err != nil {
		return w, err
	}
	if w.Down, err = domain.ParseAmount(rec.Down); err != nil {
		return w, err
	}
	if w.Prize, err = domain.ParseAmount(rec.Prize); err != nil {
		return w, err
	}
	return w, nil
}

type statsRecord struct {
	RoundsWon  uint64 `json:"rounds_won"`
	RoundsLost uint64 `json:"rounds_lost"`
	NetRewards string `json:"net_rewards"`
}

func toStatsRecord(s domain.PlayerStats) statsRecord {
	return statsRecord{
		RoundsWon:  s.RoundsWon,
		RoundsLost: s.RoundsLost,
		NetRewards: s.NetRewards.Dec(),
	}
}

func (rec statsRecord) toDomain(player domain.Player) (domain.PlayerStats, error) {
	net, err := domain.ParseAmount(rec.NetRewards)
	if err != nil {
		return domain.PlayerStats{}, err
	}
	return domain.PlayerStats{
		Player:     player,
		RoundsWon:  rec.RoundsWon,
		RoundsLost: rec.RoundsLost,
		NetRewards: net,
	}, nil
}

type transferRecord struct {
	Recipient string `json:"recipient"`
	Denom     string `json:"denom"`
	Amount    string `json:"amount"`
}

func (rec transferRecord) toDomain(id uint64) (domain.QueuedTransfer, error) {
	amount, err := domain.ParseAmount(rec.Amount)
	if err != nil {
		return domain.QueuedTransfer{}, err
	}
	return domain.QueuedTransfer{
		ID:        id,
		Recipient: common.HexToAddress(rec.Recipient),
		Coin:      domain.Coin{Denom: rec.Denom, Amount: amount},
	}, nil
}
