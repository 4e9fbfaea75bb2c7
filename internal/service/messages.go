package service

import (
	"github.com/alanyoungcy/spacewager/internal/domain"
)

// Command is a state-mutating message. The set of commands is closed: the
// unexported marker keeps other packages from adding variants, and Execute
// switches over every one of them.
type Command interface {
	command()
	// Name is the snake_case wire name of the command.
	Name() string
}

// MakePrediction stakes the attached funds on a direction of the current round.
type MakePrediction struct {
	Up bool
}

// ResolveGame claims the player's prizes and refunds for the given rounds.
type ResolveGame struct {
	Player domain.Player
	Rounds []uint64
}

// ResolvePrediction settles the round that just closed and opens the next one.
type ResolvePrediction struct{}

func (MakePrediction) command()    {}
func (ResolveGame) command()       {}
func (ResolvePrediction) command() {}

func (MakePrediction) Name() string    { return "make_prediction" }
func (ResolveGame) Name() string       { return "resolve_game" }
func (ResolvePrediction) Name() string { return "resolve_prediction" }

// Query is a read-only message, closed in the same way as Command.
type Query interface {
	query()
}

type (
	StateQuery  struct{}
	ConfigQuery struct{}
	GameQuery   struct {
		Player domain.Player
		Round  uint64
	}
	PredictionQuery struct {
		Round uint64
	}
	PredictionsQuery struct {
		StartAfter *uint64
		Limit      int
	}
	PlayerQuery struct {
		Player domain.Player
	}
	GamesQuery struct {
		Player     domain.Player
		StartAfter *uint64
		Limit      int
	}
)

func (StateQuery) query()       {}
func (ConfigQuery) query()      {}
func (GameQuery) query()        {}
func (PredictionQuery) query()  {}
func (PredictionsQuery) query() {}
func (PlayerQuery) query()      {}
func (GamesQuery) query()       {}

// StateResponse answers StateQuery.
type StateResponse struct {
	Round uint64 `json:"round"`
}

// ConfigResponse answers ConfigQuery.
type ConfigResponse struct {
	PriceSource      string `json:"pool_address"`
	CollectorAddress string `json:"collector_address"`
	RoundTime        uint64 `json:"round_time"`
	LimitTime        uint64 `json:"limit_time"`
	Denom            string `json:"denom"`
	CollectorFee     string `json:"collector_fee"`
}

// GameResponse answers GameQuery and is the element of GamesResponse.
type GameResponse struct {
	Up       string `json:"up"`
	Down     string `json:"down"`
	Prize    string `json:"prize"`
	Resolved bool   `json:"resolved"`
	GameID   uint64 `json:"game_id"`
}

// PredictionResponse answers PredictionQuery and is the element of
// PredictionsResponse. Optional fields are null until known.
type PredictionResponse struct {
	Up              string  `json:"up"`
	Down            string  `json:"down"`
	LockedPrice     *string `json:"locked_price"`
	ResolvedPrice   *string `json:"resolved_price"`
	ClosingTime     uint64  `json:"closing_time"`
	ExpireTime      uint64  `json:"expire_time"`
	Success         *bool   `json:"success"`
	IsUp            *bool   `json:"is_up"`
	CumulativeLast1 *string `json:"cumulative_last1"`
	BlockTime1      *uint64 `json:"block_time1"`
	CumulativeLast2 *string `json:"cumulative_last2"`
	BlockTime2      *uint64 `json:"block_time2"`
	PredictionID    uint64  `json:"prediction_id"`
}

// PredictionsResponse answers PredictionsQuery.
type PredictionsResponse struct {
	Predictions []PredictionResponse `json:"predictions"`
}

// PlayerResponse answers PlayerQuery.
type PlayerResponse struct {
	GameWon     uint64 `json:"game_won"`
	GameOver    uint64 `json:"game_over"`
	GameRewards string `json:"game_rewards"`
}

// GamesResponse answers GamesQuery.
type GamesResponse struct {
	Games []GameResponse `json:"games"`
}

func configResponse(c domain.GameConfig) ConfigResponse {
	return ConfigResponse{
		PriceSource:      c.PriceSource,
		CollectorAddress: c.Collector.Hex(),
		RoundTime:        uint64(c.RoundDuration.Seconds()),
		LimitTime:        uint64(c.SettlementGrace.Seconds()),
		Denom:            c.Denom,
		CollectorFee:     c.FeeRate.String(),
	}
}

func gameResponse(w domain.Wager) GameResponse {
	return GameResponse{
		Up:       w.Up.Dec(),
		Down:     w.Down.Dec(),
		Prize:    w.Prize.Dec(),
		Resolved: w.Claimed,
		GameID:   w.RoundID,
	}
}

func predictionResponse(r domain.Round) PredictionResponse {
	resp := PredictionResponse{
		Up:           r.UpPool.Dec(),
		Down:         r.DownPool.Dec(),
		ClosingTime:  uint64(r.ClosingTime.Unix()),
		ExpireTime:   uint64(r.ExpireTime.Unix()),
		PredictionID: r.ID,
	}
	if r.LockedPrice != nil {
		s := r.LockedPrice.Dec()
		resp.LockedPrice = &s
	}
	if r.ResolvedPrice != nil {
		s := r.ResolvedPrice.Dec()
		resp.ResolvedPrice = &s
	}
	switch r.Outcome.Kind {
	case domain.OutcomeDecided:
		success, up := true, r.Outcome.Direction == domain.DirectionUp
		resp.Success, resp.IsUp = &success, &up
	case domain.OutcomeVoid:
		success := false
		resp.Success = &success
	}
	if s := r.OpenSnapshot; s != nil {
		c, t := s.Cumulative.Dec(), s.BlockTime
		resp.CumulativeLast1, resp.BlockTime1 = &c, &t
	}
	if s := r.CloseSnapshot; s != nil {
		c, t := s.Cumulative.Dec(), s.BlockTime
		resp.CumulativeLast2, resp.BlockTime2 = &c, &t
	}
	return resp
}

func playerResponse(s domain.PlayerStats) PlayerResponse {
	return PlayerResponse{
		GameWon:     s.RoundsWon,
		GameOver:    s.RoundsLost,
		GameRewards: s.NetRewards.Dec(),
	}
}
