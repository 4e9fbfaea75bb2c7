package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// Direction is the side of a binary round a stake backs.
type Direction uint8

const (
	DirectionDown Direction = iota
	DirectionUp
)

// DirectionOf maps the wire boolean ("up": true) to a Direction.
func DirectionOf(up bool) Direction {
	if up {
		return DirectionUp
	}
	return DirectionDown
}

// String returns "up" or "down".
func (d Direction) String() string {
	if d == DirectionUp {
		return "up"
	}
	return "down"
}

// OutcomeKind tracks where a round is in its settlement lifecycle.
type OutcomeKind string

const (
	OutcomeUnresolved OutcomeKind = "unresolved"
	OutcomeDecided    OutcomeKind = "decided"
	OutcomeVoid       OutcomeKind = "void"
)

// Outcome is the settlement result of a round. Direction is only meaningful
// when Kind is OutcomeDecided.
type Outcome struct {
	Kind      OutcomeKind
	Direction Direction
}

// Unresolved is the outcome of every round that has not been settled.
func Unresolved() Outcome { return Outcome{Kind: OutcomeUnresolved} }

// Decided is the outcome of a successfully settled round.
func Decided(d Direction) Outcome { return Outcome{Kind: OutcomeDecided, Direction: d} }

// Void is the outcome of a round that settled without a winner.
func Void() Outcome { return Outcome{Kind: OutcomeVoid} }

// Resolved reports whether the outcome is final.
func (o Outcome) Resolved() bool { return o.Kind != OutcomeUnresolved && o.Kind != "" }

// CumulativeSnapshot is a cumulative-price accumulator reading paired with
// the block time (unix seconds) at which it was taken.
type CumulativeSnapshot struct {
	Cumulative uint256.Int
	BlockTime  uint64
}

// Round is a single fixed-duration betting window.
type Round struct {
	ID            uint64
	UpPool        uint256.Int
	DownPool      uint256.Int
	LockedPrice   *uint256.Int // nil when no reference price could be read at creation
	ResolvedPrice *uint256.Int
	ClosingTime   time.Time
	ExpireTime    time.Time
	Outcome       Outcome
	OpenSnapshot  *CumulativeSnapshot
	CloseSnapshot *CumulativeSnapshot
}

// Pool returns the pool backing direction d.
func (r *Round) Pool(d Direction) *uint256.Int {
	if d == DirectionUp {
		return &r.UpPool
	}
	return &r.DownPool
}

// TotalPool returns up_pool + down_pool. The sum of two pools built from
// checked additions cannot overflow in practice, but the flag is returned so
// callers can fail loudly instead of wrapping.
func (r *Round) TotalPool() (*uint256.Int, bool) {
	return new(uint256.Int).AddOverflow(&r.UpPool, &r.DownPool)
}

// GameConfig is the game-wide configuration written at instantiate time and
// replaced by migrate.
type GameConfig struct {
	PriceSource     string
	Collector       Player
	RoundDuration   time.Duration
	SettlementGrace time.Duration
	Denom           string
	FeeRate         FeeRate
}

// GameState holds the current round id.
type GameState struct {
	CurrentRound uint64
}
