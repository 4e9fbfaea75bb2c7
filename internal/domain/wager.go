package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Player identifies a participant by its 20-byte address. The raw bytes are
// used as storage keys, so two spellings of the same address always map to
// the same records.
type Player = common.Address

// ParsePlayer canonicalizes a hex address string.
func ParsePlayer(s string) (Player, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return Player{}, fmt.Errorf("%w: %q", ErrInvalidPlayer, s)
	}
	return common.HexToAddress(s), nil
}

// Wager is one player's stake in one round.
type Wager struct {
	Player  Player
	RoundID uint64
	Up      uint256.Int
	Down    uint256.Int
	Claimed bool
	Prize   uint256.Int
}

// Side returns the stake on direction d.
func (w *Wager) Side(d Direction) *uint256.Int {
	if d == DirectionUp {
		return &w.Up
	}
	return &w.Down
}

// Total returns up + down.
func (w *Wager) Total() (*uint256.Int, bool) {
	return new(uint256.Int).AddOverflow(&w.Up, &w.Down)
}

// PlayerStats is the lifetime record of a player's settled rounds.
type PlayerStats struct {
	Player     Player
	RoundsWon  uint64
	RoundsLost uint64
	NetRewards uint256.Int
}

// Coin is an amount of a single denomination.
type Coin struct {
	Denom  string
	Amount uint256.Int
}

// String formats the coin as "<amount><denom>".
func (c Coin) String() string {
	return c.Amount.Dec() + c.Denom
}

// Transfer instructs the external funds collaborator to pay Recipient.
type Transfer struct {
	Recipient Player
	Coins     []Coin
}

// QueuedTransfer is one coin of a claim payout held in the ledger's outbox
// until it has been handed to the funds collaborator. ID is assigned by the
// store and increases with every enqueue.
type QueuedTransfer struct {
	ID        uint64
	Recipient Player
	Coin      Coin
}

// FeeRate is the fraction of winnings withheld for the fee collector.
type FeeRate struct {
	decimal.Decimal
}

// ParseFeeRate parses a decimal fraction in [0, 1].
func ParseFeeRate(s string) (FeeRate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return FeeRate{}, fmt.Errorf("fee rate %q: %w", s, err)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return FeeRate{}, fmt.Errorf("fee rate %q: must be within [0, 1]", s)
	}
	return FeeRate{d}, nil
}

// Apply returns floor(amount * rate).
func (f FeeRate) Apply(amount *uint256.Int) (*uint256.Int, error) {
	if f.IsZero() || amount.IsZero() {
		return new(uint256.Int), nil
	}
	fee := decimal.NewFromBigInt(amount.ToBig(), 0).Mul(f.Decimal).Floor()
	out, overflow := uint256.FromBig(fee.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
