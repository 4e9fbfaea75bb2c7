package domain

import (
	"context"
	"time"
)

// PageOpts bounds a keyed range scan. StartAfter is exclusive.
type PageOpts struct {
	StartAfter *uint64
	Limit      int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 30
)

// Clamp returns the effective limit for opts.
func (o PageOpts) Clamp() int {
	switch {
	case o.Limit <= 0:
		return DefaultPageLimit
	case o.Limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return o.Limit
	}
}

// Store provides transactional access to game state. Every command runs
// inside exactly one Update call; if fn returns an error nothing it wrote is
// persisted.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of typed accessors available inside a transaction. Every
// getter returns ErrNotFound for a missing key.
type Tx interface {
	GetConfig(ctx context.Context) (GameConfig, error)
	PutConfig(ctx context.Context, cfg GameConfig) error
	GetState(ctx context.Context) (GameState, error)
	PutState(ctx context.Context, st GameState) error

	GetRound(ctx context.Context, id uint64) (Round, error)
	PutRound(ctx context.Context, r Round) error
	// ListRounds returns rounds in ascending id order.
	ListRounds(ctx context.Context, opts PageOpts) ([]Round, error)

	GetWager(ctx context.Context, player Player, roundID uint64) (Wager, error)
	PutWager(ctx context.Context, w Wager) error
	// ListWagers returns a player's wagers in descending round order.
	ListWagers(ctx context.Context, player Player, opts PageOpts) ([]Wager, error)

	GetPlayerStats(ctx context.Context, player Player) (PlayerStats, error)
	PutPlayerStats(ctx context.Context, s PlayerStats) error

	// EnqueueTransfer appends a payout to the transfer outbox and returns
	// its id.
	EnqueueTransfer(ctx context.Context, recipient Player, coin Coin) (uint64, error)
	// PendingTransfers returns up to limit queued payouts in id order.
	PendingTransfers(ctx context.Context, limit int) ([]QueuedTransfer, error)
	DeleteTransfer(ctx context.Context, id uint64) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only log of executed commands.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
