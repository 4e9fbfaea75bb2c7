package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// serializationRetries bounds how often a transaction that lost a
// serialization race is replayed.
const serializationRetries = 5

// LedgerStore implements domain.Store using PostgreSQL. Read-write
// transactions run SERIALIZABLE so concurrent commands behave as if applied
// one after another.
type LedgerStore struct {
	pool *pgxpool.Pool
}

var (
	_ domain.Store = (*LedgerStore)(nil)
	_ domain.Tx    = (*ledgerTx)(nil)
)

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Update runs fn in a serializable read-write transaction, replaying it when
// PostgreSQL reports a serialization failure.
func (s *LedgerStore) Update(ctx context.Context, fn func(domain.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	var err error
	for attempt := 0; attempt < serializationRetries; attempt++ {
		err = pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
			return fn(&ledgerTx{tx: tx})
		})
		if !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("postgres: transaction kept conflicting: %w", err)
}

// View runs fn in a read-only snapshot.
func (s *LedgerStore) View(ctx context.Context, fn func(domain.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// Close is a no-op; the pool belongs to the Client.
func (s *LedgerStore) Close() error { return nil }

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

type ledgerTx struct {
	tx pgx.Tx
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func (t *ledgerTx) GetConfig(ctx context.Context) (domain.GameConfig, error) {
	const query = `
		SELECT price_source, collector, round_duration_ms, settlement_grace_ms, denom, fee_rate::text
		FROM game_config WHERE id = 1`

	var (
		cfg                 domain.GameConfig
		collector, feeRate  string
		durationMs, graceMs int64
	)
	err := t.tx.QueryRow(ctx, query).Scan(&cfg.PriceSource, &collector, &durationMs, &graceMs, &cfg.Denom, &feeRate)
	if err != nil {
		return domain.GameConfig{}, fmt.Errorf("postgres: get config: %w", notFound(err))
	}
	rate, err := domain.ParseFeeRate(feeRate)
	if err != nil {
		return domain.GameConfig{}, fmt.Errorf("postgres: get config: %w", err)
	}
	cfg.Collector = common.HexToAddress(collector)
	cfg.RoundDuration = time.Duration(durationMs) * time.Millisecond
	cfg.SettlementGrace = time.Duration(graceMs) * time.Millisecond
	cfg.FeeRate = rate
	return cfg, nil
}

func (t *ledgerTx) PutConfig(ctx context.Context, cfg domain.GameConfig) error {
	const query = `
		INSERT INTO game_config (id, price_source, collector, round_duration_ms, settlement_grace_ms, denom, fee_rate)
		VALUES (1, $1, $2, $3, $4, $5, $6::numeric)
		ON CONFLICT (id) DO UPDATE SET
			price_source        = EXCLUDED.price_source,
			collector           = EXCLUDED.collector,
			round_duration_ms   = EXCLUDED.round_duration_ms,
			settlement_grace_ms = EXCLUDED.settlement_grace_ms,
			denom               = EXCLUDED.denom,
			fee_rate            = EXCLUDED.fee_rate,
			updated_at          = NOW()`

	_, err := t.tx.Exec(ctx, query,
		cfg.PriceSource, cfg.Collector.Hex(),
		cfg.RoundDuration.Milliseconds(), cfg.SettlementGrace.Milliseconds(),
		cfg.Denom, cfg.FeeRate.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: put config: %w", err)
	}
	return nil
}

func (t *ledgerTx) GetState(ctx context.Context) (domain.GameState, error) {
	var cur int64
	if err := t.tx.QueryRow(ctx, `SELECT current_round FROM game_state WHERE id = 1`).Scan(&cur); err != nil {
		return domain.GameState{}, fmt.Errorf("postgres: get state: %w", notFound(err))
	}
	return domain.GameState{CurrentRound: uint64(cur)}, nil
}

func (t *ledgerTx) PutState(ctx context.Context, st domain.GameState) error {
	const query = `
		INSERT INTO game_state (id, current_round) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET current_round = EXCLUDED.current_round`
	if _, err := t.tx.Exec(ctx, query, int64(st.CurrentRound)); err != nil {
		return fmt.Errorf("postgres: put state: %w", err)
	}
	return nil
}

const roundColumns = `
	id, up_pool::text, down_pool::text, locked_price::text, resolved_price::text,
	closing_time, expire_time, outcome, direction,
	open_cumulative::text, open_block_time, close_cumulative::text, close_block_time`

func scanRound(row pgx.Row) (domain.Round, error) {
	var (
		r                             domain.Round
		id                            int64
		up, down                      string
		locked, resolved              *string
		outcome                       string
		direction                     *string
		openCum, closeCum             *string
		openBlockTime, closeBlockTime *int64
	)
	if err := row.Scan(&id, &up, &down, &locked, &resolved,
		&r.ClosingTime, &r.ExpireTime, &outcome, &direction,
		&openCum, &openBlockTime, &closeCum, &closeBlockTime,
	); err != nil {
		return domain.Round{}, err
	}
	r.ID = uint64(id)
	r.ClosingTime = r.ClosingTime.UTC()
	r.ExpireTime = r.ExpireTime.UTC()

	var err error
	if r.UpPool, err = domain.ParseAmount(up); err != nil {
		return domain.Round{}, err
	}
	if r.DownPool, err = domain.ParseAmount(down); err != nil {
		return domain.Round{}, err
	}
	if r.LockedPrice, err = parseNullable(locked); err != nil {
		return domain.Round{}, err
	}
	if r.ResolvedPrice, err = parseNullable(resolved); err != nil {
		return domain.Round{}, err
	}
	if r.Outcome, err = parseOutcome(outcome, direction); err != nil {
		return domain.Round{}, err
	}
	if r.OpenSnapshot, err = parseSnapshot(openCum, openBlockTime); err != nil {
		return domain.Round{}, err
	}
	if r.CloseSnapshot, err = parseSnapshot(closeCum, closeBlockTime); err != nil {
		return domain.Round{}, err
	}
	return r, nil
}

func (t *ledgerTx) GetRound(ctx context.Context, id uint64) (domain.Round, error) {
	if id > math.MaxInt64 {
		return domain.Round{}, fmt.Errorf("postgres: get round %d: %w", id, domain.ErrNotFound)
	}
	r, err := scanRound(t.tx.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, int64(id)))
	if err != nil {
		return domain.Round{}, fmt.Errorf("postgres: get round %d: %w", id, notFound(err))
	}
	return r, nil
}

func (t *ledgerTx) PutRound(ctx context.Context, r domain.Round) error {
	const query = `
		INSERT INTO rounds (
			id, up_pool, down_pool, locked_price, resolved_price,
			closing_time, expire_time, outcome, direction,
			open_cumulative, open_block_time, close_cumulative, close_block_time
		) VALUES (
			$1, $2::numeric, $3::numeric, $4::numeric, $5::numeric,
			$6, $7, $8, $9,
			$10::numeric, $11, $12::numeric, $13
		)
		ON CONFLICT (id) DO UPDATE SET
			up_pool          = EXCLUDED.up_pool,
			down_pool        = EXCLUDED.down_pool,
			locked_price     = EXCLUDED.locked_price,
			resolved_price   = EXCLUDED.resolved_price,
			closing_time     = EXCLUDED.closing_time,
			expire_time      = EXCLUDED.expire_time,
			outcome          = EXCLUDED.outcome,
			direction        = EXCLUDED.direction,
			open_cumulative  = EXCLUDED.open_cumulative,
			open_block_time  = EXCLUDED.open_block_time,
			close_cumulative = EXCLUDED.close_cumulative,
			close_block_time = EXCLUDED.close_block_time`

	openCum, openTime := snapshotArgs(r.OpenSnapshot)
	closeCum, closeTime := snapshotArgs(r.CloseSnapshot)
	_, err := t.tx.Exec(ctx, query,
		int64(r.ID), r.UpPool.Dec(), r.DownPool.Dec(),
		nullableArg(r.LockedPrice), nullableArg(r.ResolvedPrice),
		r.ClosingTime, r.ExpireTime,
		outcomeArg(r.Outcome), directionArg(r.Outcome),
		openCum, openTime, closeCum, closeTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: put round %d: %w", r.ID, err)
	}
	return nil
}

func (t *ledgerTx) ListRounds(ctx context.Context, opts domain.PageOpts) ([]domain.Round, error) {
	limit := opts.Clamp()
	after := int64(-1)
	if opts.StartAfter != nil {
		if *opts.StartAfter >= math.MaxInt64 {
			return nil, nil
		}
		after = int64(*opts.StartAfter)
	}

	rows, err := t.tx.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id > $1 ORDER BY id ASC LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Round, 0, limit)
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rounds rows: %w", err)
	}
	return out, nil
}

func scanWager(row pgx.Row, player domain.Player) (domain.Wager, error) {
	var (
		w               domain.Wager
		roundID         int64
		up, down, prize string
	)
	if err := row.Scan(&roundID, &up, &down, &w.Claimed, &prize); err != nil {
		return domain.Wager{}, err
	}
	w.Player = player
	w.RoundID = uint64(roundID)
	var err error
	if w.Up, err = domain.ParseAmount(up); err != nil {
		return domain.Wager{}, err
	}
	if w.Down, err = domain.ParseAmount(down); err != nil {
		return domain.Wager{}, err
	}
	if w.Prize, err = domain.ParseAmount(prize); err != nil {
		return domain.Wager{}, err
	}
	return w, nil
}

const wagerColumns = `round_id, up::text, down::text, claimed, prize::text`

func (t *ledgerTx) GetWager(ctx context.Context, player domain.Player, roundID uint64) (domain.Wager, error) {
	if roundID > math.MaxInt64 {
		return domain.Wager{}, fmt.Errorf("postgres: get wager %s/%d: %w", player.Hex(), roundID, domain.ErrNotFound)
	}
	row := t.tx.QueryRow(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE player = $1 AND round_id = $2`, player.Hex(), int64(roundID))
	w, err := scanWager(row, player)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: get wager %s/%d: %w", player.Hex(), roundID, notFound(err))
	}
	return w, nil
}

func (t *ledgerTx) PutWager(ctx context.Context, w domain.Wager) error {
	const query = `
		INSERT INTO wagers (player, round_id, up, down, claimed, prize)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6::numeric)
		ON CONFLICT (player, round_id) DO UPDATE SET
			up      = EXCLUDED.up,
			down    = EXCLUDED.down,
			claimed = EXCLUDED.claimed,
			prize   = EXCLUDED.prize`

	_, err := t.tx.Exec(ctx, query,
		w.Player.Hex(), int64(w.RoundID), w.Up.Dec(), w.Down.Dec(), w.Claimed, w.Prize.Dec())
	if err != nil {
		return fmt.Errorf("postgres: put wager %s/%d: %w", w.Player.Hex(), w.RoundID, err)
	}
	return nil
}

func (t *ledgerTx) ListWagers(ctx context.Context, player domain.Player, opts domain.PageOpts) ([]domain.Wager, error) {
	limit := opts.Clamp()
	query := `SELECT ` + wagerColumns + ` FROM wagers WHERE player = $1`
	args := []any{player.Hex()}
	if opts.StartAfter != nil {
		if *opts.StartAfter == 0 {
			return nil, nil
		}
		if *opts.StartAfter <= math.MaxInt64 {
			query += ` AND round_id < $2`
			args = append(args, int64(*opts.StartAfter))
		}
	}
	query += fmt.Sprintf(` ORDER BY round_id DESC LIMIT %d`, limit)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers %s: %w", player.Hex(), err)
	}
	defer rows.Close()

	out := make([]domain.Wager, 0, limit)
	for rows.Next() {
		w, err := scanWager(rows, player)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wager: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list wagers rows: %w", err)
	}
	return out, nil
}

func (t *ledgerTx) GetPlayerStats(ctx context.Context, player domain.Player) (domain.PlayerStats, error) {
	const query = `SELECT rounds_won, rounds_lost, net_rewards::text FROM player_stats WHERE player = $1`
	var (
		won, lost int64
		net       string
	)
	if err := t.tx.QueryRow(ctx, query, player.Hex()).Scan(&won, &lost, &net); err != nil {
		return domain.PlayerStats{}, fmt.Errorf("postgres: get player %s: %w", player.Hex(), notFound(err))
	}
	rewards, err := domain.ParseAmount(net)
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("postgres: get player %s: %w", player.Hex(), err)
	}
	return domain.PlayerStats{
		Player:     player,
		RoundsWon:  uint64(won),
		RoundsLost: uint64(lost),
		NetRewards: rewards,
	}, nil
}

func (t *ledgerTx) PutPlayerStats(ctx context.Context, s domain.PlayerStats) error {
	const query = `
		INSERT INTO player_stats (player, rounds_won, rounds_lost, net_rewards)
		VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (player) DO UPDATE SET
			rounds_won  = EXCLUDED.rounds_won,
			rounds_lost = EXCLUDED.rounds_lost,
			net_rewards = EXCLUDED.net_rewards`

	_, err := t.tx.Exec(ctx, query, s.Player.Hex(), int64(s.RoundsWon), int64(s.RoundsLost), s.NetRewards.Dec())
	if err != nil {
		return fmt.Errorf("postgres: put player %s: %w", s.Player.Hex(), err)
	}
	return nil
}

func (t *ledgerTx) EnqueueTransfer(ctx context.Context, recipient domain.Player, coin domain.Coin) (uint64, error) {
	const query = `
		INSERT INTO transfer_outbox (recipient, denom, amount)
		VALUES ($1, $2, $3::numeric)
		RETURNING id`

	var id int64
	if err := t.tx.QueryRow(ctx, query, recipient.Hex(), coin.Denom, coin.Amount.Dec()).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: enqueue transfer: %w", err)
	}
	return uint64(id), nil
}

func (t *ledgerTx) PendingTransfers(ctx context.Context, limit int) ([]domain.QueuedTransfer, error) {
	const query = `
		SELECT id, recipient, denom, amount::text
		FROM transfer_outbox ORDER BY id LIMIT $1`

	rows, err := t.tx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.QueuedTransfer
	for rows.Next() {
		var (
			id                int64
			recipient, amount string
			q                 domain.QueuedTransfer
		)
		if err := rows.Scan(&id, &recipient, &q.Coin.Denom, &amount); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		if q.Coin.Amount, err = domain.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("postgres: transfer %d: %w", id, err)
		}
		q.ID = uint64(id)
		q.Recipient = common.HexToAddress(recipient)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: pending transfers rows: %w", err)
	}
	return out, nil
}

func (t *ledgerTx) DeleteTransfer(ctx context.Context, id uint64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM transfer_outbox WHERE id = $1`, int64(id)); err != nil {
		return fmt.Errorf("postgres: delete transfer %d: %w", id, err)
	}
	return nil
}

func parseNullable(s *string) (*uint256.Int, error) {
	if s == nil {
		return nil, nil
	}
	return domain.ParseOptionalAmount(*s)
}

func nullableArg(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := v.Dec()
	return &s
}

func parseOutcome(kind string, direction *string) (domain.Outcome, error) {
	switch domain.OutcomeKind(kind) {
	case domain.OutcomeUnresolved:
		return domain.Unresolved(), nil
	case domain.OutcomeVoid:
		return domain.Void(), nil
	case domain.OutcomeDecided:
		if direction == nil {
			return domain.Outcome{}, errors.New("decided round without direction")
		}
		return domain.Decided(domain.DirectionOf(*direction == domain.DirectionUp.String())), nil
	}
	return domain.Outcome{}, fmt.Errorf("unknown outcome %q", kind)
}

func outcomeArg(o domain.Outcome) string {
	if o.Kind == "" {
		return string(domain.OutcomeUnresolved)
	}
	return string(o.Kind)
}

func directionArg(o domain.Outcome) *string {
	if o.Kind != domain.OutcomeDecided {
		return nil
	}
	s := o.Direction.String()
	return &s
}

func parseSnapshot(cumulative *string, blockTime *int64) (*domain.CumulativeSnapshot, error) {
	if cumulative == nil || blockTime == nil {
		return nil, nil
	}
	c, err := domain.ParseAmount(*cumulative)
	if err != nil {
		return nil, err
	}
	return &domain.CumulativeSnapshot{Cumulative: c, BlockTime: uint64(*blockTime)}, nil
}

func snapshotArgs(s *domain.CumulativeSnapshot) (*string, *int64) {
	if s == nil {
		return nil, nil
	}
	c := s.Cumulative.Dec()
	t := int64(s.BlockTime)
	return &c, &t
}
