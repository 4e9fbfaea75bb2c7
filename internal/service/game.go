package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spacewager/internal/domain"
	"github.com/alanyoungcy/spacewager/internal/metrics"
)

// settleLockKey guards settlement across service instances sharing a store.
const settleLockKey = "settle"

// settleLockTTL bounds how long a crashed instance can block settlement.
const settleLockTTL = 30 * time.Second

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// snapshotter is implemented by oracles that track a cumulative accumulator
// and need a starting snapshot for the first round.
type snapshotter interface {
	Snapshot(ctx context.Context) (domain.CumulativeSnapshot, error)
}

// Game executes commands and queries against the round ledger. Every command
// runs as one store transaction; the optional collaborators only observe
// committed results.
type Game struct {
	store    domain.Store
	oracle   domain.PriceOracle
	bus      domain.SignalBus
	locks    domain.LockManager
	prices   domain.PriceCache
	audit    domain.AuditStore
	notifier Notifier
	metrics  *metrics.GameMetrics
	logger   *slog.Logger
}

// NewGame creates a Game over store, settling against oracle.
func NewGame(store domain.Store, oracle domain.PriceOracle, logger *slog.Logger) *Game {
	return &Game{
		store:  store,
		oracle: oracle,
		logger: logger.With(slog.String("component", "game")),
	}
}

// WithSignalBus publishes committed events on bus and relays claim payouts
// to its transfer stream through the ledger outbox.
func (g *Game) WithSignalBus(bus domain.SignalBus) *Game {
	g.bus = bus
	return g
}

// WithLockManager serializes settlement through locks.
func (g *Game) WithLockManager(locks domain.LockManager) *Game {
	g.locks = locks
	return g
}

// WithPriceCache records every settlement price in cache.
func (g *Game) WithPriceCache(cache domain.PriceCache) *Game {
	g.prices = cache
	return g
}

// WithAuditStore logs every executed command to audit.
func (g *Game) WithAuditStore(audit domain.AuditStore) *Game {
	g.audit = audit
	return g
}

// WithNotifier sends round settlement notifications through n.
func (g *Game) WithNotifier(n Notifier) *Game {
	g.notifier = n
	return g
}

// WithMetrics records command metrics in m.
func (g *Game) WithMetrics(m *metrics.GameMetrics) *Game {
	g.metrics = m
	return g
}

// validateConfig checks the invariants every stored config must hold.
func validateConfig(cfg domain.GameConfig) error {
	switch {
	case cfg.RoundDuration <= 0:
		return errors.New("round duration must be positive")
	case cfg.SettlementGrace < 0:
		return errors.New("settlement grace must not be negative")
	case cfg.Denom == "":
		return errors.New("denom must not be empty")
	case cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThan(decimal.NewFromInt(1)):
		return errors.New("fee rate must be within [0, 1]")
	}
	return nil
}

// Instantiate stores cfg and opens round 0. The opening reading locks round
// 0; if the oracle cannot produce one the round opens without a locked price
// and is voided when it is evaluated.
func (g *Game) Instantiate(ctx context.Context, env domain.Env, info domain.MessageInfo, cfg domain.GameConfig) (*domain.Response, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("game: instantiate: %w", err)
	}

	opening := g.openingReading(ctx, env)

	var first domain.Round
	err := g.store.Update(ctx, func(tx domain.Tx) error {
		if _, err := tx.GetState(ctx); err == nil {
			return domain.ErrAlreadyInstantiated
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := tx.PutConfig(ctx, cfg); err != nil {
			return err
		}
		if err := tx.PutState(ctx, domain.GameState{CurrentRound: 0}); err != nil {
			return err
		}
		first = openFirstRound(env.Now, cfg, opening)
		return tx.PutRound(ctx, first)
	})
	if err != nil {
		return nil, fmt.Errorf("game: instantiate: %w", err)
	}

	g.logger.InfoContext(ctx, "game: instantiated",
		slog.String("owner", info.Sender.Hex()),
		slog.String("denom", cfg.Denom),
		slog.Duration("round_duration", cfg.RoundDuration),
		slog.String("locked_price", domain.FormatOptionalAmount(first.LockedPrice)),
	)
	g.auditLog(ctx, "instantiate", map[string]any{
		"owner":    info.Sender.Hex(),
		"denom":    cfg.Denom,
		"fee_rate": cfg.FeeRate.String(),
	})

	res := &domain.Response{}
	res.AddAttribute("method", "instantiate").AddAttribute("owner", info.Sender.Hex())
	return res, nil
}

func (g *Game) openingReading(ctx context.Context, env domain.Env) domain.PriceReading {
	if s, ok := g.oracle.(snapshotter); ok {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			g.logger.WarnContext(ctx, "game: opening snapshot unavailable", slog.String("error", err.Error()))
			return domain.PriceReading{}
		}
		return domain.PriceReading{Snapshot: &snap}
	}
	reading, err := g.oracle.FetchPrice(ctx, domain.PriceQuery{Now: env.Now})
	if err != nil {
		g.logger.WarnContext(ctx, "game: opening price unavailable", slog.String("error", err.Error()))
		return domain.PriceReading{}
	}
	return reading
}

// Migrate replaces the game configuration. Existing rounds keep the timing
// they were opened with.
func (g *Game) Migrate(ctx context.Context, cfg domain.GameConfig) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("game: migrate: %w", err)
	}
	err := g.store.Update(ctx, func(tx domain.Tx) error {
		if _, err := tx.GetConfig(ctx); err != nil {
			return err
		}
		return tx.PutConfig(ctx, cfg)
	})
	if err != nil {
		return fmt.Errorf("game: migrate: %w", err)
	}
	g.logger.InfoContext(ctx, "game: config migrated",
		slog.String("price_source", cfg.PriceSource),
		slog.String("denom", cfg.Denom),
	)
	g.auditLog(ctx, "migrate", map[string]any{"price_source": cfg.PriceSource, "denom": cfg.Denom})
	return nil
}

// Execute dispatches cmd.
func (g *Game) Execute(ctx context.Context, env domain.Env, info domain.MessageInfo, cmd Command) (res *domain.Response, err error) {
	if cmd == nil {
		return nil, errors.New("game: nil command")
	}
	started := time.Now()
	defer func() {
		g.metrics.ObserveCommand(cmd.Name(), started, err)
	}()

	switch c := cmd.(type) {
	case MakePrediction:
		return g.MakePrediction(ctx, env, info, c.Up)
	case ResolveGame:
		return g.ResolveGame(ctx, env, c.Player, c.Rounds)
	case ResolvePrediction:
		return g.ResolvePrediction(ctx, env)
	default:
		return nil, fmt.Errorf("game: unknown command %T", cmd)
	}
}

// MakePrediction stakes info.Funds on the current round.
func (g *Game) MakePrediction(ctx context.Context, env domain.Env, info domain.MessageInfo, up bool) (*domain.Response, error) {
	dir := domain.DirectionOf(up)

	var (
		w     domain.Wager
		r     domain.Round
		stake string
	)
	err := g.store.Update(ctx, func(tx domain.Tx) error {
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		amount, err := stakeAmount(info.Funds, cfg.Denom)
		if err != nil {
			return err
		}
		stake = amount.Dec()
		st, err := tx.GetState(ctx)
		if err != nil {
			return err
		}
		cur, err := tx.GetRound(ctx, st.CurrentRound)
		if err != nil {
			return err
		}
		if !env.Now.Before(cur.ClosingTime) {
			return fmt.Errorf("round %d: %w", cur.ID, domain.ErrRoundClosed)
		}
		w, r, err = recordWager(ctx, tx, st.CurrentRound, info.Sender, dir, amount)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("game: make prediction: %w", err)
	}

	if g.metrics != nil {
		g.metrics.StakesTotal.WithLabelValues(dir.String()).Inc()
	}
	g.logger.InfoContext(ctx, "game: stake recorded",
		slog.String("player", info.Sender.Hex()),
		slog.Uint64("round", r.ID),
		slog.String("direction", dir.String()),
		slog.String("amount", stake),
	)
	g.publish(ctx, domain.ChannelWagers, map[string]any{
		"event":      "wager_placed",
		"player":     info.Sender.Hex(),
		"round":      r.ID,
		"direction":  dir.String(),
		"amount":     stake,
		"up_pool":    r.UpPool.Dec(),
		"down_pool":  r.DownPool.Dec(),
		"wager_up":   w.Up.Dec(),
		"wager_down": w.Down.Dec(),
	})
	g.auditLog(ctx, "make_prediction", map[string]any{
		"player": info.Sender.Hex(), "round": r.ID, "direction": dir.String(), "amount": stake,
	})

	res := &domain.Response{}
	res.AddAttribute("action", "make_prediction").
		AddAttribute("entered", dir.String()).
		AddAttribute("committed", stake).
		AddAttribute("prediction_id", strconv.FormatUint(r.ID, 10))
	return res, nil
}

// ResolvePrediction settles the current round once it has closed. The
// reference price is fetched outside the store transaction; the transaction
// re-checks that the round it was fetched for is still current.
func (g *Game) ResolvePrediction(ctx context.Context, env domain.Env) (*domain.Response, error) {
	if g.locks != nil {
		unlock, err := g.locks.Acquire(ctx, settleLockKey, settleLockTTL)
		if err != nil {
			return nil, fmt.Errorf("game: resolve prediction: %w", err)
		}
		defer unlock()
	}

	var (
		cfg domain.GameConfig
		cur domain.Round
	)
	err := g.store.View(ctx, func(tx domain.Tx) error {
		var err error
		if cfg, err = tx.GetConfig(ctx); err != nil {
			return err
		}
		st, err := tx.GetState(ctx)
		if err != nil {
			return err
		}
		if cur, err = tx.GetRound(ctx, st.CurrentRound); err != nil {
			return err
		}
		return checkCloseable(cur, env.Now)
	})
	if err != nil {
		return nil, fmt.Errorf("game: resolve prediction: %w", err)
	}

	reading, err := g.oracle.FetchPrice(ctx, domain.PriceQuery{Now: env.Now, Since: cur.OpenSnapshot})
	g.observeFetch(err, reading)
	if err != nil {
		return nil, fmt.Errorf("game: resolve prediction: %w", err)
	}

	var s settlement
	err = g.store.Update(ctx, func(tx domain.Tx) error {
		var err error
		s, err = settleRound(ctx, tx, cfg, env.Now, cur.ID, reading)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("game: resolve prediction: %w", err)
	}

	g.afterSettlement(ctx, env, s, reading)
	return s.attributes(reading), nil
}

func (g *Game) observeFetch(err error, reading domain.PriceReading) {
	if g.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case !reading.Resolvable():
		result = "unresolvable"
	}
	g.metrics.OracleFetches.WithLabelValues(g.oracle.Name(), result).Inc()
}

func (g *Game) afterSettlement(ctx context.Context, env domain.Env, s settlement, reading domain.PriceReading) {
	attrs := []any{
		slog.Uint64("closed_round", s.Closed.ID),
		slog.Uint64("opened_round", s.Opened.ID),
		slog.String("price", domain.FormatOptionalAmount(reading.Price)),
	}
	evt := map[string]any{
		"event":        "round_settled",
		"closed_round": s.Closed.ID,
		"opened_round": s.Opened.ID,
		"price":        domain.FormatOptionalAmount(reading.Price),
	}
	if prev := s.Evaluated; prev != nil {
		attrs = append(attrs,
			slog.Uint64("decided_round", prev.ID),
			slog.String("outcome", string(prev.Outcome.Kind)),
		)
		evt["decided_round"] = prev.ID
		evt["outcome"] = string(prev.Outcome.Kind)
		if prev.Outcome.Kind == domain.OutcomeDecided {
			evt["direction"] = prev.Outcome.Direction.String()
		}
		if g.metrics != nil {
			g.metrics.RoundsSettled.WithLabelValues(string(prev.Outcome.Kind)).Inc()
		}
	}
	if g.metrics != nil {
		g.metrics.CurrentRound.Set(float64(s.Opened.ID))
	}
	g.logger.InfoContext(ctx, "game: round settled", attrs...)
	g.publish(ctx, domain.ChannelRounds, evt)
	g.auditLog(ctx, "resolve_prediction", evt)

	if g.prices != nil && reading.Price != nil {
		if err := g.prices.SetPrice(ctx, g.oracle.Name(), reading.Price, env.Now); err != nil {
			g.logger.WarnContext(ctx, "game: cache settlement price failed", slog.String("error", err.Error()))
		}
	}
	if g.notifier != nil && s.Evaluated != nil {
		prev := s.Evaluated
		msg := fmt.Sprintf("Round %d settled %s at price %s (locked %s, pools up=%s down=%s)",
			prev.ID, outcomeLabel(prev.Outcome),
			domain.FormatOptionalAmount(reading.Price), domain.FormatOptionalAmount(prev.LockedPrice),
			prev.UpPool.Dec(), prev.DownPool.Dec())
		if err := g.notifier.Notify(ctx, "round_settled", "Round settled", msg); err != nil {
			g.logger.WarnContext(ctx, "game: notify failed", slog.String("error", err.Error()))
		}
	}
}

func outcomeLabel(o domain.Outcome) string {
	if o.Kind == domain.OutcomeDecided {
		return o.Direction.String()
	}
	return string(o.Kind)
}

// ResolveGame claims prizes and refunds for player across rounds. Anyone may
// submit the claim; payouts always go to player.
func (g *Game) ResolveGame(ctx context.Context, env domain.Env, player domain.Player, rounds []uint64) (*domain.Response, error) {
	var (
		res       claimResult
		transfers []domain.Transfer
	)
	err := g.store.Update(ctx, func(tx domain.Tx) error {
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		if res, err = claimRounds(ctx, tx, cfg, player, rounds); err != nil {
			return err
		}
		transfers = res.transfers(cfg, player)
		if g.bus == nil {
			return nil
		}
		return enqueueTransfers(ctx, tx, transfers)
	})
	if err != nil {
		return nil, fmt.Errorf("game: resolve game: %w", err)
	}

	if g.metrics != nil {
		for kind, n := range res.Kinds {
			g.metrics.ClaimsTotal.WithLabelValues(string(kind)).Add(float64(n))
		}
	}
	g.logger.InfoContext(ctx, "game: claim processed",
		slog.String("player", player.Hex()),
		slog.Int("rounds", len(rounds)),
		slog.String("win", res.Win.Dec()),
		slog.String("refund", res.Refund.Dec()),
		slog.String("fee", res.Fee.Dec()),
		slog.String("net", res.Net.Dec()),
	)
	evt := map[string]any{
		"event":  "claim_processed",
		"player": player.Hex(),
		"rounds": rounds,
		"net":    res.Net.Dec(),
		"fee":    res.Fee.Dec(),
		"refund": res.Refund.Dec(),
		"at":     env.Now.UTC(),
	}
	g.publish(ctx, domain.ChannelClaims, evt)
	if g.bus != nil {
		if _, err := g.RelayTransfers(ctx); err != nil {
			g.logger.WarnContext(ctx, "game: relay transfers failed", slog.String("error", err.Error()))
		}
	}
	g.auditLog(ctx, "resolve_game", evt)

	out := &domain.Response{Transfers: transfers}
	out.AddAttribute("action", "resolve_game").
		AddAttribute("player", player.Hex()).
		AddAttribute("prize", res.Net.Dec()).
		AddAttribute("fee", res.Fee.Dec()).
		AddAttribute("refund", res.Refund.Dec())
	return out, nil
}

// Query dispatches q and returns one of the *Response types.
func (g *Game) Query(ctx context.Context, q Query) (any, error) {
	var out any
	err := g.store.View(ctx, func(tx domain.Tx) error {
		switch q := q.(type) {
		case StateQuery:
			st, err := tx.GetState(ctx)
			out = StateResponse{Round: st.CurrentRound}
			return err
		case ConfigQuery:
			cfg, err := tx.GetConfig(ctx)
			out = configResponse(cfg)
			return err
		case GameQuery:
			w, err := tx.GetWager(ctx, q.Player, q.Round)
			out = gameResponse(w)
			return err
		case PredictionQuery:
			r, err := tx.GetRound(ctx, q.Round)
			out = predictionResponse(r)
			return err
		case PredictionsQuery:
			rounds, err := tx.ListRounds(ctx, domain.PageOpts{StartAfter: q.StartAfter, Limit: q.Limit})
			resp := PredictionsResponse{Predictions: make([]PredictionResponse, 0, len(rounds))}
			for _, r := range rounds {
				resp.Predictions = append(resp.Predictions, predictionResponse(r))
			}
			out = resp
			return err
		case PlayerQuery:
			s, err := tx.GetPlayerStats(ctx, q.Player)
			out = playerResponse(s)
			return err
		case GamesQuery:
			wagers, err := tx.ListWagers(ctx, q.Player, domain.PageOpts{StartAfter: q.StartAfter, Limit: q.Limit})
			resp := GamesResponse{Games: make([]GameResponse, 0, len(wagers))}
			for _, w := range wagers {
				resp.Games = append(resp.Games, gameResponse(w))
			}
			out = resp
			return err
		default:
			return fmt.Errorf("unknown query %T", q)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("game: query: %w", err)
	}
	return out, nil
}

func (g *Game) publish(ctx context.Context, channel string, evt map[string]any) {
	if g.bus == nil {
		return
	}
	payload, _ := json.Marshal(evt)
	if err := g.bus.Publish(ctx, channel, payload); err != nil {
		g.logger.WarnContext(ctx, "game: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

type transferMessage struct {
	ID        uint64 `json:"id"`
	Recipient string `json:"recipient"`
	Denom     string `json:"denom"`
	Amount    string `json:"amount"`
}

// relayBatch bounds how many queued transfers one relay pass reads.
const relayBatch = 100

// enqueueTransfers records every payout coin in the ledger outbox.
func enqueueTransfers(ctx context.Context, tx domain.Tx, transfers []domain.Transfer) error {
	for _, t := range transfers {
		for _, c := range t.Coins {
			if _, err := tx.EnqueueTransfer(ctx, t.Recipient, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// RelayTransfers moves queued payouts from the ledger outbox to the durable
// transfer stream consumed by the funds collaborator. A payout leaves the
// outbox only after the stream accepted it, so delivery is at least once and
// consumers deduplicate on the message id. It returns the number relayed.
func (g *Game) RelayTransfers(ctx context.Context) (int, error) {
	if g.bus == nil {
		return 0, nil
	}
	relayed := 0
	for {
		var pending []domain.QueuedTransfer
		err := g.store.View(ctx, func(tx domain.Tx) error {
			var err error
			pending, err = tx.PendingTransfers(ctx, relayBatch)
			return err
		})
		if err != nil {
			return relayed, fmt.Errorf("game: relay transfers: %w", err)
		}
		for _, q := range pending {
			payload, _ := json.Marshal(transferMessage{
				ID:        q.ID,
				Recipient: q.Recipient.Hex(),
				Denom:     q.Coin.Denom,
				Amount:    q.Coin.Amount.Dec(),
			})
			if err := g.bus.StreamAppend(ctx, domain.StreamTransfers, payload); err != nil {
				return relayed, fmt.Errorf("game: relay transfer %d: %w", q.ID, err)
			}
			err := g.store.Update(ctx, func(tx domain.Tx) error {
				return tx.DeleteTransfer(ctx, q.ID)
			})
			if err != nil {
				return relayed, fmt.Errorf("game: relay transfer %d: %w", q.ID, err)
			}
			relayed++
		}
		if len(pending) < relayBatch {
			return relayed, nil
		}
	}
}

func (g *Game) auditLog(ctx context.Context, event string, detail map[string]any) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Log(ctx, event, detail); err != nil {
		g.logger.WarnContext(ctx, "game: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
