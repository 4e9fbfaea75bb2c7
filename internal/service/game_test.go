package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spacewager/internal/domain"
	"github.com/alanyoungcy/spacewager/internal/oracle"
	"github.com/alanyoungcy/spacewager/internal/service"
	badgerstore "github.com/alanyoungcy/spacewager/internal/store/badger"
)

const denom = "uusd"

var (
	t0        = time.Unix(1_650_000_000, 0).UTC()
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	collector = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	owner     = common.HexToAddress("0x000000000000000000000000000000000000000a")
)

// stubOracle returns whatever price the test last set.
type stubOracle struct {
	mu    sync.Mutex
	price *uint256.Int
	err   error
	calls int
}

func (o *stubOracle) Name() string { return "stub" }

func (o *stubOracle) FetchPrice(context.Context, domain.PriceQuery) (domain.PriceReading, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return domain.PriceReading{}, o.err
	}
	if o.price == nil {
		return domain.PriceReading{}, nil
	}
	return domain.PriceReading{Price: new(uint256.Int).Set(o.price)}, nil
}

func (o *stubOracle) set(p uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = uint256.NewInt(p)
	o.err = nil
}

func (o *stubOracle) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

type fixture struct {
	game   *service.Game
	oracle *stubOracle
	cfg    domain.GameConfig
}

func newFixture(t *testing.T, feeRate string) *fixture {
	t.Helper()
	store, err := badgerstore.Open("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rate, err := domain.ParseFeeRate(feeRate)
	require.NoError(t, err)
	cfg := domain.GameConfig{
		PriceSource:     "0xpool",
		Collector:       collector,
		RoundDuration:   300 * time.Second,
		SettlementGrace: 30 * time.Second,
		Denom:           denom,
		FeeRate:         rate,
	}

	oracle := &stubOracle{}
	oracle.set(1_000_000)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	game := service.NewGame(store, oracle, logger)

	_, err = game.Instantiate(context.Background(), env(0), domain.MessageInfo{Sender: owner}, cfg)
	require.NoError(t, err)
	return &fixture{game: game, oracle: oracle, cfg: cfg}
}

func env(offsetSeconds int) domain.Env {
	return domain.Env{Now: t0.Add(time.Duration(offsetSeconds) * time.Second)}
}

func funds(amount uint64) []domain.Coin {
	return []domain.Coin{{Denom: denom, Amount: *uint256.NewInt(amount)}}
}

func (f *fixture) stake(t *testing.T, at int, player common.Address, up bool, amount uint64) {
	t.Helper()
	_, err := f.game.MakePrediction(context.Background(), env(at), domain.MessageInfo{Sender: player, Funds: funds(amount)}, up)
	require.NoError(t, err)
}

func (f *fixture) settle(t *testing.T, at int, price uint64) *domain.Response {
	t.Helper()
	f.oracle.set(price)
	res, err := f.game.ResolvePrediction(context.Background(), env(at))
	require.NoError(t, err)
	return res
}

func (f *fixture) round(t *testing.T, id uint64) service.PredictionResponse {
	t.Helper()
	out, err := f.game.Query(context.Background(), service.PredictionQuery{Round: id})
	require.NoError(t, err)
	return out.(service.PredictionResponse)
}

func (f *fixture) current(t *testing.T) uint64 {
	t.Helper()
	out, err := f.game.Query(context.Background(), service.StateQuery{})
	require.NoError(t, err)
	return out.(service.StateResponse).Round
}

func (f *fixture) player(t *testing.T, p common.Address) service.PlayerResponse {
	t.Helper()
	out, err := f.game.Query(context.Background(), service.PlayerQuery{Player: p})
	require.NoError(t, err)
	return out.(service.PlayerResponse)
}

func transferTo(res *domain.Response, p common.Address) string {
	for _, tr := range res.Transfers {
		if tr.Recipient == p {
			return tr.Coins[0].Amount.Dec()
		}
	}
	return ""
}

func TestWorkedExample(t *testing.T) {
	f := newFixture(t, "0.05")
	ctx := context.Background()

	f.stake(t, 10, alice, false, 100_000_000)
	f.stake(t, 20, bob, true, 500_000_000)
	f.stake(t, 30, bob, false, 100_000_000)

	r0 := f.round(t, 0)
	assert.Equal(t, "500000000", r0.Up)
	assert.Equal(t, "200000000", r0.Down)
	assert.Equal(t, "1000000", *r0.LockedPrice)
	assert.Equal(t, uint64(t0.Unix()+300), r0.ClosingTime)
	assert.Equal(t, uint64(t0.Unix()+630), r0.ExpireTime)

	// closing round 0 opens round 1 locked at the settlement price
	f.settle(t, 300, 1_100_000)
	require.Equal(t, uint64(1), f.current(t))
	r1 := f.round(t, 1)
	assert.Equal(t, "1100000", *r1.LockedPrice)
	assert.Nil(t, f.round(t, 0).Success)

	// closing round 1 decides round 0
	res := f.settle(t, 600, 1_200_000)
	v, _ := res.Attr("is_success")
	assert.Equal(t, "true", v)
	v, _ = res.Attr("resolved")
	assert.Equal(t, "up", v)

	r0 = f.round(t, 0)
	require.NotNil(t, r0.Success)
	assert.True(t, *r0.Success)
	assert.True(t, *r0.IsUp)
	assert.Equal(t, "1200000", *r0.ResolvedPrice)

	claim, err := f.game.ResolveGame(ctx, env(610), bob, []uint64{0})
	require.NoError(t, err)
	require.Len(t, claim.Transfers, 2)
	assert.Equal(t, "665000000", transferTo(claim, bob))
	assert.Equal(t, "35000000", transferTo(claim, collector))

	claim, err = f.game.ResolveGame(ctx, env(610), alice, []uint64{0})
	require.NoError(t, err)
	assert.Empty(t, claim.Transfers)

	game, err := f.game.Query(ctx, service.GameQuery{Player: bob, Round: 0})
	require.NoError(t, err)
	assert.Equal(t, "700000000", game.(service.GameResponse).Prize)
	assert.True(t, game.(service.GameResponse).Resolved)

	assert.Equal(t, service.PlayerResponse{GameWon: 1, GameOver: 0, GameRewards: "100000000"}, f.player(t, bob))
	assert.Equal(t, service.PlayerResponse{GameWon: 0, GameOver: 1, GameRewards: "0"}, f.player(t, alice))
}

func TestResolveBeforeClosingIsRejected(t *testing.T) {
	f := newFixture(t, "0")
	calls := f.oracle.calls

	_, err := f.game.ResolvePrediction(context.Background(), env(299))
	require.ErrorIs(t, err, domain.ErrPredictionStillInProgress)
	assert.Equal(t, uint64(0), f.current(t))
	assert.Equal(t, calls, f.oracle.calls)
}

func TestOracleFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, "0")
	f.stake(t, 1, alice, true, 10)
	f.stake(t, 1, bob, false, 10)
	f.settle(t, 300, 2)

	f.oracle.fail(fmt.Errorf("feed down: %w", domain.ErrPriceUnavailable))
	_, err := f.game.ResolvePrediction(context.Background(), env(600))
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Equal(t, uint64(1), f.current(t))
	assert.Nil(t, f.round(t, 0).Success)
	assert.Nil(t, f.round(t, 0).ResolvedPrice)
	assert.Nil(t, f.round(t, 1).CumulativeLast2)
}

func TestStakeValidation(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	cases := []struct {
		name  string
		funds []domain.Coin
		want  error
	}{
		{"no funds", nil, domain.ErrEmptyFunds},
		{"zero amount", funds(0), domain.ErrEmptyFunds},
		{"wrong denom", []domain.Coin{{Denom: "uluna", Amount: *uint256.NewInt(5)}}, domain.ErrWrongDenom},
		{"two denoms", append(funds(5), domain.Coin{Denom: "uluna", Amount: *uint256.NewInt(5)}), domain.ErrMultipleDenoms},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.game.MakePrediction(ctx, env(1), domain.MessageInfo{Sender: alice, Funds: tc.funds}, true)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.game.Query(ctx, service.GameQuery{Player: alice, Round: 0})
	require.ErrorIs(t, err, domain.ErrNotFound)
	r0 := f.round(t, 0)
	assert.Equal(t, "0", r0.Up)
	assert.Equal(t, "0", r0.Down)
}

func TestStakeAfterClosingIsRejected(t *testing.T) {
	f := newFixture(t, "0")
	_, err := f.game.MakePrediction(context.Background(), env(300), domain.MessageInfo{Sender: alice, Funds: funds(5)}, true)
	require.ErrorIs(t, err, domain.ErrRoundClosed)
}

func TestRepeatedStakesAccumulate(t *testing.T) {
	f := newFixture(t, "0")
	f.stake(t, 1, alice, true, 5)
	f.stake(t, 2, alice, true, 7)
	f.stake(t, 3, alice, false, 11)

	out, err := f.game.Query(context.Background(), service.GameQuery{Player: alice, Round: 0})
	require.NoError(t, err)
	g := out.(service.GameResponse)
	assert.Equal(t, "12", g.Up)
	assert.Equal(t, "11", g.Down)
	assert.False(t, g.Resolved)
}

func TestConcurrentStakesAreAllCounted(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			player := common.BigToAddress(uint256.NewInt(uint64(1000 + i%8)).ToBig())
			_, err := f.game.MakePrediction(ctx, env(5), domain.MessageInfo{Sender: player, Funds: funds(3)}, i%2 == 0)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	r0 := f.round(t, 0)
	assert.Equal(t, "60", r0.Up)
	assert.Equal(t, "60", r0.Down)
}

func TestOneSidedRoundRefundsWithoutFee(t *testing.T) {
	f := newFixture(t, "0.1")
	f.stake(t, 1, alice, true, 40)
	f.stake(t, 2, bob, true, 60)
	f.settle(t, 300, 5)
	res := f.settle(t, 600, 9)

	v, _ := res.Attr("is_success")
	assert.Equal(t, "false", v)
	_, decided := res.Attr("resolved")
	assert.False(t, decided)

	var refunded uint64
	for _, p := range []common.Address{alice, bob} {
		claim, err := f.game.ResolveGame(context.Background(), env(601), p, []uint64{0})
		require.NoError(t, err)
		require.Len(t, claim.Transfers, 1)
		assert.Equal(t, p, claim.Transfers[0].Recipient)
		refunded += claim.Transfers[0].Coins[0].Amount.Uint64()
	}
	assert.Equal(t, uint64(100), refunded)
	assert.Equal(t, service.PlayerResponse{GameRewards: "0"}, f.player(t, alice))
}

func TestUnchangedPriceVoids(t *testing.T) {
	f := newFixture(t, "0")
	f.stake(t, 1, alice, true, 10)
	f.stake(t, 1, bob, false, 10)
	f.settle(t, 300, 1_000_000)
	f.settle(t, 600, 1_000_000)

	r0 := f.round(t, 0)
	require.NotNil(t, r0.Success)
	assert.False(t, *r0.Success)
	assert.Nil(t, r0.IsUp)
}

func TestLateSettlementVoids(t *testing.T) {
	f := newFixture(t, "0")
	f.stake(t, 1, alice, true, 10)
	f.stake(t, 1, bob, false, 10)
	f.settle(t, 300, 2_000_000)
	f.settle(t, 630, 3_000_000)

	r0 := f.round(t, 0)
	require.NotNil(t, r0.Success)
	assert.False(t, *r0.Success)
}

func TestDownWins(t *testing.T) {
	f := newFixture(t, "0")
	f.stake(t, 1, alice, true, 10)
	f.stake(t, 1, bob, false, 30)
	f.settle(t, 300, 900_000)
	f.settle(t, 600, 800_000)

	r0 := f.round(t, 0)
	require.True(t, *r0.Success)
	assert.False(t, *r0.IsUp)

	claim, err := f.game.ResolveGame(context.Background(), env(601), bob, []uint64{0})
	require.NoError(t, err)
	assert.Equal(t, "40", transferTo(claim, bob))
}

func TestClaimErrors(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	f.stake(t, 1, alice, true, 10)
	f.stake(t, 1, bob, false, 10)

	_, err := f.game.ResolveGame(ctx, env(2), alice, []uint64{0})
	require.ErrorIs(t, err, domain.ErrPredictionStillInProgress)

	f.settle(t, 300, 2_000_000)
	f.settle(t, 600, 3_000_000)

	_, err = f.game.ResolveGame(ctx, env(601), carol, []uint64{0})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.game.ResolveGame(ctx, env(601), alice, []uint64{42})
	require.ErrorIs(t, err, domain.ErrNotFound)

	// a failing round anywhere in the batch discards the whole claim
	_, err = f.game.ResolveGame(ctx, env(601), alice, []uint64{0, 1})
	require.ErrorIs(t, err, domain.ErrPredictionStillInProgress)
	_, err = f.game.ResolveGame(ctx, env(601), alice, []uint64{0, 42})
	require.ErrorIs(t, err, domain.ErrNotFound)
	out, err := f.game.Query(ctx, service.GameQuery{Player: alice, Round: 0})
	require.NoError(t, err)
	assert.False(t, out.(service.GameResponse).Resolved)

	first, err := f.game.ResolveGame(ctx, env(601), alice, []uint64{0})
	require.NoError(t, err)
	assert.Equal(t, "20", transferTo(first, alice))

	_, err = f.game.ResolveGame(ctx, env(602), alice, []uint64{0})
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Equal(t, service.PlayerResponse{GameWon: 1, GameRewards: "10"}, f.player(t, alice))

	_, err = f.game.ResolveGame(ctx, env(602), bob, []uint64{0, 0})
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestBatchClaimSplitsFeeFromRefunds(t *testing.T) {
	f := newFixture(t, "0.5")
	ctx := context.Background()

	// round 0: alice wins 20 gross
	f.stake(t, 1, alice, true, 10)
	f.stake(t, 1, bob, false, 10)
	f.settle(t, 300, 1_000_000)
	// round 1: alice alone, refund 7
	f.stake(t, 301, alice, false, 7)
	f.settle(t, 600, 2_000_000)
	f.settle(t, 900, 2_500_000)

	res, err := f.game.ResolveGame(ctx, env(901), alice, []uint64{0, 1})
	require.NoError(t, err)
	require.Len(t, res.Transfers, 2)
	assert.Equal(t, "17", transferTo(res, alice))
	assert.Equal(t, "10", transferTo(res, collector))
	fee, _ := res.Attr("fee")
	assert.Equal(t, "10", fee)
	refund, _ := res.Attr("refund")
	assert.Equal(t, "7", refund)
}

func TestPariMutuelConservation(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	winners := []struct {
		player common.Address
		amount uint64
	}{
		{alice, 333_333},
		{bob, 1_000_001},
		{carol, 7},
	}
	loser := common.HexToAddress("0x1055")
	for _, w := range winners {
		f.stake(t, 1, w.player, true, w.amount)
	}
	f.stake(t, 1, loser, false, 999_999)
	f.settle(t, 300, 1)
	f.settle(t, 600, 2_000_000)

	total := uint64(333_333 + 1_000_001 + 7 + 999_999)
	var paid uint64
	for _, w := range winners {
		res, err := f.game.ResolveGame(ctx, env(601), w.player, []uint64{0})
		require.NoError(t, err)
		paid += res.Transfers[0].Coins[0].Amount.Uint64()
	}
	res, err := f.game.ResolveGame(ctx, env(601), loser, []uint64{0})
	require.NoError(t, err)
	assert.Empty(t, res.Transfers)

	assert.LessOrEqual(t, paid, total)
	assert.Less(t, total-paid, uint64(len(winners)))
}

func TestRoundIdsAreSequential(t *testing.T) {
	f := newFixture(t, "0")
	for i := 1; i <= 5; i++ {
		res := f.settle(t, 300*i, uint64(i))
		next, _ := res.Attr("next_prediction_id")
		assert.Equal(t, fmt.Sprint(i), next)
		assert.Equal(t, uint64(i), f.current(t))
	}
}

func TestPaginatedQueries(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		f.stake(t, 300*i+1, alice, true, 1)
		f.settle(t, 300*(i+1), uint64(i+1))
	}

	out, err := f.game.Query(ctx, service.PredictionsQuery{Limit: 3})
	require.NoError(t, err)
	preds := out.(service.PredictionsResponse).Predictions
	require.Len(t, preds, 3)
	assert.Equal(t, []uint64{0, 1, 2}, []uint64{preds[0].PredictionID, preds[1].PredictionID, preds[2].PredictionID})

	after := uint64(2)
	out, err = f.game.Query(ctx, service.PredictionsQuery{StartAfter: &after})
	require.NoError(t, err)
	preds = out.(service.PredictionsResponse).Predictions
	require.Len(t, preds, 2)
	assert.Equal(t, uint64(3), preds[0].PredictionID)

	out, err = f.game.Query(ctx, service.GamesQuery{Player: alice})
	require.NoError(t, err)
	games := out.(service.GamesResponse).Games
	require.Len(t, games, 4)
	assert.Equal(t, uint64(3), games[0].GameID)
	assert.Equal(t, uint64(0), games[3].GameID)

	out, err = f.game.Query(ctx, service.GamesQuery{Player: alice, StartAfter: &after, Limit: 1})
	require.NoError(t, err)
	games = out.(service.GamesResponse).Games
	require.Len(t, games, 1)
	assert.Equal(t, uint64(1), games[0].GameID)
}

func TestInstantiateTwiceFails(t *testing.T) {
	f := newFixture(t, "0")
	_, err := f.game.Instantiate(context.Background(), env(5), domain.MessageInfo{Sender: owner}, f.cfg)
	require.ErrorIs(t, err, domain.ErrAlreadyInstantiated)
}

func TestInstantiateWithoutOpeningPrice(t *testing.T) {
	store, err := badgerstore.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	oracle := &stubOracle{err: domain.ErrPriceUnavailable}
	game := service.NewGame(store, oracle, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rate, _ := domain.ParseFeeRate("0")
	cfg := domain.GameConfig{Collector: collector, RoundDuration: time.Minute, Denom: denom, FeeRate: rate}
	_, err = game.Instantiate(context.Background(), env(0), domain.MessageInfo{Sender: owner}, cfg)
	require.NoError(t, err)

	out, err := game.Query(context.Background(), service.PredictionQuery{Round: 0})
	require.NoError(t, err)
	assert.Nil(t, out.(service.PredictionResponse).LockedPrice)
}

func TestMigrateKeepsRounds(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	f.stake(t, 1, alice, true, 10)

	next := f.cfg
	next.RoundDuration = time.Hour
	next.Denom = "uluna"
	require.NoError(t, f.game.Migrate(ctx, next))

	out, err := f.game.Query(ctx, service.ConfigQuery{})
	require.NoError(t, err)
	cfg := out.(service.ConfigResponse)
	assert.Equal(t, uint64(3600), cfg.RoundTime)
	assert.Equal(t, "uluna", cfg.Denom)
	assert.Equal(t, "10", f.round(t, 0).Up)

	bad := next
	bad.RoundDuration = 0
	require.Error(t, f.game.Migrate(ctx, bad))
}

func TestExecuteDispatch(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	res, err := f.game.Execute(ctx, env(1), domain.MessageInfo{Sender: alice, Funds: funds(9)}, service.MakePrediction{Up: true})
	require.NoError(t, err)
	entered, _ := res.Attr("entered")
	assert.Equal(t, "up", entered)

	_, err = f.game.Execute(ctx, env(2), domain.MessageInfo{}, service.ResolvePrediction{})
	require.ErrorIs(t, err, domain.ErrPredictionStillInProgress)

	_, err = f.game.Execute(ctx, env(2), domain.MessageInfo{}, service.ResolveGame{Player: alice, Rounds: []uint64{0}})
	require.True(t, errors.Is(err, domain.ErrPredictionStillInProgress))
}

// flakyCumulative fails its first read and then reports a pool holding a
// price of 7, advancing 300 seconds per read.
type flakyCumulative struct {
	mu    sync.Mutex
	calls int
}

func (c *flakyCumulative) Cumulative(context.Context) (domain.CumulativeSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == 1 {
		return domain.CumulativeSnapshot{}, errors.New("rpc down")
	}
	bt := uint64(1_000 + 300*c.calls)
	return domain.CumulativeSnapshot{Cumulative: *uint256.NewInt(7 * bt), BlockTime: bt}, nil
}

func TestTWAPRecoversFromMissingOpeningSnapshot(t *testing.T) {
	store, err := badgerstore.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	game := service.NewGame(store, oracle.NewTWAP(&flakyCumulative{}, 0, 0), slog.New(slog.NewTextHandler(io.Discard, nil)))
	f := &fixture{game: game}
	ctx := context.Background()

	rate, _ := domain.ParseFeeRate("0")
	cfg := domain.GameConfig{Collector: collector, RoundDuration: 300 * time.Second, SettlementGrace: 30 * time.Second, Denom: denom, FeeRate: rate}
	_, err = game.Instantiate(ctx, env(0), domain.MessageInfo{Sender: owner}, cfg)
	require.NoError(t, err)
	require.Nil(t, f.round(t, 0).CumulativeLast1)

	_, err = game.ResolvePrediction(ctx, env(300))
	require.NoError(t, err)
	require.Equal(t, uint64(1), f.current(t))
	r1 := f.round(t, 1)
	require.NotNil(t, r1.CumulativeLast1)
	assert.Nil(t, r1.LockedPrice)

	f.stake(t, 301, alice, true, 10)
	f.stake(t, 301, bob, false, 10)

	_, err = game.ResolvePrediction(ctx, env(600))
	require.NoError(t, err)
	r0 := f.round(t, 0)
	require.NotNil(t, r0.Success)
	assert.False(t, *r0.Success)
	require.NotNil(t, f.round(t, 2).LockedPrice)
	assert.Equal(t, "7000000", *f.round(t, 2).LockedPrice)

	// round 1 opened without a locked price, so it is voided and refunded
	_, err = game.ResolvePrediction(ctx, env(900))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.current(t))
	claim, err := game.ResolveGame(ctx, env(901), alice, []uint64{1})
	require.NoError(t, err)
	assert.Equal(t, "10", transferTo(claim, alice))
}

// memBus records stream appends and fails them while appendErr is set.
type memBus struct {
	mu        sync.Mutex
	appendErr error
	stream    [][]byte
}

func (b *memBus) Publish(context.Context, string, []byte) error { return nil }

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appendErr != nil {
		return b.appendErr
	}
	b.stream = append(b.stream, payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) setAppendErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendErr = err
}

type queuedPayout struct {
	ID        uint64 `json:"id"`
	Recipient string `json:"recipient"`
	Denom     string `json:"denom"`
	Amount    string `json:"amount"`
}

func (b *memBus) payouts(t *testing.T) map[string]string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string)
	for _, raw := range b.stream {
		var p queuedPayout
		require.NoError(t, json.Unmarshal(raw, &p))
		require.Equal(t, denom, p.Denom)
		out[p.Recipient] = p.Amount
	}
	return out
}

func TestClaimPayoutsSurviveStreamOutage(t *testing.T) {
	f := newFixture(t, "0.05")
	ctx := context.Background()
	bus := &memBus{appendErr: errors.New("redis down")}
	f.game.WithSignalBus(bus)

	f.stake(t, 1, alice, true, 100)
	f.stake(t, 1, bob, false, 300)
	f.settle(t, 300, 900_000)
	f.settle(t, 600, 800_000)

	claim, err := f.game.ResolveGame(ctx, env(601), bob, []uint64{0})
	require.NoError(t, err)
	assert.Equal(t, "380", transferTo(claim, bob))
	assert.Empty(t, bus.payouts(t))

	_, err = f.game.ResolveGame(ctx, env(602), bob, []uint64{0})
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	n, err := f.game.RelayTransfers(ctx)
	require.Error(t, err)
	assert.Zero(t, n)

	bus.setAppendErr(nil)
	n, err = f.game.RelayTransfers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]string{bob.Hex(): "380", collector.Hex(): "20"}, bus.payouts(t))

	n, err = f.game.RelayTransfers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClaimPayoutsRelayImmediately(t *testing.T) {
	f := newFixture(t, "0")
	bus := &memBus{}
	f.game.WithSignalBus(bus)

	f.stake(t, 1, alice, true, 10)
	f.stake(t, 1, bob, false, 10)
	f.settle(t, 300, 2_000_000)
	f.settle(t, 600, 3_000_000)

	_, err := f.game.ResolveGame(context.Background(), env(601), alice, []uint64{0})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{alice.Hex(): "20"}, bus.payouts(t))
}
