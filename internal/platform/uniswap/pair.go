// Package uniswap reads a constant-product pair contract over JSON-RPC. It
// provides the spot reserves and the cumulative price accumulator that the
// instant and TWAP oracles price rounds from.
package uniswap

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// PriceFracBits is the number of fractional bits of the UQ112x112 values
// the pair accumulates.
const PriceFracBits = 112

const pairABI = `[
 {"constant":true,"inputs":[],"name":"getReserves","outputs":[
  {"name":"reserve0","type":"uint112"},
  {"name":"reserve1","type":"uint112"},
  {"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
 {"constant":true,"inputs":[],"name":"price0CumulativeLast","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"constant":true,"inputs":[],"name":"price1CumulativeLast","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// ChainReader is the subset of an Ethereum client the pair needs.
// *ethclient.Client satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Pair is a read-only binding of one pair contract. Base is the asset being
// priced; the price is expressed in units of the other asset.
type Pair struct {
	client       ChainReader
	abi          abi.ABI
	address      common.Address
	baseIsToken0 bool
	closer       func()
	logger       *slog.Logger
}

var (
	_ domain.ReservesSource   = (*Pair)(nil)
	_ domain.CumulativeSource = (*Pair)(nil)
)

// Dial connects to rpcURL and binds the pair at address.
func Dial(ctx context.Context, rpcURL string, address string, baseIsToken0 bool, logger *slog.Logger) (*Pair, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("uniswap: invalid pair address %q", address)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("uniswap: dial: %w", err)
	}
	p, err := NewPair(client, common.HexToAddress(address), baseIsToken0, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.closer = client.Close
	return p, nil
}

// NewPair binds the pair at address using an existing client.
func NewPair(client ChainReader, address common.Address, baseIsToken0 bool, logger *slog.Logger) (*Pair, error) {
	parsed, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		return nil, fmt.Errorf("uniswap: parse abi: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pair{
		client:       client,
		abi:          parsed,
		address:      address,
		baseIsToken0: baseIsToken0,
		logger:       logger.With(slog.String("component", "uniswap"), slog.String("pair", address.Hex())),
	}, nil
}

// Close releases the RPC connection when the pair owns it.
func (p *Pair) Close() {
	if p.closer != nil {
		p.closer()
	}
}

func (p *Pair) call(ctx context.Context, method string) ([]any, error) {
	input, err := p.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("uniswap: pack %s: %w", method, err)
	}
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &p.address, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("uniswap: call %s: %w", method, err)
	}
	values, err := p.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("uniswap: unpack %s: %w", method, err)
	}
	return values, nil
}

type rawReserves struct {
	r0, r1    *uint256.Int
	timestamp uint32
}

func (p *Pair) rawReserves(ctx context.Context) (rawReserves, error) {
	values, err := p.call(ctx, "getReserves")
	if err != nil {
		return rawReserves{}, err
	}
	if len(values) != 3 {
		return rawReserves{}, fmt.Errorf("uniswap: getReserves returned %d values", len(values))
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	ts, ok2 := values[2].(uint32)
	if !ok0 || !ok1 || !ok2 {
		return rawReserves{}, fmt.Errorf("uniswap: unexpected getReserves types %T %T %T", values[0], values[1], values[2])
	}
	return rawReserves{r0: uint256.MustFromBig(r0), r1: uint256.MustFromBig(r1), timestamp: ts}, nil
}

func (r rawReserves) oriented(baseIsToken0 bool) (base, quote *uint256.Int) {
	if baseIsToken0 {
		return r.r0, r.r1
	}
	return r.r1, r.r0
}

// Reserves returns the pair's current reserves oriented base/quote.
func (p *Pair) Reserves(ctx context.Context) (domain.PoolReserves, error) {
	raw, err := p.rawReserves(ctx)
	if err != nil {
		return domain.PoolReserves{}, err
	}
	base, quote := raw.oriented(p.baseIsToken0)
	return domain.PoolReserves{Base: *base, Quote: *quote, BlockTime: uint64(raw.timestamp)}, nil
}

// Cumulative returns the accumulator of the base price as of the latest
// block. The stored accumulator only advances when the pair is touched, so
// the time since the last update is added at the current spot price.
func (p *Pair) Cumulative(ctx context.Context) (domain.CumulativeSnapshot, error) {
	method := "price1CumulativeLast"
	if p.baseIsToken0 {
		method = "price0CumulativeLast"
	}
	values, err := p.call(ctx, method)
	if err != nil {
		return domain.CumulativeSnapshot{}, err
	}
	last, ok := values[0].(*big.Int)
	if !ok {
		return domain.CumulativeSnapshot{}, fmt.Errorf("uniswap: unexpected %s type %T", method, values[0])
	}
	raw, err := p.rawReserves(ctx)
	if err != nil {
		return domain.CumulativeSnapshot{}, err
	}
	head, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.CumulativeSnapshot{}, fmt.Errorf("uniswap: latest header: %w", err)
	}

	base, quote := raw.oriented(p.baseIsToken0)
	cumulative := counterfactual(uint256.MustFromBig(last), base, quote, uint64(raw.timestamp), head.Time)

	p.logger.DebugContext(ctx, "uniswap: cumulative snapshot",
		slog.String("cumulative", cumulative.Dec()),
		slog.Uint64("block_time", head.Time),
	)
	return domain.CumulativeSnapshot{Cumulative: *cumulative, BlockTime: head.Time}, nil
}

// counterfactual extends last from updatedAt to now at the spot price
// quote/base encoded as UQ112x112. The accumulator wraps modulo 2^256, which
// is how the contract itself behaves.
func counterfactual(last, base, quote *uint256.Int, updatedAt, now uint64) *uint256.Int {
	out := new(uint256.Int).Set(last)
	// The contract stores the block timestamp modulo 2^32.
	lastTs := updatedAt
	nowTs := now % (1 << 32)
	if nowTs == lastTs || base.IsZero() {
		return out
	}
	elapsed := (nowTs - lastTs) % (1 << 32)

	spot := new(uint256.Int).Lsh(quote, PriceFracBits)
	spot.Div(spot, base)
	spot.Mul(spot, uint256.NewInt(elapsed))
	return out.Add(out, spot)
}
