package nhboraclefeedd

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"oraclechain/native/oracle"
	"oraclechain/native/swap"
)

// fixedPointScale converts a swap.PriceQuote's *big.Rat rate into the
// integer oracle.Value the on-chain core accepts. native/oracle's own
// non-goals forbid floating point inside the core; this conversion happens
// entirely outside it, in the off-chain reporter, the same boundary
// SPEC_FULL.md draws around cmd/nhboraclefeedd.
const fixedPointScale = 1_000_000_000_000_000_000

// rpcClient is the minimal JSON-RPC surface the feeder depends on.
type rpcClient interface {
	Call(ctx context.Context, method string, params any, result any) error
}

// Feeder polls native/swap's off-chain aggregator and submits signed-in
// push calls against the on-chain oracle core for every configured pair.
type Feeder struct {
	aggregator *swap.OracleAggregator
	rpc        rpcClient
	source     string
	pairs      []PairFeed
}

// NewFeeder wires a CoinGecko-backed aggregator per cfg and binds it to rpc.
func NewFeeder(cfg Config, rpc rpcClient, httpClient swap.HTTPDoer) *Feeder {
	agg := swap.NewOracleAggregator(cfg.OraclePriority, cfg.QuoteMaxAge())
	if cfg.CoinGecko.Endpoint != "" {
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		agg.Register("coingecko", swap.NewCoinGeckoOracle(httpClient, cfg.CoinGecko.Endpoint, cfg.CoinGecko.IDs))
	}
	return &Feeder{aggregator: agg, rpc: rpc, source: cfg.Source, pairs: cfg.Pairs}
}

// PollAndPushAll fetches a fresh rate for every configured pair and submits
// it as a single-observation push. It returns the number of pairs pushed
// successfully; a per-pair failure is logged by the caller, not fatal to
// the remaining pairs.
func (f *Feeder) PollAndPushAll(ctx context.Context) (int, []error) {
	pushed := 0
	var errs []error
	for _, pair := range f.pairs {
		if err := f.pollAndPush(ctx, pair); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", pair.Base, pair.Quote, err))
			continue
		}
		pushed++
	}
	return pushed, errs
}

func (f *Feeder) pollAndPush(ctx context.Context, pair PairFeed) error {
	quote, err := f.aggregator.GetRate(pair.Base, pair.Quote)
	if err != nil {
		return fmt.Errorf("fetch rate: %w", err)
	}
	value, err := ratToValue(quote.Rate, fixedPointScale)
	if err != nil {
		return fmt.Errorf("convert rate: %w", err)
	}
	var params [1]map[string]any
	params[0] = map[string]any{
		"oracleId":     pair.OracleID,
		"source":       f.source,
		"observations": []string{value.String()},
	}
	return f.rpc.Call(ctx, "oracle_push", params[:], nil)
}

// ratToValue renders a non-negative rate as a fixed-point oracle.Value
// scaled by scale, truncating any remainder below the scale's precision.
func ratToValue(rate *big.Rat, scale int64) (oracle.Value, error) {
	if rate == nil || rate.Sign() < 0 {
		return oracle.Value{}, fmt.Errorf("rate must be non-negative")
	}
	scaled := new(big.Rat).Mul(rate, new(big.Rat).SetInt64(scale))
	whole := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	return oracle.ValueFromBig(whole.Bytes())
}
