package backtest

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentigrade/sentigrade/internal/exchange"
	"github.com/sentigrade/sentigrade/internal/market"
	"github.com/sentigrade/sentigrade/internal/portfolio"
	"github.com/sentigrade/sentigrade/internal/risk"
	"github.com/sentigrade/sentigrade/internal/signal"
	"github.com/sentigrade/sentigrade/internal/strategy"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dailySeries(t *testing.T, asset string, start time.Time, closes []float64) *market.Series {
	t.Helper()
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		candles[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1000,
		}
	}
	series, err := market.NewSeries(asset, candles)
	require.NoError(t, err)
	return series
}

func flatCloses(n int, price float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return closes
}

func wiggleCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 8*math.Sin(float64(i)/3)
	}
	return closes
}

// permissiveLimits turns every risk dial to its loosest legal setting so
// tests isolate engine mechanics from gating.
func permissiveLimits() risk.Limits {
	return risk.Limits{
		MaxPositionSizePct:  100,
		MaxPortfolioRiskPct: 100,
		WorstCaseMovePct:    1,
		MaxDailyLossPct:     100,
		MaxDrawdownPct:      100,
		MinCashReservePct:   0,
	}
}

// steadySignals pins the composite at zero so tier selection is NEUTRAL on
// every step.
func steadySignals(asset string, view *market.View) []signal.Signal {
	return []signal.Signal{
		signal.Available("steady", signal.CategoryMomentum, 0, 0, 1.0, view.Cutoff()),
	}
}

// idle never trades.
type idle struct{}

func (idle) Name() string { return "idle" }

func (idle) Evaluate(strategy.EvalContext) []strategy.Intent { return nil }

// fixedBuyer requests the same buy on every step.
type fixedBuyer struct {
	asset    string
	quantity float64
}

func (f *fixedBuyer) Name() string { return "fixed_buyer" }

func (f *fixedBuyer) Evaluate(ctx strategy.EvalContext) []strategy.Intent {
	if ctx.Asset != f.asset {
		return nil
	}
	return []strategy.Intent{{
		Asset:      f.asset,
		Side:       portfolio.SideBuy,
		Quantity:   f.quantity,
		Rationale:  "fixed size",
		Confidence: 1,
		Strategy:   f.Name(),
	}}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	config := DefaultConfig()
	config.StartingCapital = 0
	_, err := New(config)
	require.Error(t, err)

	config = DefaultConfig()
	config.Costs.FeeBps = 5000
	_, err = New(config)
	require.Error(t, err)

	config = DefaultConfig()
	config.Aggregator.CategoryWeights = map[signal.Category]float64{signal.CategoryMomentum: -1}
	_, err = New(config)
	require.Error(t, err)
}

func TestEngine_Run_InputValidation(t *testing.T) {
	engine, err := New(DefaultConfig())
	require.NoError(t, err)

	history := market.History{"BTC": dailySeries(t, "BTC", testStart, flatCloses(5, 100))}

	_, err = engine.Run(context.Background(), nil, history)
	assert.ErrorContains(t, err, "strategy")

	_, err = engine.Run(context.Background(), []strategy.Strategy{idle{}}, market.History{})
	assert.ErrorContains(t, err, "empty history")
}

func TestEngine_Run_Cancelled(t *testing.T) {
	engine, err := New(DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	history := market.History{"BTC": dailySeries(t, "BTC", testStart, flatCloses(5, 100))}
	_, err = engine.Run(ctx, []strategy.Strategy{idle{}}, history)
	assert.ErrorContains(t, err, "cancelled")
}

// Thirty NEUTRAL days of daily DCA at $100 with no frictions: thirty
// one-unit buys, $7k cash left, equity unmoved.
func TestEngine_Run_DailyAccumulationFlatMarket(t *testing.T) {
	config := DefaultConfig()
	config.Costs = exchange.CostModel{}
	config.Limits = permissiveLimits()
	config.Signals = steadySignals
	engine, err := New(config)
	require.NoError(t, err)

	dca, err := strategy.New("dca", strategy.DefaultParams())
	require.NoError(t, err)

	history := market.History{"BTC": dailySeries(t, "BTC", testStart, flatCloses(30, 100))}
	result, err := engine.Run(context.Background(), []strategy.Strategy{dca}, history)
	require.NoError(t, err)

	require.Len(t, result.Trades, 30)
	for _, trade := range result.Trades {
		assert.Equal(t, portfolio.SideBuy, trade.Side)
		assert.InDelta(t, 100.0, trade.Notional, 1e-9)
		assert.Zero(t, trade.Fee)
		assert.False(t, trade.Resized)
	}

	assert.InDelta(t, 7000.0, result.FinalCash, 1e-9)
	require.Len(t, result.FinalPositions, 1)
	assert.Equal(t, "BTC", result.FinalPositions[0].Asset)
	assert.InDelta(t, 30.0, result.FinalPositions[0].Quantity, 1e-9)
	assert.InDelta(t, 10000.0, result.FinalEquity, 1e-9)

	require.Len(t, result.EquityCurve, 30)
	for _, point := range result.EquityCurve {
		assert.InDelta(t, 10000.0, point.Equity, 1e-9)
	}
	assert.Zero(t, result.Metrics.TotalReturnPct)
	assert.Zero(t, result.Metrics.MaxDrawdownPct)
	assert.Equal(t, 30, result.Metrics.TradeCount)
	assert.Equal(t, 0, result.Metrics.ClosedTradeCount)
}

// Identical inputs must serialize to identical bytes, run IDs included.
func TestEngine_Run_Deterministic(t *testing.T) {
	history := market.History{
		"BTC": dailySeries(t, "BTC", testStart, wiggleCloses(60)),
		"ETH": dailySeries(t, "ETH", testStart, wiggleCloses(60)),
	}

	run := func() []byte {
		engine, err := New(DefaultConfig())
		require.NoError(t, err)
		strategies, err := strategy.Build([]string{"dca", "swing", "grid"}, strategy.DefaultParams())
		require.NoError(t, err)
		result, err := engine.Run(context.Background(), strategies, history)
		require.NoError(t, err)
		data, err := json.Marshal(result)
		require.NoError(t, err)
		return data
	}

	first := run()
	second := run()
	assert.Equal(t, string(first), string(second))
}

func TestEngine_Run_RunIDStable(t *testing.T) {
	history := market.History{"BTC": dailySeries(t, "BTC", testStart, flatCloses(10, 100))}

	run := func() *Result {
		engine, err := New(DefaultConfig())
		require.NoError(t, err)
		result, err := engine.Run(context.Background(), []strategy.Strategy{idle{}}, history)
		require.NoError(t, err)
		return result
	}

	first := run()
	second := run()
	assert.Equal(t, first.RunID, second.RunID)
	_, err := uuid.Parse(first.RunID)
	assert.NoError(t, err)

	seen := make(map[string]bool)
	for _, trade := range first.Trades {
		assert.False(t, seen[trade.ID], "duplicate trade id %s", trade.ID)
		seen[trade.ID] = true
	}
}

// Appending future bars, including an extreme outlier, must not change
// anything already decided: the replayed prefix stays identical.
func TestEngine_Run_FutureBarsDoNotAffectPast(t *testing.T) {
	closes := wiggleCloses(40)
	closes[31] = 100000 // outlier the shorter replay never sees

	run := func(closes []float64) *Result {
		engine, err := New(DefaultConfig())
		require.NoError(t, err)
		strategies, err := strategy.Build([]string{"dca", "swing", "mean_reversion"}, strategy.DefaultParams())
		require.NoError(t, err)
		history := market.History{"BTC": dailySeries(t, "BTC", testStart, closes)}
		result, err := engine.Run(context.Background(), strategies, history)
		require.NoError(t, err)
		return result
	}

	short := run(closes[:31])
	full := run(closes)

	require.Len(t, short.EquityCurve, 31)
	for i, point := range short.EquityCurve {
		assert.Equal(t, point.Equity, full.EquityCurve[i].Equity, "equity diverged at step %d", i)
		assert.Equal(t, point.Cash, full.EquityCurve[i].Cash, "cash diverged at step %d", i)
	}

	var fullPrefix []Trade
	for _, trade := range full.Trades {
		if trade.Step <= 30 {
			fullPrefix = append(fullPrefix, trade)
		}
	}
	require.Equal(t, len(short.Trades), len(fullPrefix))
	for i, trade := range short.Trades {
		assert.Equal(t, trade.Step, fullPrefix[i].Step)
		assert.Equal(t, trade.Asset, fullPrefix[i].Asset)
		assert.Equal(t, trade.Side, fullPrefix[i].Side)
		assert.Equal(t, trade.Quantity, fullPrefix[i].Quantity)
		assert.Equal(t, trade.Price, fullPrefix[i].Price)
	}
}

// Fees come out of the same cash the notional does: a buy sized to the
// whole balance is trimmed so notional plus fee still clears.
func TestEngine_Run_BuyClampedToAffordableWithFee(t *testing.T) {
	config := DefaultConfig()
	config.StartingCapital = 100
	config.Costs = exchange.CostModel{FeeBps: 100} // 1%, no slippage
	config.Limits = permissiveLimits()
	config.Signals = steadySignals
	engine, err := New(config)
	require.NoError(t, err)

	buyer := &fixedBuyer{asset: "BTC", quantity: 1}
	history := market.History{"BTC": dailySeries(t, "BTC", testStart, flatCloses(1, 100))}
	result, err := engine.Run(context.Background(), []strategy.Strategy{buyer}, history)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.InDelta(t, 100.0/101.0, result.Trades[0].Quantity, 1e-9)
	assert.InDelta(t, 0, result.FinalCash, 1e-9)
	assert.GreaterOrEqual(t, result.FinalCash, -1e-9)
	// Equity ends down by exactly the fee.
	assert.InDelta(t, -100.0/101.0, result.FinalEquity-100, 1e-9)
}

// Benchmark is equal-weight buy-and-hold; an idle portfolio's alpha is the
// negative of the market's move.
func TestEngine_Run_BenchmarkAndAlpha(t *testing.T) {
	closes := make([]float64, 21)
	for i := range closes {
		closes[i] = 100 + 5*float64(i) // 100 -> 200
	}

	config := DefaultConfig()
	config.Signals = steadySignals
	engine, err := New(config)
	require.NoError(t, err)

	history := market.History{"BTC": dailySeries(t, "BTC", testStart, closes)}
	result, err := engine.Run(context.Background(), []strategy.Strategy{idle{}}, history)
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.InDelta(t, 100.0, result.Metrics.BenchmarkReturnPct, 1e-9)
	assert.Zero(t, result.Metrics.TotalReturnPct)
	assert.InDelta(t, -100.0, result.Metrics.AlphaPct, 1e-9)
}

// Assets joining the union clock late trade only once listed.
func TestEngine_Run_StaggeredListings(t *testing.T) {
	config := DefaultConfig()
	config.Costs = exchange.CostModel{}
	config.Limits = permissiveLimits()
	config.Signals = steadySignals
	engine, err := New(config)
	require.NoError(t, err)

	dca, err := strategy.New("dca", strategy.DefaultParams())
	require.NoError(t, err)

	ethStart := testStart.Add(10 * 24 * time.Hour)
	history := market.History{
		"BTC": dailySeries(t, "BTC", testStart, flatCloses(20, 100)),
		"ETH": dailySeries(t, "ETH", ethStart, flatCloses(10, 50)),
	}
	result, err := engine.Run(context.Background(), []strategy.Strategy{dca}, history)
	require.NoError(t, err)

	var ethTrades int
	for _, trade := range result.Trades {
		if trade.Asset == "ETH" {
			ethTrades++
			assert.GreaterOrEqual(t, trade.Step, 10)
		}
	}
	assert.Equal(t, 10, ethTrades)
	assert.Equal(t, 20, result.Steps)
}

func TestLookAheadError_Message(t *testing.T) {
	err := &LookAheadError{
		Step:     7,
		Asset:    "BTC",
		StepTime: testStart,
		DataTime: testStart.Add(time.Hour),
	}
	assert.Contains(t, err.Error(), "step 7")
	assert.Contains(t, err.Error(), "BTC")
	assert.Contains(t, err.Error(), "look-ahead")
}
