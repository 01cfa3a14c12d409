// Package backtest replays historical price series through the full
// signal-strategy-risk pipeline with simulated fills, producing an equity
// curve, a trade ledger and a metric set. The replay is strictly
// time-ordered: nothing evaluated at step t can see data stamped after t,
// and a breach of that invariant aborts the run instead of producing a
// quietly wrong result.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/exchange"
	"github.com/sentigrade/sentigrade/internal/market"
	"github.com/sentigrade/sentigrade/internal/portfolio"
	"github.com/sentigrade/sentigrade/internal/risk"
	"github.com/sentigrade/sentigrade/internal/signal"
	"github.com/sentigrade/sentigrade/internal/strategy"
)

// minFillNotional matches the risk gate's dust threshold: an affordability
// clamp that lands under it produces no fill at all.
const minFillNotional = 0.01

// LookAheadError reports a fatal replay invariant breach: data stamped
// after the step instant became visible to the step. It names the exact
// step so the defect can be found, and it is never recovered from.
type LookAheadError struct {
	Step     int
	Asset    string
	StepTime time.Time
	DataTime time.Time
}

func (e *LookAheadError) Error() string {
	return fmt.Sprintf("look-ahead violation at step %d: %s data stamped %s visible at %s",
		e.Step, e.Asset, e.DataTime.Format(time.RFC3339), e.StepTime.Format(time.RFC3339))
}

// SignalFunc derives the indicator snapshot a step sees for one asset. The
// view is already clamped to the step instant. Nil engines fall back to the
// price-derived Replayer.
type SignalFunc func(asset string, view *market.View) []signal.Signal

// Config bundles everything a run needs besides the strategies and series.
type Config struct {
	StartingCapital float64
	Account         string
	Costs           exchange.CostModel
	Limits          risk.Limits
	Aggregator      signal.AggregatorConfig
	Replayer        signal.ReplayerConfig
	RiskFreeRate    float64 // annual fraction for Sharpe/Sortino
	VaRConfidence   float64
	Signals         SignalFunc // nil means price-derived
}

func DefaultConfig() Config {
	return Config{
		StartingCapital: 10000,
		Account:         "backtest",
		Costs:           exchange.DefaultCostModel(),
		Limits:          risk.DefaultLimits(),
		Aggregator:      signal.DefaultAggregatorConfig(),
		Replayer:        signal.DefaultReplayerConfig(),
		VaRConfidence:   0.95,
	}
}

// Engine replays one or more strategies over a history. It is stateless
// across runs; all run state lives on the stack of Run.
type Engine struct {
	config     Config
	aggregator *signal.Aggregator
	gate       *risk.Manager
	signals    SignalFunc
	logger     zerolog.Logger
}

// New validates the config and builds an engine. Configuration errors
// surface here, before any replay starts.
func New(config Config) (*Engine, error) {
	if config.StartingCapital <= 0 {
		return nil, fmt.Errorf("backtest config: starting capital must be positive, got %f", config.StartingCapital)
	}
	if err := config.Costs.Validate(); err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}
	if config.Account == "" {
		config.Account = "backtest"
	}
	if config.VaRConfidence <= 0 || config.VaRConfidence >= 1 {
		config.VaRConfidence = 0.95
	}

	aggregator, err := signal.NewAggregator(config.Aggregator)
	if err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}
	gate, err := risk.NewManager(config.Limits)
	if err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}

	signals := config.Signals
	if signals == nil {
		replayer := signal.NewReplayer(config.Replayer)
		signals = func(asset string, view *market.View) []signal.Signal {
			return replayer.Snapshot(view)
		}
	}

	return &Engine{
		config:     config,
		aggregator: aggregator,
		gate:       gate,
		signals:    signals,
		logger:     log.With().Str("component", "backtest").Logger(),
	}, nil
}

// Run replays history through the strategies, strictly oldest timestamp
// first. Per step: aggregate signals visible at the step, evaluate
// strategies against the prior step's portfolio, gate through risk,
// simulate fills under the cost model, apply them, mark equity. The
// returned Result is frozen; errors mean the run is invalid, never
// partial.
func (e *Engine) Run(ctx context.Context, strategies []strategy.Strategy, history market.History) (*Result, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("backtest: at least one strategy required")
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("backtest: empty history")
	}

	assets := history.Assets()
	clock := history.UnionTimestamps()
	if len(clock) == 0 {
		return nil, fmt.Errorf("backtest: history has no candles")
	}

	p, err := portfolio.New(e.config.Account, e.config.StartingCapital)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	strategyNames := make([]string, len(strategies))
	for i, s := range strategies {
		strategyNames[i] = s.Name()
	}
	runID := newRunID(e.fingerprint(assets, strategyNames, history, clock))
	bench := newBenchmark(e.config.StartingCapital, len(assets))

	e.logger.Info().
		Str("run_id", runID).
		Strs("assets", assets).
		Strs("strategies", strategyNames).
		Int("steps", len(clock)).
		Time("start", clock[0]).
		Time("end", clock[len(clock)-1]).
		Msg("Backtest starting")

	var trades []Trade
	for step, t := range clock {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("backtest cancelled at step %d: %w", step, ctx.Err())
		default:
		}

		// Clamp every series to the step instant and derive marks by
		// holding the last visible close forward over gaps.
		views := make(map[string]*market.View, len(assets))
		marks := make(map[string]float64, len(assets))
		for _, asset := range assets {
			view := history[asset].ViewAt(t)
			if last, ok := view.Last(); ok {
				if last.Timestamp.After(t) {
					return nil, &LookAheadError{Step: step, Asset: asset, StepTime: t, DataTime: last.Timestamp}
				}
				marks[asset] = last.Close
			}
			views[asset] = view
		}
		bench.observe(marks)

		var intents []strategy.Intent
		for _, asset := range assets {
			view := views[asset]
			if view.Len() == 0 {
				continue // not listed yet at this instant
			}
			composite := e.aggregator.Aggregate(asset, e.signals(asset, view), t)
			evalCtx := strategy.EvalContext{
				Asset:     asset,
				Composite: composite,
				Market:    view,
				Marks:     marks,
				Portfolio: p,
				Now:       t,
			}
			for _, strat := range strategies {
				intents = append(intents, strat.Evaluate(evalCtx)...)
			}
		}

		decisions := e.gate.Approve(intents, p, marks, t)
		for _, decision := range decisions {
			if !decision.Approved {
				continue
			}
			fill, ok := e.buildFill(decision, marks[decision.Intent.Asset], p.Cash, t)
			if !ok {
				continue
			}
			realized, err := p.ApplyFill(fill)
			if err != nil {
				// The gate approved something the portfolio cannot absorb;
				// that is an engine defect, not a market condition.
				return nil, fmt.Errorf("backtest internal error at step %d: %w", step, err)
			}
			trades = append(trades, Trade{
				ID:          newTradeID(runID, step, len(trades)),
				Step:        step,
				Timestamp:   t,
				Asset:       fill.Asset,
				Side:        fill.Side,
				Quantity:    fill.Quantity,
				Price:       fill.Price,
				Notional:    fill.Notional(),
				Fee:         fill.Fee,
				RealizedPnL: realized,
				Strategy:    decision.Intent.Strategy,
				Rationale:   decision.Intent.Rationale,
				Resized:     decision.Resized,
			})
		}

		p.MarkToMarket(marks, t)
	}

	result := e.freeze(runID, assets, strategyNames, clock, p, trades, bench)
	e.logger.Info().
		Str("run_id", runID).
		Float64("final_equity", result.FinalEquity).
		Float64("total_return_pct", result.Metrics.TotalReturnPct).
		Float64("max_drawdown_pct", result.Metrics.MaxDrawdownPct).
		Int("trades", len(result.Trades)).
		Msg("Backtest complete")
	return result, nil
}

// buildFill turns an approved decision into a simulated fill. Buys are
// clamped so notional plus fee never overdraws cash; the risk gate sizes
// against notional and does not know the fee schedule.
func (e *Engine) buildFill(decision risk.Decision, refPrice, cash float64, t time.Time) (portfolio.Fill, bool) {
	quantity := decision.Quantity
	if decision.Intent.Side == portfolio.SideBuy {
		exec := e.config.Costs.ExecPrice(refPrice, portfolio.SideBuy)
		if maxQuantity := cash / (exec * (1 + e.config.Costs.FeeBps/10000)); quantity > maxQuantity {
			quantity = maxQuantity
		}
	}
	if quantity <= 0 || quantity*refPrice < minFillNotional {
		return portfolio.Fill{}, false
	}
	return e.config.Costs.Fill(decision.Intent.Asset, decision.Intent.Side, quantity, refPrice, t), true
}

func (e *Engine) freeze(runID string, assets, strategyNames []string, clock []time.Time, p *portfolio.Portfolio, trades []Trade, bench *benchmark) *Result {
	finalMarks := bench.lastMarks
	positions := make([]portfolio.Position, 0, len(p.Positions))
	for _, asset := range p.Assets() {
		positions = append(positions, p.Position(asset))
	}
	if trades == nil {
		trades = []Trade{}
	}

	metrics := computeMetrics(metricsInput{
		Curve:              p.EquityCurve,
		Trades:             trades,
		BenchmarkReturnPct: bench.returnPct(),
		RiskFreeRate:       e.config.RiskFreeRate,
		VaRConfidence:      e.config.VaRConfidence,
	})

	return &Result{
		RunID:           runID,
		Account:         p.Account,
		Start:           clock[0],
		End:             clock[len(clock)-1],
		Steps:           len(clock),
		Assets:          assets,
		Strategies:      strategyNames,
		StartingCapital: e.config.StartingCapital,
		FinalEquity:     p.Equity(finalMarks),
		FinalCash:       p.Cash,
		FinalPositions:  positions,
		Trades:          trades,
		EquityCurve:     p.EquityCurve,
		Metrics:         metrics,
	}
}

// fingerprint pins the run identity to its inputs: series identity and
// bounds, strategy set, capital and frictions.
func (e *Engine) fingerprint(assets, strategyNames []string, history market.History, clock []time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "capital=%.8f;fee=%.4f;slip=%.4f;", e.config.StartingCapital, e.config.Costs.FeeBps, e.config.Costs.SlippageBps)
	fmt.Fprintf(&b, "strategies=%s;", strings.Join(strategyNames, ","))
	fmt.Fprintf(&b, "window=%d:%d:%d;", clock[0].UnixNano(), clock[len(clock)-1].UnixNano(), len(clock))
	for _, asset := range assets {
		series := history[asset]
		fmt.Fprintf(&b, "%s=%d:%d:%d;", asset, series.Len(), series.Start().UnixNano(), series.End().UnixNano())
	}
	return b.String()
}

// benchmark tracks an equal-weight buy-and-hold of the run's assets over
// the identical window, the baseline alpha is measured against. Each
// asset's share is bought at its first visible price; assets that never
// price stay in cash.
type benchmark struct {
	capital   float64
	perAsset  float64
	idleCash  float64
	units     map[string]float64
	lastMarks map[string]float64
}

func newBenchmark(capital float64, numAssets int) *benchmark {
	perAsset := 0.0
	if numAssets > 0 {
		perAsset = capital / float64(numAssets)
	}
	return &benchmark{
		capital:  capital,
		perAsset: perAsset,
		idleCash: capital,
		units:    make(map[string]float64),
	}
}

func (b *benchmark) observe(marks map[string]float64) {
	for asset, price := range marks {
		if _, held := b.units[asset]; !held && price > 0 {
			b.units[asset] = b.perAsset / price
			b.idleCash -= b.perAsset
		}
	}
	b.lastMarks = marks
}

func (b *benchmark) finalValue() float64 {
	value := b.idleCash
	assets := make([]string, 0, len(b.units))
	for asset := range b.units {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		value += b.units[asset] * b.lastMarks[asset]
	}
	return value
}

func (b *benchmark) returnPct() float64 {
	if b.capital <= 0 || len(b.units) == 0 {
		return 0
	}
	return (b.finalValue() - b.capital) / b.capital * 100
}
