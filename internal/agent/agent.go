// Package agent runs the live/paper trading loop: each cycle fetches an
// indicator snapshot, aggregates it, evaluates strategies, gates intents
// through risk and submits the survivors to the exchange collaborator.
// Cycles have a hard wall-clock budget; a cycle that cannot finish inside
// it is abandoned whole. No order is ever submitted from a partial cycle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/exchange"
	"github.com/sentigrade/sentigrade/internal/guard"
	"github.com/sentigrade/sentigrade/internal/market"
	"github.com/sentigrade/sentigrade/internal/portfolio"
	"github.com/sentigrade/sentigrade/internal/risk"
	"github.com/sentigrade/sentigrade/internal/signal"
	"github.com/sentigrade/sentigrade/internal/strategy"
)

// ErrCycleInFlight is returned when a cycle is requested while the
// previous one is still running. One cycle per account at a time.
var ErrCycleInFlight = errors.New("agent: cycle already in flight")

// PriceFunc reports current prices for the requested assets. Missing
// assets may be absent from the map; the agent holds their last mark
// forward.
type PriceFunc func(ctx context.Context, assets []string) (map[string]float64, error)

// Config tunes one agent instance.
type Config struct {
	Account       string        `yaml:"account"`
	Assets        []string      `yaml:"assets"`
	StartingCash  float64       `yaml:"starting_cash"`
	CycleInterval time.Duration `yaml:"cycle_interval"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout"`

	// HistoryBars bounds the rolling per-asset price history strategies
	// see in live mode.
	HistoryBars int `yaml:"history_bars"`

	// CurveLimit bounds the equity-curve tail persisted per checkpoint.
	CurveLimit int `yaml:"curve_limit"`

	// FetchTimeout bounds each indicator source fetch inside a cycle.
	// Zero means the fetcher default.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	Limits     risk.Limits
	Aggregator signal.AggregatorConfig
}

func DefaultConfig() Config {
	return Config{
		Account:       "paper",
		StartingCash:  10000,
		CycleInterval: time.Hour,
		CycleTimeout:  2 * time.Minute,
		HistoryBars:   500,
		CurveLimit:    10080,
		Limits:        risk.DefaultLimits(),
		Aggregator:    signal.DefaultAggregatorConfig(),
	}
}

// Deps are the collaborators an agent orchestrates.
type Deps struct {
	Sources    []signal.Source
	Guards     *guard.Registry
	Exchange   exchange.Exchange
	Prices     PriceFunc
	Strategies []strategy.Strategy
	Store      StateStore       // nil means in-memory only
	Clock      func() time.Time // nil means wall clock
}

// CycleReport is the outcome of one cycle, clean or abandoned.
type CycleReport struct {
	Sequence   int                               `json:"sequence"`
	Account    string                            `json:"account"`
	StartedAt  time.Time                         `json:"started_at"`
	Duration   time.Duration                     `json:"duration"`
	Composites map[string]signal.CompositeResult `json:"composites"`
	Intents    int                               `json:"intents"`
	Approved   int                               `json:"approved"`
	Rejected   int                               `json:"rejected"`
	Resized    int                               `json:"resized"`
	Submitted  int                               `json:"submitted"`
	Failed     int                               `json:"failed"`
	Fills      []portfolio.Fill                  `json:"fills"`
	Equity     float64                           `json:"equity"`
	Cash       float64                           `json:"cash"`
	Err        string                            `json:"error,omitempty"`
}

// Observer is notified after every cycle, abandoned ones included.
// Register observers before Run. Callbacks run on the cycle goroutine and
// must not call back into the Agent.
type Observer interface {
	OnCycle(report CycleReport)
}

// Agent owns one account's trading loop.
type Agent struct {
	config     Config
	fetcher    *signal.Fetcher
	aggregator *signal.Aggregator
	gate       *risk.Manager
	strategies []strategy.Strategy
	exchange   exchange.Exchange
	prices     PriceFunc
	store      StateStore
	clock      func() time.Time
	observers  []Observer
	logger     zerolog.Logger

	cycleMu   sync.Mutex
	cycleSeq  int
	portfolio *portfolio.Portfolio
	marks     map[string]float64
	bars      map[string][]market.Candle
}

// New validates config and dependencies and builds an agent. The portfolio
// is materialized on first use: from the state store's checkpoint when one
// exists, fresh otherwise.
func New(config Config, deps Deps) (*Agent, error) {
	if config.Account == "" {
		return nil, fmt.Errorf("agent config: account is required")
	}
	if len(config.Assets) == 0 {
		return nil, fmt.Errorf("agent config: at least one asset required")
	}
	if config.StartingCash <= 0 {
		return nil, fmt.Errorf("agent config: starting cash must be positive, got %f", config.StartingCash)
	}
	if config.CycleInterval <= 0 || config.CycleTimeout <= 0 {
		return nil, fmt.Errorf("agent config: cycle interval and timeout must be positive")
	}
	if config.HistoryBars < 2 {
		config.HistoryBars = 500
	}
	if deps.Exchange == nil {
		return nil, fmt.Errorf("agent config: exchange is required")
	}
	if deps.Prices == nil {
		return nil, fmt.Errorf("agent config: price source is required")
	}
	if len(deps.Strategies) == 0 {
		return nil, fmt.Errorf("agent config: at least one strategy required")
	}

	aggregator, err := signal.NewAggregator(config.Aggregator)
	if err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}
	gate, err := risk.NewManager(config.Limits)
	if err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}

	guards := deps.Guards
	if guards == nil {
		guards = guard.NewRegistry(guard.DefaultConfig())
	}
	store := deps.Store
	if store == nil {
		store = NewMemoryStore()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Agent{
		config:     config,
		fetcher:    signal.NewFetcher(deps.Sources, guards, config.FetchTimeout),
		aggregator: aggregator,
		gate:       gate,
		strategies: deps.Strategies,
		exchange:   deps.Exchange,
		prices:     deps.Prices,
		store:      store,
		clock:      clock,
		logger:     log.With().Str("component", "agent").Str("account", config.Account).Logger(),
		marks:      make(map[string]float64),
		bars:       make(map[string][]market.Candle),
	}, nil
}

// AddObserver registers an observer. Not safe to call once Run started.
func (a *Agent) AddObserver(observer Observer) {
	a.observers = append(a.observers, observer)
}

// Warm seeds the rolling bar history from pre-fetched candles so
// history-hungry strategies act from the first cycle instead of waiting
// for bars to accumulate. Assets without a series start cold. Call before
// Run; the latest close also becomes the asset's initial mark.
func (a *Agent) Warm(history market.History) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	for _, asset := range a.config.Assets {
		series, ok := history[asset]
		if !ok || series.Len() == 0 {
			continue
		}
		candles := series.Candles
		if len(candles) > a.config.HistoryBars {
			candles = candles[len(candles)-a.config.HistoryBars:]
		}
		bars := make([]market.Candle, len(candles))
		copy(bars, candles)
		a.bars[asset] = bars
		a.marks[asset] = bars[len(bars)-1].Close
		a.logger.Debug().
			Str("asset", asset).
			Int("bars", len(bars)).
			Time("through", bars[len(bars)-1].Timestamp).
			Msg("Warmed bar history")
	}
}

// Portfolio returns a deep copy of the current portfolio state.
func (a *Agent) Portfolio() *portfolio.Portfolio {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	if a.portfolio == nil {
		return nil
	}
	return a.portfolio.Clone()
}

// Run drives cycles at the configured interval until ctx is done. A failed
// or abandoned cycle is logged and retried at the next tick, never fatal.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info().
		Strs("assets", a.config.Assets).
		Dur("interval", a.config.CycleInterval).
		Dur("timeout", a.config.CycleTimeout).
		Msg("Agent starting")

	ticker := time.NewTicker(a.config.CycleInterval)
	defer ticker.Stop()

	for {
		if _, err := a.RunCycle(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn().Err(err).Msg("Cycle abandoned, retrying next tick")
		}
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Agent stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle executes exactly one cycle under the configured hard timeout.
// The returned report is also delivered to observers.
func (a *Agent) RunCycle(ctx context.Context) (CycleReport, error) {
	if !a.cycleMu.TryLock() {
		return CycleReport{}, ErrCycleInFlight
	}
	defer a.cycleMu.Unlock()

	if err := a.ensurePortfolio(ctx); err != nil {
		return CycleReport{}, err
	}

	started := a.clock()
	cctx, cancel := context.WithTimeout(ctx, a.config.CycleTimeout)
	defer cancel()

	a.cycleSeq++
	report := CycleReport{
		Sequence:   a.cycleSeq,
		Account:    a.config.Account,
		StartedAt:  started,
		Composites: make(map[string]signal.CompositeResult, len(a.config.Assets)),
	}

	prices, err := a.prices(cctx, a.config.Assets)
	if err != nil {
		return a.abandon(report, started, fmt.Errorf("price source: %w", err))
	}
	a.observe(prices, started)

	// Fan out indicator fetches per asset; a slow or failed source shows
	// up as an unavailable signal, not as a cycle failure.
	for _, asset := range a.config.Assets {
		signals := a.fetcher.Snapshot(cctx, asset)
		report.Composites[asset] = a.aggregator.Aggregate(asset, signals, started)
	}
	if cctx.Err() != nil {
		return a.abandon(report, started, fmt.Errorf("snapshot phase: %w", cctx.Err()))
	}

	var intents []strategy.Intent
	for _, asset := range a.config.Assets {
		evalCtx := strategy.EvalContext{
			Asset:     asset,
			Composite: report.Composites[asset],
			Market:    a.view(asset, started),
			Marks:     a.marks,
			Portfolio: a.portfolio,
			Now:       started,
		}
		for _, strat := range a.strategies {
			intents = append(intents, strat.Evaluate(evalCtx)...)
		}
	}
	report.Intents = len(intents)

	decisions := a.gate.Approve(intents, a.portfolio, a.marks, started)
	for _, decision := range decisions {
		if !decision.Approved {
			report.Rejected++
			continue
		}
		report.Approved++
		if decision.Resized {
			report.Resized++
		}
		if cctx.Err() != nil {
			return a.abandon(report, started, fmt.Errorf("submission phase: %w", cctx.Err()))
		}
		a.submit(cctx, decision, &report)
	}

	a.portfolio.MarkToMarket(a.marks, started)
	report.Equity = a.portfolio.Equity(a.marks)
	report.Cash = a.portfolio.Cash
	report.Duration = a.clock().Sub(started)

	if err := a.store.Save(cctx, stateFromPortfolio(a.portfolio, a.config.CurveLimit, started)); err != nil {
		a.logger.Error().Err(err).Msg("Checkpoint failed")
	}

	a.logger.Info().
		Int("cycle", report.Sequence).
		Int("intents", report.Intents).
		Int("approved", report.Approved).
		Int("submitted", report.Submitted).
		Int("failed", report.Failed).
		Float64("equity", report.Equity).
		Dur("took", report.Duration).
		Msg("Cycle complete")

	a.notify(report)
	return report, nil
}

// submit sends one approved decision to the exchange and reconciles the
// reported fill into the portfolio. Exchange errors are logged and left
// for the next cycle to retry; they never abort the cycle.
func (a *Agent) submit(ctx context.Context, decision risk.Decision, report *CycleReport) {
	intent := decision.Intent
	fill, err := a.exchange.SubmitOrder(ctx, intent.Asset, intent.Side, decision.Quantity)
	if err != nil {
		report.Failed++
		a.logger.Warn().Err(err).
			Str("asset", intent.Asset).
			Str("side", string(intent.Side)).
			Float64("quantity", decision.Quantity).
			Msg("Order submission failed, will retry next cycle")
		return
	}

	realized, err := a.portfolio.ApplyFill(fill)
	if err != nil {
		// The exchange filled something the portfolio cannot absorb; keep
		// the books untouched and surface it loudly.
		report.Failed++
		a.logger.Error().Err(err).
			Str("asset", fill.Asset).
			Float64("quantity", fill.Quantity).
			Msg("Reported fill could not be applied")
		return
	}

	report.Submitted++
	report.Fills = append(report.Fills, fill)
	a.logger.Info().
		Str("asset", fill.Asset).
		Str("side", string(fill.Side)).
		Float64("quantity", fill.Quantity).
		Float64("price", fill.Price).
		Float64("realized_pnl", realized).
		Str("strategy", intent.Strategy).
		Msg("Fill applied")
}

// observe folds fresh prices into the marks and extends each asset's
// rolling bar history. Non-positive prices are ignored.
func (a *Agent) observe(prices map[string]float64, at time.Time) {
	for _, asset := range a.config.Assets {
		price, ok := prices[asset]
		if !ok || price <= 0 {
			continue
		}
		a.marks[asset] = price

		bars := a.bars[asset]
		if n := len(bars); n > 0 && !at.After(bars[n-1].Timestamp) {
			continue // clock went backwards, keep the existing bar
		}
		bars = append(bars, market.Candle{
			Timestamp: at,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
		})
		if len(bars) > a.config.HistoryBars {
			bars = bars[len(bars)-a.config.HistoryBars:]
		}
		a.bars[asset] = bars
	}
}

// view exposes the rolling observed history as the same read-only window
// backtests use, so strategies behave identically in both modes.
func (a *Agent) view(asset string, at time.Time) *market.View {
	series := &market.Series{Asset: asset, Candles: a.bars[asset]}
	return series.ViewAt(at)
}

func (a *Agent) abandon(report CycleReport, started time.Time, err error) (CycleReport, error) {
	report.Err = err.Error()
	report.Duration = a.clock().Sub(started)
	a.logger.Warn().Err(err).
		Int("cycle", report.Sequence).
		Dur("took", report.Duration).
		Msg("Cycle abandoned, no orders submitted")
	a.notify(report)
	return report, err
}

func (a *Agent) notify(report CycleReport) {
	for _, observer := range a.observers {
		observer.OnCycle(report)
	}
}

func (a *Agent) ensurePortfolio(ctx context.Context) error {
	if a.portfolio != nil {
		return nil
	}

	state, found, err := a.store.Load(ctx, a.config.Account)
	if err != nil {
		return fmt.Errorf("agent: load checkpoint: %w", err)
	}
	if found {
		p, err := state.restore()
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		a.portfolio = p
		a.logger.Info().
			Float64("cash", p.Cash).
			Int("positions", len(p.Positions)).
			Int("curve_points", len(p.EquityCurve)).
			Time("checkpointed_at", state.UpdatedAt).
			Msg("Resumed portfolio from checkpoint")
		return nil
	}

	p, err := portfolio.New(a.config.Account, a.config.StartingCash)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	a.portfolio = p
	a.logger.Info().Float64("cash", p.Cash).Msg("Starting fresh portfolio")
	return nil
}
