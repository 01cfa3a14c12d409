package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/backtest"
	atomicio "github.com/sentigrade/sentigrade/internal/io"
	"github.com/sentigrade/sentigrade/internal/market"
	"github.com/sentigrade/sentigrade/internal/strategy"
)

// Config tunes a simulation batch.
type Config struct {
	Runs    int   `yaml:"runs"`
	Seed    int64 `yaml:"seed"`
	Workers int   `yaml:"workers"`
	Perturb PerturbConfig
	Engine  backtest.Config
}

func DefaultConfig() Config {
	return Config{
		Runs:    200,
		Seed:    1,
		Workers: runtime.NumCPU(),
		Perturb: DefaultPerturbConfig(),
		Engine:  backtest.DefaultConfig(),
	}
}

// Run is the outcome of one perturbed replay. Series is a digest of the
// perturbed history, so a run can be reproduced and checked from its seed
// alone.
type Run struct {
	Index   int              `json:"index"`
	Seed    int64            `json:"seed"`
	Series  string           `json:"series"`
	Metrics backtest.Metrics `json:"metrics"`
}

// Band is a three-point sketch of one metric's distribution.
type Band struct {
	P05 float64 `json:"p05"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
}

// Summary aggregates a whole batch. Probabilities are fractions in [0,1].
type Summary struct {
	Runs             int     `json:"runs"`
	Seed             int64   `json:"seed"`
	ProbPositive     float64 `json:"prob_positive"`
	ProbBreach       float64 `json:"prob_breach"`
	DrawdownLimitPct float64 `json:"drawdown_limit_pct"`

	TotalReturnPct   Band `json:"total_return_pct"`
	CAGRPct          Band `json:"cagr_pct"`
	MaxDrawdownPct   Band `json:"max_drawdown_pct"`
	AnnualizedVolPct Band `json:"annualized_volatility_pct"`
	SharpeRatio      Band `json:"sharpe_ratio"`

	Results []Run `json:"results"`
}

// WriteJSON publishes the summary atomically at path.
func (s *Summary) WriteJSON(path string) error {
	return atomicio.WriteJSONAtomic(path, s)
}

// Simulator fans perturbed replays over a bounded worker pool. Runs share
// nothing but the immutable base history and the engine, so execution
// order never changes the merged outcome.
type Simulator struct {
	config  Config
	engine  *backtest.Engine
	factory strategy.Factory
	logger  zerolog.Logger
}

// NewSimulator validates config and builds the simulator. The factory is
// invoked once per run: pacing state inside strategies must not leak
// across runs.
func NewSimulator(config Config, factory strategy.Factory) (*Simulator, error) {
	if config.Runs < 1 {
		return nil, fmt.Errorf("simulator config: need at least one run, got %d", config.Runs)
	}
	if factory == nil {
		return nil, fmt.Errorf("simulator config: strategy factory is required")
	}
	if err := config.Perturb.validate(); err != nil {
		return nil, fmt.Errorf("simulator config: %w", err)
	}
	if config.Workers < 1 {
		config.Workers = runtime.NumCPU()
	}
	engine, err := backtest.New(config.Engine)
	if err != nil {
		return nil, fmt.Errorf("simulator config: %w", err)
	}
	return &Simulator{
		config:  config,
		engine:  engine,
		factory: factory,
		logger:  log.With().Str("component", "montecarlo").Logger(),
	}, nil
}

// Run executes the whole batch and reduces it to a Summary. Any single
// failed run fails the batch: a partial distribution is worse than none.
func (s *Simulator) Run(ctx context.Context, history market.History) (*Summary, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("montecarlo: empty history")
	}

	workers := s.config.Workers
	if workers > s.config.Runs {
		workers = s.config.Runs
	}
	s.logger.Info().
		Int("runs", s.config.Runs).
		Int("workers", workers).
		Int64("seed", s.config.Seed).
		Msg("Monte Carlo batch starting")

	jobs := make(chan int)
	results := make([]Run, s.config.Runs)
	errs := make([]error, s.config.Runs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				results[index], errs[index] = s.runOne(ctx, index, history)
			}
		}()
	}

	for index := 0; index < s.config.Runs; index++ {
		jobs <- index
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	summary := s.reduce(results)
	s.logger.Info().
		Float64("prob_positive", summary.ProbPositive).
		Float64("prob_breach", summary.ProbBreach).
		Float64("median_return_pct", summary.TotalReturnPct.P50).
		Msg("Monte Carlo batch complete")
	return summary, nil
}

// runOne perturbs and replays with the run's own seed: master seed plus
// run index, so any single run can be reproduced in isolation.
func (s *Simulator) runOne(ctx context.Context, index int, history market.History) (Run, error) {
	select {
	case <-ctx.Done():
		return Run{}, fmt.Errorf("montecarlo run %d: %w", index, ctx.Err())
	default:
	}

	seed := s.config.Seed + int64(index)
	rng := rand.New(rand.NewSource(seed))

	perturbed, err := perturbHistory(rng, history, s.config.Perturb)
	if err != nil {
		return Run{}, fmt.Errorf("montecarlo run %d: %w", index, err)
	}

	strategies, err := s.factory()
	if err != nil {
		return Run{}, fmt.Errorf("montecarlo run %d: %w", index, err)
	}

	result, err := s.engine.Run(ctx, strategies, perturbed)
	if err != nil {
		return Run{}, fmt.Errorf("montecarlo run %d: %w", index, err)
	}

	return Run{
		Index:   index,
		Seed:    seed,
		Series:  historyDigest(perturbed),
		Metrics: result.Metrics,
	}, nil
}

func (s *Simulator) reduce(results []Run) *Summary {
	summary := &Summary{
		Runs:             len(results),
		Seed:             s.config.Seed,
		DrawdownLimitPct: s.config.Engine.Limits.MaxDrawdownPct,
		Results:          results,
	}

	var positive, breached int
	for _, run := range results {
		if run.Metrics.TotalReturnPct > 0 {
			positive++
		}
		if run.Metrics.MaxDrawdownPct > summary.DrawdownLimitPct {
			breached++
		}
	}
	n := float64(len(results))
	summary.ProbPositive = float64(positive) / n
	summary.ProbBreach = float64(breached) / n

	summary.TotalReturnPct = band(results, func(m backtest.Metrics) float64 { return m.TotalReturnPct })
	summary.CAGRPct = band(results, func(m backtest.Metrics) float64 { return m.CAGRPct })
	summary.MaxDrawdownPct = band(results, func(m backtest.Metrics) float64 { return m.MaxDrawdownPct })
	summary.AnnualizedVolPct = band(results, func(m backtest.Metrics) float64 { return m.AnnualizedVolPct })
	summary.SharpeRatio = band(results, func(m backtest.Metrics) float64 { return m.SharpeRatio })
	return summary
}

func band(results []Run, metric func(backtest.Metrics) float64) Band {
	values := make([]float64, len(results))
	for i, run := range results {
		values[i] = metric(run.Metrics)
	}
	sort.Float64s(values)
	return Band{
		P05: percentile(values, 0.05),
		P50: percentile(values, 0.50),
		P95: percentile(values, 0.95),
	}
}

// percentile interpolates linearly between the two nearest order
// statistics. Input must be sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
