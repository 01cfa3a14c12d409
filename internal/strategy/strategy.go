// Package strategy converts composite scores and market state into trade
// intents. Each variant implements the single-method Strategy interface;
// variants run independently and never resolve conflicts between their
// intents. Sizing them down or rejecting them is the risk manager's job.
package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/sentigrade/sentigrade/internal/market"
	"github.com/sentigrade/sentigrade/internal/portfolio"
	"github.com/sentigrade/sentigrade/internal/signal"
)

// Intent is one proposed trade. Quantity is in asset units, already priced
// off the evaluation view; it is a proposal, not an order, until the risk
// manager approves it.
type Intent struct {
	Asset      string         `json:"asset"`
	Side       portfolio.Side `json:"side"`
	Quantity   float64        `json:"quantity"`
	Rationale  string         `json:"rationale"`
	Confidence float64        `json:"confidence"` // 0..1
	Strategy   string         `json:"strategy"`
}

// EvalContext is the complete, already-collected state one evaluation sees.
// Market is clamped to the evaluation instant; Marks hold the last known
// price per asset. Strategies read the portfolio, never mutate it.
type EvalContext struct {
	Asset     string
	Composite signal.CompositeResult
	Market    *market.View
	Marks     map[string]float64
	Portfolio *portfolio.Portfolio
	Now       time.Time
}

// Strategy is one trading policy. Evaluate is a pure function of its
// context except for the strategy's own pacing state (DCA cadence, grid
// rungs), which is why each backtest or simulation run gets fresh
// instances.
type Strategy interface {
	Name() string
	Evaluate(ctx EvalContext) []Intent
}

// Params bundles every variant's config so strategies can be built by name
// from one config section.
type Params struct {
	DCA           DCAConfig           `yaml:"dca"`
	Swing         SwingConfig         `yaml:"swing"`
	MeanReversion MeanReversionConfig `yaml:"mean_reversion"`
	Grid          GridConfig          `yaml:"grid"`
	Rebalance     RebalanceConfig     `yaml:"rebalance"`
}

// DefaultParams returns working defaults for every variant.
func DefaultParams() Params {
	return Params{
		DCA:           DefaultDCAConfig(),
		Swing:         DefaultSwingConfig(),
		MeanReversion: DefaultMeanReversionConfig(),
		Grid:          DefaultGridConfig(),
		Rebalance:     DefaultRebalanceConfig(),
	}
}

// Factory produces fresh strategy instances. Monte Carlo runs construct a
// new set per run so pacing state never leaks across runs.
type Factory func() ([]Strategy, error)

// New builds the named strategy variant from params.
func New(name string, params Params) (Strategy, error) {
	switch name {
	case "dca":
		return NewDCA(params.DCA)
	case "swing":
		return NewSwing(params.Swing)
	case "mean_reversion":
		return NewMeanReversion(params.MeanReversion)
	case "grid":
		return NewGrid(params.Grid)
	case "rebalance":
		return NewRebalance(params.Rebalance)
	default:
		return nil, fmt.Errorf("unknown strategy %q (known: %v)", name, Names())
	}
}

// Build constructs the full enabled set in the order given.
func Build(names []string, params Params) ([]Strategy, error) {
	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := New(name, params)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return strategies, nil
}

// Names lists the known variants, sorted.
func Names() []string {
	names := []string{"dca", "swing", "mean_reversion", "grid", "rebalance"}
	sort.Strings(names)
	return names
}

// lastPrice resolves the evaluation price: the view's last close, falling
// back to the mark. ok is false when neither side knows a price yet.
func lastPrice(ctx EvalContext) (float64, bool) {
	if price, ok := ctx.Market.LastClose(); ok {
		return price, true
	}
	if price, ok := ctx.Marks[ctx.Asset]; ok && price > 0 {
		return price, true
	}
	return 0, false
}
