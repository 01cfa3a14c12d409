package strategy

import (
	"fmt"
	"time"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// DCAConfig tunes the periodic accumulation strategy.
type DCAConfig struct {
	BaseAmount float64       `yaml:"base_amount"` // dollars per interval at 1.0x
	Interval   time.Duration `yaml:"interval"`    // cadence between buys
}

func DefaultDCAConfig() DCAConfig {
	return DCAConfig{
		BaseAmount: 100,
		Interval:   24 * time.Hour,
	}
}

// DCA buys a fixed dollar amount on a fixed cadence, scaled by the tier
// multiplier: deeper fear buys harder, greed tapers off. It never sells and
// never shorts.
type DCA struct {
	config   DCAConfig
	lastFire map[string]time.Time
}

func NewDCA(config DCAConfig) (*DCA, error) {
	if config.BaseAmount <= 0 {
		return nil, fmt.Errorf("dca: base amount must be positive, got %f", config.BaseAmount)
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("dca: interval must be positive, got %s", config.Interval)
	}
	return &DCA{
		config:   config,
		lastFire: make(map[string]time.Time),
	}, nil
}

func (d *DCA) Name() string { return "dca" }

func (d *DCA) Evaluate(ctx EvalContext) []Intent {
	// No composite means no tier multiplier; missing data never trades.
	if ctx.Composite.NoData {
		return nil
	}

	if last, ok := d.lastFire[ctx.Asset]; ok && ctx.Now.Sub(last) < d.config.Interval {
		return nil
	}

	price, ok := lastPrice(ctx)
	if !ok {
		return nil
	}

	amount := d.config.BaseAmount * ctx.Composite.Tier.Multiplier
	if amount <= 0 {
		return nil
	}

	d.lastFire[ctx.Asset] = ctx.Now
	return []Intent{{
		Asset:    ctx.Asset,
		Side:     portfolio.SideBuy,
		Quantity: amount / price,
		Rationale: fmt.Sprintf("%s (score %.1f): %.2fx base $%.2f",
			ctx.Composite.Tier.Name, ctx.Composite.Score, ctx.Composite.Tier.Multiplier, d.config.BaseAmount),
		Confidence: ctx.Composite.Coverage,
		Strategy:   d.Name(),
	}}
}
