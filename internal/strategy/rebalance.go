package strategy

import (
	"fmt"
	"math"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// RebalanceConfig tunes the allocation-drift strategy.
type RebalanceConfig struct {
	Targets      map[string]float64 `yaml:"targets"`       // asset -> target fraction of equity
	TolerancePct float64            `yaml:"tolerance_pct"` // drift band in percentage points
}

func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{
		Targets:      map[string]float64{},
		TolerancePct: 5,
	}
}

// Rebalance holds each asset near its target share of total equity. It is
// evaluated per asset: when the evaluated asset has drifted outside the
// tolerance band it emits one intent sized to close the drift exactly.
type Rebalance struct {
	config RebalanceConfig
}

func NewRebalance(config RebalanceConfig) (*Rebalance, error) {
	if config.TolerancePct <= 0 {
		return nil, fmt.Errorf("rebalance: tolerance must be positive, got %f", config.TolerancePct)
	}
	var total float64
	for asset, target := range config.Targets {
		if target < 0 || target > 1 {
			return nil, fmt.Errorf("rebalance: target for %s must be in [0,1], got %f", asset, target)
		}
		total += target
	}
	if total > 1+1e-9 {
		return nil, fmt.Errorf("rebalance: targets sum to %.4f, must not exceed 1", total)
	}
	return &Rebalance{config: config}, nil
}

func (r *Rebalance) Name() string { return "rebalance" }

func (r *Rebalance) Evaluate(ctx EvalContext) []Intent {
	target, ok := r.config.Targets[ctx.Asset]
	if !ok {
		return nil // asset not under management
	}

	price, ok := lastPrice(ctx)
	if !ok {
		return nil
	}

	equity := ctx.Portfolio.Equity(ctx.Marks)
	if equity <= 0 {
		return nil
	}

	position := ctx.Portfolio.Position(ctx.Asset)
	current := position.Value(price) / equity
	drift := current - target
	if math.Abs(drift)*100 <= r.config.TolerancePct {
		return nil // inside the band
	}

	quantity := math.Abs(drift) * equity / price
	side := portfolio.SideBuy
	if drift > 0 {
		side = portfolio.SideSell
		if quantity > position.Quantity {
			quantity = position.Quantity
		}
	}
	if quantity <= 0 {
		return nil
	}

	return []Intent{{
		Asset:      ctx.Asset,
		Side:       side,
		Quantity:   quantity,
		Rationale:  fmt.Sprintf("allocation %.1f%% vs target %.1f%%, closing %.1fpp drift", current*100, target*100, math.Abs(drift)*100),
		Confidence: 1.0,
		Strategy:   r.Name(),
	}}
}
