package strategy

import (
	"fmt"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// GridConfig tunes the ladder strategy.
type GridConfig struct {
	Levels      int     `yaml:"levels"`       // rungs on each side of the reference
	StepPct     float64 `yaml:"step_pct"`     // spacing between rungs
	OrderAmount float64 `yaml:"order_amount"` // dollars per rung
}

func DefaultGridConfig() GridConfig {
	return GridConfig{
		Levels:      5,
		StepPct:     2.5,
		OrderAmount: 100,
	}
}

// Grid lays a ladder of fixed-size orders at fixed percentage intervals
// around the first price it sees per asset. A rung fires once, when price
// first crosses it: buy rungs below the reference, sell rungs above.
type Grid struct {
	config   GridConfig
	refPrice map[string]float64
	touched  map[string]map[int]bool // rung key: -k for buys, +k for sells
}

func NewGrid(config GridConfig) (*Grid, error) {
	if config.Levels < 1 {
		return nil, fmt.Errorf("grid: need at least one level, got %d", config.Levels)
	}
	if config.StepPct <= 0 {
		return nil, fmt.Errorf("grid: step must be positive, got %f", config.StepPct)
	}
	if float64(config.Levels)*config.StepPct >= 100 {
		return nil, fmt.Errorf("grid: %d levels at %.2f%% steps reach zero or negative prices", config.Levels, config.StepPct)
	}
	if config.OrderAmount <= 0 {
		return nil, fmt.Errorf("grid: order amount must be positive, got %f", config.OrderAmount)
	}
	return &Grid{
		config:   config,
		refPrice: make(map[string]float64),
		touched:  make(map[string]map[int]bool),
	}, nil
}

func (g *Grid) Name() string { return "grid" }

func (g *Grid) Evaluate(ctx EvalContext) []Intent {
	price, ok := lastPrice(ctx)
	if !ok {
		return nil
	}

	ref, ok := g.refPrice[ctx.Asset]
	if !ok {
		// Anchor the ladder on first sight; no trade on the anchoring step.
		g.refPrice[ctx.Asset] = price
		g.touched[ctx.Asset] = make(map[int]bool)
		return nil
	}

	var intents []Intent
	step := g.config.StepPct / 100
	touched := g.touched[ctx.Asset]

	// Buy rungs below the reference, deepest-first crossing allowed: one
	// evaluation can clear several rungs after a sharp move.
	for k := 1; k <= g.config.Levels; k++ {
		rung := ref * (1 - float64(k)*step)
		if price <= rung && !touched[-k] {
			touched[-k] = true
			intents = append(intents, Intent{
				Asset:      ctx.Asset,
				Side:       portfolio.SideBuy,
				Quantity:   g.config.OrderAmount / price,
				Rationale:  fmt.Sprintf("price %.2f crossed buy rung %d at %.2f (ref %.2f)", price, k, rung, ref),
				Confidence: 1.0,
				Strategy:   g.Name(),
			})
		}
	}

	held := ctx.Portfolio.Position(ctx.Asset).Quantity
	for k := 1; k <= g.config.Levels; k++ {
		rung := ref * (1 + float64(k)*step)
		if price >= rung && !touched[k] {
			touched[k] = true
			if held <= 0 {
				continue // rung consumed but nothing to sell
			}
			quantity := g.config.OrderAmount / price
			if quantity > held {
				quantity = held
			}
			held -= quantity
			intents = append(intents, Intent{
				Asset:      ctx.Asset,
				Side:       portfolio.SideSell,
				Quantity:   quantity,
				Rationale:  fmt.Sprintf("price %.2f crossed sell rung %d at %.2f (ref %.2f)", price, k, rung, ref),
				Confidence: 1.0,
				Strategy:   g.Name(),
			})
		}
	}

	return intents
}
