package exchange

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// CostModel prices trading friction in basis points: slippage shifts the
// execution price against the trade, fees are charged on executed notional.
type CostModel struct {
	FeeBps      float64 `yaml:"fee_bps" default:"10"`
	SlippageBps float64 `yaml:"slippage_bps" default:"5"`
}

// DefaultCostModel returns the tagged defaults.
func DefaultCostModel() CostModel {
	var costs CostModel
	_ = defaults.Set(&costs)
	return costs
}

// Validate bounds both at 10% (1000 bps), far past anything realistic.
func (c CostModel) Validate() error {
	if c.FeeBps < 0 || c.FeeBps > 1000 {
		return fmt.Errorf("cost model: fee must be in [0,1000] bps, got %f", c.FeeBps)
	}
	if c.SlippageBps < 0 || c.SlippageBps > 1000 {
		return fmt.Errorf("cost model: slippage must be in [0,1000] bps, got %f", c.SlippageBps)
	}
	return nil
}

// ExecPrice is the reference price moved against the trade by slippage:
// buys pay up, sells receive less.
func (c CostModel) ExecPrice(price float64, side portfolio.Side) float64 {
	shift := c.SlippageBps / 10000
	if side == portfolio.SideBuy {
		return price * (1 + shift)
	}
	return price * (1 - shift)
}

// Fee charges the configured rate on notional.
func (c CostModel) Fee(notional float64) float64 {
	return notional * c.FeeBps / 10000
}

// Fill simulates executing quantity at the reference price under this cost
// model. The same function prices backtest fills and paper fills.
func (c CostModel) Fill(asset string, side portfolio.Side, quantity, refPrice float64, at time.Time) portfolio.Fill {
	exec := c.ExecPrice(refPrice, side)
	return portfolio.Fill{
		Asset:     asset,
		Side:      side,
		Quantity:  quantity,
		Price:     exec,
		Fee:       c.Fee(quantity * exec),
		Timestamp: at,
	}
}
