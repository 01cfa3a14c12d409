// Package risk gates strategy intents against configured limits: intents
// come in, decisions come out, and nothing the gate approves can push the
// portfolio past a limit. The manager holds no state of its own; breakers
// derive from the portfolio's equity curve each call.
package risk

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Limits is the full risk configuration. Percentages are whole numbers
// (25 means 25%).
type Limits struct {
	// MaxPositionSizePct caps any single position at this share of equity.
	MaxPositionSizePct float64 `yaml:"max_position_size_pct" default:"25" validate:"gt=0,lte=100"`

	// MaxPortfolioRiskPct caps the equity share lost if a position takes
	// the configured worst-case adverse move.
	MaxPortfolioRiskPct float64 `yaml:"max_portfolio_risk_pct" default:"5" validate:"gt=0,lte=100"`

	// WorstCaseMovePct is the adverse move assumed when sizing trade risk.
	WorstCaseMovePct float64 `yaml:"worst_case_move_pct" default:"20" validate:"gt=0,lte=100"`

	// MaxDailyLossPct halts new buys for the rest of the UTC day once the
	// day's realized+unrealized loss crosses it.
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct" default:"5" validate:"gt=0,lte=100"`

	// MaxDrawdownPct halts new buys while drawdown from peak equity
	// exceeds it; buying resumes once the drawdown recovers.
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct" default:"20" validate:"gt=0,lte=100"`

	// MinCashReservePct keeps at least this share of equity in cash.
	MinCashReservePct float64 `yaml:"min_cash_reserve_pct" default:"10" validate:"gte=0,lt=100"`
}

// DefaultLimits returns the tagged defaults.
func DefaultLimits() Limits {
	var limits Limits
	_ = defaults.Set(&limits)
	return limits
}

// Validate fails fast on a malformed limit set.
func (l Limits) Validate() error {
	if err := validator.New().Struct(l); err != nil {
		return fmt.Errorf("invalid risk limits: %w", err)
	}
	return nil
}
