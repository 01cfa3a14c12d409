package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// MeanReversionConfig tunes the moving-average reversion strategy.
type MeanReversionConfig struct {
	Period       int     `yaml:"period"`         // SMA window in bars
	BuyBelowPct  float64 `yaml:"buy_below_pct"`  // buy when price sits this far under the mean
	SellAbovePct float64 `yaml:"sell_above_pct"` // sell when price sits this far over the mean
	Amount       float64 `yaml:"amount"`         // dollars per intent
}

func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		Period:       20,
		BuyBelowPct:  5,
		SellAbovePct: 5,
		Amount:       200,
	}
}

// MeanReversion bets that price snaps back to its moving average: buy when
// stretched below it, sell held units when stretched above. Price-driven;
// it ignores the composite entirely.
type MeanReversion struct {
	config MeanReversionConfig
}

func NewMeanReversion(config MeanReversionConfig) (*MeanReversion, error) {
	if config.Period < 2 {
		return nil, fmt.Errorf("mean reversion: period must be at least 2, got %d", config.Period)
	}
	if config.BuyBelowPct <= 0 || config.SellAbovePct <= 0 {
		return nil, fmt.Errorf("mean reversion: thresholds must be positive, got buy %.2f sell %.2f",
			config.BuyBelowPct, config.SellAbovePct)
	}
	if config.Amount <= 0 {
		return nil, fmt.Errorf("mean reversion: amount must be positive, got %f", config.Amount)
	}
	return &MeanReversion{config: config}, nil
}

func (m *MeanReversion) Name() string { return "mean_reversion" }

func (m *MeanReversion) Evaluate(ctx EvalContext) []Intent {
	closes := ctx.Market.Closes()
	if len(closes) < m.config.Period {
		return nil // not enough history to know the mean
	}

	sma := talib.Sma(closes, m.config.Period)
	mean := sma[len(sma)-1]
	if mean <= 0 {
		return nil
	}

	price := closes[len(closes)-1]
	deviation := (price - mean) / mean * 100

	switch {
	case deviation <= -m.config.BuyBelowPct:
		return []Intent{{
			Asset:      ctx.Asset,
			Side:       portfolio.SideBuy,
			Quantity:   m.config.Amount / price,
			Rationale:  fmt.Sprintf("price %.2f sits %.1f%% under %d-bar mean %.2f", price, -deviation, m.config.Period, mean),
			Confidence: 1.0,
			Strategy:   m.Name(),
		}}

	case deviation >= m.config.SellAbovePct:
		held := ctx.Portfolio.Position(ctx.Asset).Quantity
		if held <= 0 {
			return nil
		}
		quantity := m.config.Amount / price
		if quantity > held {
			quantity = held
		}
		return []Intent{{
			Asset:      ctx.Asset,
			Side:       portfolio.SideSell,
			Quantity:   quantity,
			Rationale:  fmt.Sprintf("price %.2f sits %.1f%% over %d-bar mean %.2f", price, deviation, m.config.Period, mean),
			Confidence: 1.0,
			Strategy:   m.Name(),
		}}
	}

	return nil
}
