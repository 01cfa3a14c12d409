package strategy

import (
	"fmt"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// SwingConfig tunes the contrarian swing strategy. Thresholds bound the
// neutral band: no action while the composite sits between them.
type SwingConfig struct {
	BuyThreshold  float64 `yaml:"buy_threshold"`  // composite at or below buys
	SellThreshold float64 `yaml:"sell_threshold"` // composite at or above sells
	BaseAmount    float64 `yaml:"base_amount"`    // dollars right at a threshold
	MaxAmount     float64 `yaml:"max_amount"`     // dollars at full depth (±100)
}

func DefaultSwingConfig() SwingConfig {
	return SwingConfig{
		BuyThreshold:  -30,
		SellThreshold: 30,
		BaseAmount:    100,
		MaxAmount:     500,
	}
}

// Swing trades against the crowd: buy size grows with fear depth below the
// buy threshold, sell size grows with greed depth above the sell threshold.
type Swing struct {
	config SwingConfig
}

func NewSwing(config SwingConfig) (*Swing, error) {
	if config.BuyThreshold >= config.SellThreshold {
		return nil, fmt.Errorf("swing: buy threshold %.1f must be below sell threshold %.1f",
			config.BuyThreshold, config.SellThreshold)
	}
	if config.BaseAmount <= 0 || config.MaxAmount < config.BaseAmount {
		return nil, fmt.Errorf("swing: need 0 < base amount <= max amount, got base %.2f max %.2f",
			config.BaseAmount, config.MaxAmount)
	}
	return &Swing{config: config}, nil
}

func (s *Swing) Name() string { return "swing" }

func (s *Swing) Evaluate(ctx EvalContext) []Intent {
	if ctx.Composite.NoData {
		return nil
	}

	price, ok := lastPrice(ctx)
	if !ok {
		return nil
	}

	score := ctx.Composite.Score
	switch {
	case score <= s.config.BuyThreshold:
		amount := s.sized(depth(score, s.config.BuyThreshold, -100))
		return []Intent{{
			Asset:      ctx.Asset,
			Side:       portfolio.SideBuy,
			Quantity:   amount / price,
			Rationale:  fmt.Sprintf("fear depth at score %.1f buys $%.2f", score, amount),
			Confidence: ctx.Composite.Coverage,
			Strategy:   s.Name(),
		}}

	case score >= s.config.SellThreshold:
		held := ctx.Portfolio.Position(ctx.Asset).Quantity
		if held <= 0 {
			return nil // never shorts
		}
		amount := s.sized(depth(score, s.config.SellThreshold, 100))
		quantity := amount / price
		if quantity > held {
			quantity = held
		}
		return []Intent{{
			Asset:      ctx.Asset,
			Side:       portfolio.SideSell,
			Quantity:   quantity,
			Rationale:  fmt.Sprintf("greed depth at score %.1f trims $%.2f", score, quantity*price),
			Confidence: ctx.Composite.Coverage,
			Strategy:   s.Name(),
		}}
	}

	return nil // neutral band
}

// depth maps a score between threshold and extreme onto (0,1].
func depth(score, threshold, extreme float64) float64 {
	span := extreme - threshold
	if span == 0 {
		return 1
	}
	d := (score - threshold) / span
	if d > 1 {
		d = 1
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (s *Swing) sized(depth float64) float64 {
	return s.config.BaseAmount + depth*(s.config.MaxAmount-s.config.BaseAmount)
}
