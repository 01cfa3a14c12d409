// Package signal aggregates many independent, possibly-missing market
// indicators into one bounded composite score per asset, the single input
// every strategy consumes. Scores live in [-100,100]: negative is
// bearish/fear, positive is bullish/greed.
package signal

import "time"

// Category groups indicators that measure the same aspect of the market.
type Category string

const (
	CategoryMomentum   Category = "momentum"
	CategoryTechnical  Category = "technical"
	CategoryVolatility Category = "volatility"
	CategoryVolume     Category = "volume"
	CategorySentiment  Category = "sentiment"
)

// Sample is the raw output of one Source fetch: the provider's value plus
// its normalized score.
type Sample struct {
	Value     float64   `json:"value"`
	Score     float64   `json:"score"` // normalized to [-100,100]
	Timestamp time.Time `json:"timestamp"`
}

// Signal is one indicator reading inside a cycle snapshot. An unavailable
// signal carries the reason it is missing and is excluded from weighting
// entirely; it is never folded in as zero.
type Signal struct {
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	RawValue  float64   `json:"raw_value"`
	Score     float64   `json:"score"` // meaningful only when Available
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"` // set when unavailable
	Weight    float64   `json:"weight"`
	Timestamp time.Time `json:"timestamp"`
}

// Available builds a reporting signal with its score clamped to [-100,100].
func Available(name string, category Category, raw, score, weight float64, ts time.Time) Signal {
	return Signal{
		Name:      name,
		Category:  category,
		RawValue:  raw,
		Score:     clampScore(score),
		Available: true,
		Weight:    weight,
		Timestamp: ts,
	}
}

// Unavailable builds a non-reporting signal carrying the failure reason.
func Unavailable(name string, category Category, weight float64, reason string) Signal {
	return Signal{
		Name:     name,
		Category: category,
		Weight:   weight,
		Reason:   reason,
	}
}

// CategoryScore is the per-category breakdown inside a CompositeResult.
type CategoryScore struct {
	Category  Category `json:"category"`
	Score     float64  `json:"score"`
	Weight    float64  `json:"weight"`    // configured category weight
	Available int      `json:"available"` // indicators that reported
	Total     int      `json:"total"`     // indicators in the snapshot
}

// Recommendation is the tier-derived default action for a composite score.
type Recommendation struct {
	Action     string  `json:"action"`
	Multiplier float64 `json:"multiplier"`
}

// CompositeResult is the per-asset aggregation output for one cycle.
// When NoData is set no indicator reported and Score/Tier carry no meaning;
// callers must branch on NoData before reading the numeric fields.
type CompositeResult struct {
	Asset          string          `json:"asset"`
	Score          float64         `json:"score"`
	Tier           Tier            `json:"tier"`
	Recommendation Recommendation  `json:"recommendation"`
	Categories     []CategoryScore `json:"categories"`
	Coverage       float64         `json:"coverage"` // fraction of indicators that reported
	LowConfidence  bool            `json:"low_confidence"`
	NoData         bool            `json:"no_data"`
	Timestamp      time.Time       `json:"timestamp"`
}

func clampScore(s float64) float64 {
	if s > 100 {
		return 100
	}
	if s < -100 {
		return -100
	}
	return s
}
