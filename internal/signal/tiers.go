package signal

// Tier is one bucket of the fixed composite-score band table. Min is
// inclusive; Max is exclusive except for the final bucket, which includes
// +100 so every in-range score lands somewhere.
type Tier struct {
	Name       string  `json:"name"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Multiplier float64 `json:"multiplier"` // default DCA scaling for the band
	Action     string  `json:"action"`
}

// tiers is ordered by band; multipliers are monotonically non-increasing as
// the score rises, so deeper fear always buys at least as aggressively.
var tiers = []Tier{
	{Name: "EXTREME_FEAR", Min: -100, Max: -60, Multiplier: 3.0, Action: "buy_aggressive"},
	{Name: "FEAR", Min: -60, Max: -40, Multiplier: 2.5, Action: "buy"},
	{Name: "MILD_FEAR", Min: -40, Max: -20, Multiplier: 2.0, Action: "accumulate"},
	{Name: "SLIGHT_FEAR", Min: -20, Max: 0, Multiplier: 1.5, Action: "accumulate_light"},
	{Name: "NEUTRAL", Min: 0, Max: 20, Multiplier: 1.0, Action: "dca_base"},
	{Name: "MILD_GREED", Min: 20, Max: 40, Multiplier: 0.75, Action: "reduce_buying"},
	{Name: "GREED", Min: 40, Max: 60, Multiplier: 0.5, Action: "trim"},
	{Name: "EXTREME_GREED", Min: 60, Max: 100, Multiplier: 0.25, Action: "take_profit"},
}

// TierFor maps a composite score to its band. Out-of-range scores clamp to
// the nearest band rather than erroring; aggregation already bounds scores.
func TierFor(score float64) Tier {
	score = clampScore(score)
	for _, t := range tiers {
		if score >= t.Min && score < t.Max {
			return t
		}
	}
	return tiers[len(tiers)-1] // score == 100
}

// Tiers returns a copy of the full band table, for reporting.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}
