package signal

import (
	"fmt"
	"sort"
	"time"
)

// AggregatorConfig fixes the category weighting and the coverage threshold
// below which results are flagged low-confidence.
type AggregatorConfig struct {
	CategoryWeights map[Category]float64
	MinCoverage     float64 // fraction of indicators that must report
}

// DefaultAggregatorConfig weights momentum and technicals ahead of the
// slower-moving categories.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		CategoryWeights: map[Category]float64{
			CategoryMomentum:   0.30,
			CategoryTechnical:  0.25,
			CategoryVolatility: 0.15,
			CategoryVolume:     0.10,
			CategorySentiment:  0.20,
		},
		MinCoverage: 0.5,
	}
}

// Aggregator folds an indicator snapshot into one CompositeResult per asset.
// It is a pure computation over an already-collected snapshot; fetching and
// concurrency live in Fetcher.
type Aggregator struct {
	config AggregatorConfig
}

// NewAggregator validates the config and builds an aggregator. Weight or
// coverage misconfiguration fails here, at construction, never mid-cycle.
func NewAggregator(config AggregatorConfig) (*Aggregator, error) {
	if len(config.CategoryWeights) == 0 {
		return nil, fmt.Errorf("aggregator config: at least one category weight required")
	}
	for category, weight := range config.CategoryWeights {
		if weight <= 0 {
			return nil, fmt.Errorf("aggregator config: category %s weight must be positive, got %f", category, weight)
		}
	}
	if config.MinCoverage < 0 || config.MinCoverage > 1 {
		return nil, fmt.Errorf("aggregator config: min coverage must be in [0,1], got %f", config.MinCoverage)
	}
	return &Aggregator{config: config}, nil
}

// Aggregate combines a snapshot of signals for one asset, stamped at.
//
// Category score: weight-normalized mean over the category's available
// indicators. Composite: weighted mean over categories that produced a
// value, with category weights renormalized over only those categories,
// so a missing category drops out entirely instead of dragging the
// composite toward neutral. Zero available indicators yields a NoData
// result, never a numeric zero.
func (a *Aggregator) Aggregate(asset string, signals []Signal, at time.Time) CompositeResult {
	result := CompositeResult{
		Asset:     asset,
		Timestamp: at,
	}

	available := 0
	byCategory := make(map[Category][]Signal)
	for _, s := range signals {
		byCategory[s.Category] = append(byCategory[s.Category], s)
		if s.Available {
			available++
		}
	}

	if len(signals) == 0 || available == 0 {
		result.NoData = true
		result.Recommendation = Recommendation{Action: "no_data", Multiplier: 0}
		return result
	}
	result.Coverage = float64(available) / float64(len(signals))
	result.LowConfidence = result.Coverage < a.config.MinCoverage

	// Deterministic category order regardless of map iteration.
	categories := make([]Category, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	var weightedSum, weightTotal float64
	for _, category := range categories {
		group := byCategory[category]
		score, reported := categoryScore(group)
		entry := CategoryScore{
			Category:  category,
			Weight:    a.categoryWeight(category),
			Available: reported,
			Total:     len(group),
		}
		if reported > 0 {
			entry.Score = score
			weightedSum += entry.Weight * score
			weightTotal += entry.Weight
		}
		result.Categories = append(result.Categories, entry)
	}

	// weightTotal > 0 is guaranteed: available > 0 and weights are positive.
	result.Score = clampScore(weightedSum / weightTotal)
	result.Tier = TierFor(result.Score)
	result.Recommendation = Recommendation{
		Action:     result.Tier.Action,
		Multiplier: result.Tier.Multiplier,
	}
	return result
}

// categoryScore is the weighted mean over the group's available signals;
// unavailable ones are skipped, not zeroed. reported is how many counted.
func categoryScore(group []Signal) (score float64, reported int) {
	var sum, weights float64
	for _, s := range group {
		if !s.Available {
			continue
		}
		weight := s.Weight
		if weight <= 0 {
			weight = 1.0
		}
		sum += weight * s.Score
		weights += weight
		reported++
	}
	if reported == 0 {
		return 0, 0
	}
	return sum / weights, reported
}

// categoryWeight falls back to 1.0 for categories the config does not name,
// so a new source category degrades to equal weighting instead of vanishing.
func (a *Aggregator) categoryWeight(category Category) float64 {
	if w, ok := a.config.CategoryWeights[category]; ok {
		return w
	}
	return 1.0
}
