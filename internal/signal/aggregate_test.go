package signal

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(DefaultAggregatorConfig())
	require.NoError(t, err)
	return agg
}

func TestNewAggregator_RejectsBadConfig(t *testing.T) {
	_, err := NewAggregator(AggregatorConfig{})
	assert.Error(t, err, "empty weights must fail at construction")

	_, err = NewAggregator(AggregatorConfig{
		CategoryWeights: map[Category]float64{CategoryMomentum: -1},
	})
	assert.Error(t, err, "negative weight must fail at construction")

	cfg := DefaultAggregatorConfig()
	cfg.MinCoverage = 1.5
	_, err = NewAggregator(cfg)
	assert.Error(t, err, "coverage outside [0,1] must fail at construction")
}

func TestAggregator_Aggregate_WeightedCategoryMean(t *testing.T) {
	agg := newTestAggregator(t)

	signals := []Signal{
		Available("a", CategoryMomentum, 0, 100, 1.0, testTime),
		Available("b", CategoryMomentum, 0, 0, 3.0, testTime),
	}

	result := agg.Aggregate("BTC-USD", signals, testTime)
	require.False(t, result.NoData)
	// (1*100 + 3*0) / 4 = 25 in the only available category.
	assert.InDelta(t, 25.0, result.Score, 1e-9)
	assert.Equal(t, "MILD_GREED", result.Tier.Name)
	assert.Equal(t, 1.0, result.Coverage)
}

func TestAggregator_Aggregate_RenormalizesOverAvailableCategories(t *testing.T) {
	agg := newTestAggregator(t)

	// Sentiment is down entirely; momentum should carry full weight rather
	// than the composite being dragged toward zero.
	signals := []Signal{
		Available("mom", CategoryMomentum, 0, 60, 1.0, testTime),
		Unavailable("social", CategorySentiment, 1.0, "provider timeout"),
	}

	result := agg.Aggregate("BTC-USD", signals, testTime)
	require.False(t, result.NoData)
	assert.InDelta(t, 60.0, result.Score, 1e-9, "missing category must not bias toward neutral")
	assert.Equal(t, 0.5, result.Coverage)
}

func TestAggregator_Aggregate_CategoryWeightsApplied(t *testing.T) {
	agg, err := NewAggregator(AggregatorConfig{
		CategoryWeights: map[Category]float64{
			CategoryMomentum:  0.3,
			CategoryTechnical: 0.2,
		},
		MinCoverage: 0.5,
	})
	require.NoError(t, err)

	signals := []Signal{
		Available("mom", CategoryMomentum, 0, 50, 1.0, testTime),
		Available("rsi", CategoryTechnical, 0, -50, 1.0, testTime),
	}

	result := agg.Aggregate("ETH-USD", signals, testTime)
	// (0.3*50 + 0.2*-50) / 0.5 = 10
	assert.InDelta(t, 10.0, result.Score, 1e-9)
}

func TestAggregator_Aggregate_UnavailableNeverTreatedAsZero(t *testing.T) {
	agg := newTestAggregator(t)

	signals := []Signal{
		Available("a", CategoryMomentum, 0, -80, 1.0, testTime),
		Unavailable("b", CategoryMomentum, 1.0, "http 503"),
		Unavailable("c", CategoryMomentum, 1.0, "http 503"),
	}

	result := agg.Aggregate("BTC-USD", signals, testTime)
	assert.InDelta(t, -80.0, result.Score, 1e-9,
		"two dead indicators must not dilute the one live reading")
}

func TestAggregator_Aggregate_ZeroAvailableIsNoData(t *testing.T) {
	agg := newTestAggregator(t)

	signals := []Signal{
		Unavailable("a", CategoryMomentum, 1.0, "timeout"),
		Unavailable("b", CategorySentiment, 1.0, "timeout"),
	}

	result := agg.Aggregate("BTC-USD", signals, testTime)
	assert.True(t, result.NoData)
	assert.Equal(t, "no_data", result.Recommendation.Action)
	assert.Zero(t, result.Recommendation.Multiplier)

	empty := agg.Aggregate("BTC-USD", nil, testTime)
	assert.True(t, empty.NoData)
}

func TestAggregator_Aggregate_LowConfidenceBelowMinCoverage(t *testing.T) {
	agg := newTestAggregator(t) // MinCoverage 0.5

	signals := []Signal{
		Available("a", CategoryMomentum, 0, 10, 1.0, testTime),
		Unavailable("b", CategoryTechnical, 1.0, "down"),
		Unavailable("c", CategoryVolume, 1.0, "down"),
	}

	result := agg.Aggregate("BTC-USD", signals, testTime)
	require.False(t, result.NoData)
	assert.InDelta(t, 1.0/3.0, result.Coverage, 1e-9)
	assert.True(t, result.LowConfidence)
}

func TestAggregator_Aggregate_ScoreAlwaysBounded(t *testing.T) {
	agg := newTestAggregator(t)
	rng := rand.New(rand.NewSource(7))
	categories := []Category{CategoryMomentum, CategoryTechnical, CategoryVolatility, CategoryVolume, CategorySentiment}

	for trial := 0; trial < 500; trial++ {
		n := 1 + rng.Intn(10)
		signals := make([]Signal, 0, n)
		anyAvailable := false
		for i := 0; i < n; i++ {
			cat := categories[rng.Intn(len(categories))]
			if rng.Float64() < 0.3 {
				signals = append(signals, Unavailable("s", cat, rng.Float64()*2, "down"))
				continue
			}
			anyAvailable = true
			score := rng.Float64()*400 - 200 // deliberately out of range
			signals = append(signals, Available("s", cat, 0, score, rng.Float64()*2+0.01, testTime))
		}

		result := agg.Aggregate("BTC-USD", signals, testTime)
		if !anyAvailable {
			assert.True(t, result.NoData)
			continue
		}
		assert.GreaterOrEqual(t, result.Score, -100.0)
		assert.LessOrEqual(t, result.Score, 100.0)
	}
}

func TestAggregator_Aggregate_CategoryBreakdownDeterministicOrder(t *testing.T) {
	agg := newTestAggregator(t)
	signals := []Signal{
		Available("v", CategoryVolume, 0, 5, 1.0, testTime),
		Available("m", CategoryMomentum, 0, 10, 1.0, testTime),
		Available("t", CategoryTechnical, 0, -5, 1.0, testTime),
	}

	first := agg.Aggregate("BTC-USD", signals, testTime)
	for i := 0; i < 20; i++ {
		again := agg.Aggregate("BTC-USD", signals, testTime)
		assert.Equal(t, first.Categories, again.Categories)
	}
	assert.Equal(t, CategoryMomentum, first.Categories[0].Category)
	assert.Equal(t, CategoryTechnical, first.Categories[1].Category)
	assert.Equal(t, CategoryVolume, first.Categories[2].Category)
}
