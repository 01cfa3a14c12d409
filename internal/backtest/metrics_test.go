package backtest

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

func curveOf(start time.Time, step time.Duration, equities ...float64) []portfolio.EquityPoint {
	curve := make([]portfolio.EquityPoint, len(equities))
	for i, equity := range equities {
		curve[i] = portfolio.EquityPoint{
			Timestamp: start.Add(time.Duration(i) * step),
			Equity:    equity,
		}
	}
	return curve
}

func curveFromReturns(start time.Time, step time.Duration, initial float64, returns []float64) []portfolio.EquityPoint {
	equities := make([]float64, 0, len(returns)+1)
	equities = append(equities, initial)
	equity := initial
	for _, r := range returns {
		equity *= 1 + r
		equities = append(equities, equity)
	}
	return curveOf(start, step, equities...)
}

func TestComputeMetrics_FlatCurve(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := computeMetrics(metricsInput{
		Curve:         curveOf(start, time.Hour, 10000, 10000, 10000, 10000),
		VaRConfidence: 0.95,
	})

	assert.Zero(t, m.TotalReturnPct)
	assert.Zero(t, m.CAGRPct)
	assert.Zero(t, m.AlphaPct)
	assert.Zero(t, m.AnnualizedVolPct)
	assert.Zero(t, m.MaxDrawdownPct)
	assert.Zero(t, m.VaRPct)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.SortinoRatio)
	assert.Zero(t, m.CalmarRatio)
	assert.Zero(t, m.WinRatePct)
	assert.Zero(t, m.ProfitFactor)
	assert.Equal(t, 0, m.ClosedTradeCount)
	assert.Equal(t, 0.95, m.VaRConfidence)
}

func TestComputeMetrics_ReturnCAGRAlpha(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Exactly one year elapsed, so CAGR equals the total return.
	curve := []portfolio.EquityPoint{
		{Timestamp: start, Equity: 10000},
		{Timestamp: start.Add(365 * 24 * time.Hour), Equity: 12100},
	}

	m := computeMetrics(metricsInput{Curve: curve, BenchmarkReturnPct: 10, VaRConfidence: 0.95})

	assert.InDelta(t, 21.0, m.TotalReturnPct, 1e-9)
	assert.InDelta(t, 21.0, m.CAGRPct, 1e-9)
	assert.Equal(t, 10.0, m.BenchmarkReturnPct)
	assert.InDelta(t, 11.0, m.AlphaPct, 1e-9)
}

func TestComputeMetrics_MaxDrawdown(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := computeMetrics(metricsInput{
		Curve:         curveOf(start, time.Hour, 10000, 12000, 9000, 13000),
		VaRConfidence: 0.95,
	})

	// Peak 12000 to trough 9000.
	assert.InDelta(t, 25.0, m.MaxDrawdownPct, 1e-9)
}

func TestComputeMetrics_SharpeAnnualizesFromMedianStep(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Hourly returns +2% then 0%: mean 1%, population stddev 1%.
	curve := curveOf(start, time.Hour, 10000, 10200, 10200)

	m := computeMetrics(metricsInput{Curve: curve, VaRConfidence: 0.95})

	hourly := math.Sqrt(24 * 365)
	assert.InDelta(t, hourly, m.SharpeRatio, 1e-9)
	assert.InDelta(t, 0.01*hourly*100, m.AnnualizedVolPct, 1e-9)
	// No return fell below the zero risk-free target.
	assert.Zero(t, m.SortinoRatio)
}

func TestComputeMetrics_HistoricalVaR(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	returns := make([]float64, 20)
	for i := range returns {
		returns[i] = 0.01
	}
	returns[4] = -0.05
	returns[11] = -0.02

	m := computeMetrics(metricsInput{
		Curve:         curveFromReturns(start, time.Hour, 10000, returns),
		VaRConfidence: 0.95,
	})

	// 5% tail of 20 observations lands on the second-worst return.
	assert.InDelta(t, 2.0, m.VaRPct, 1e-6)
}

func TestComputeMetrics_VaRZeroWhenNoLossTail(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	returns := []float64{0.01, 0.02, 0.01, 0.03}

	m := computeMetrics(metricsInput{
		Curve:         curveFromReturns(start, time.Hour, 10000, returns),
		VaRConfidence: 0.95,
	})

	assert.Zero(t, m.VaRPct)
}

func TestComputeMetrics_TradeStats(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []Trade{
		{Side: portfolio.SideBuy, Timestamp: at, Notional: 100},
		{Side: portfolio.SideSell, Timestamp: at, Notional: 150, RealizedPnL: 50},
		{Side: portfolio.SideSell, Timestamp: at, Notional: 90, RealizedPnL: -10},
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m := computeMetrics(metricsInput{
		Curve:         curveOf(start, time.Hour, 10000, 10040),
		Trades:        trades,
		VaRConfidence: 0.95,
	})

	assert.Equal(t, 3, m.TradeCount)
	assert.Equal(t, 2, m.ClosedTradeCount)
	assert.InDelta(t, 50.0, m.WinRatePct, 1e-9)
	assert.InDelta(t, 5.0, m.ProfitFactor, 1e-9) // 50 gained vs 10 lost
	// Basis 100 on both closes: +50% and -10% average to +20%.
	assert.InDelta(t, 20.0, m.AvgTradeReturnPct, 1e-9)
}

func TestComputeMetrics_ProfitFactorZeroWithoutLosses(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []Trade{
		{Side: portfolio.SideSell, Timestamp: at, Notional: 150, RealizedPnL: 50},
		{Side: portfolio.SideSell, Timestamp: at, Notional: 120, RealizedPnL: 20},
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m := computeMetrics(metricsInput{
		Curve:         curveOf(start, time.Hour, 10000, 10070),
		Trades:        trades,
		VaRConfidence: 0.95,
	})

	assert.Equal(t, 100.0, m.WinRatePct)
	assert.Zero(t, m.ProfitFactor)
}

func TestComputeMetrics_AlwaysFinite(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := map[string]metricsInput{
		"empty":        {},
		"single point": {Curve: curveOf(start, time.Hour, 10000)},
		"zero equity":  {Curve: curveOf(start, time.Hour, 10000, 0, 0)},
		"spike": {
			Curve: curveOf(start, time.Hour, 1, 1e12, 1),
			Trades: []Trade{
				{Side: portfolio.SideSell, Notional: 0, RealizedPnL: -5},
			},
		},
		"zero start": {Curve: curveOf(start, time.Hour, 0, 100)},
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			m := computeMetrics(in)

			v := reflect.ValueOf(m)
			for i := 0; i < v.NumField(); i++ {
				if v.Field(i).Kind() != reflect.Float64 {
					continue
				}
				f := v.Field(i).Float()
				assert.False(t, math.IsNaN(f), "%s is NaN", v.Type().Field(i).Name)
				assert.False(t, math.IsInf(f, 0), "%s is Inf", v.Type().Field(i).Name)
			}

			_, err := json.Marshal(m)
			require.NoError(t, err)
		})
	}
}
