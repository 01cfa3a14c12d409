package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// Metrics is the fixed performance field set a completed run exposes.
// Ratios degrade to zero when their denominator is empty (flat curve, no
// losing trades, zero drawdown) so every field stays finite and
// serializable.
type Metrics struct {
	TotalReturnPct     float64 `json:"total_return_pct"`
	CAGRPct            float64 `json:"cagr_pct"`
	BenchmarkReturnPct float64 `json:"benchmark_return_pct"`
	AlphaPct           float64 `json:"alpha_pct"`
	AnnualizedVolPct   float64 `json:"annualized_volatility_pct"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`
	VaRPct             float64 `json:"var_pct"`
	VaRConfidence      float64 `json:"var_confidence"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	CalmarRatio        float64 `json:"calmar_ratio"`
	WinRatePct         float64 `json:"win_rate_pct"`
	ProfitFactor       float64 `json:"profit_factor"`
	AvgTradeReturnPct  float64 `json:"avg_trade_return_pct"`
	TradeCount         int     `json:"trade_count"`
	ClosedTradeCount   int     `json:"closed_trade_count"`
}

const hoursPerYear = 24 * 365

type metricsInput struct {
	Curve              []portfolio.EquityPoint
	Trades             []Trade
	BenchmarkReturnPct float64
	RiskFreeRate       float64 // annual fraction, e.g. 0.02
	VaRConfidence      float64 // e.g. 0.95
}

func computeMetrics(in metricsInput) Metrics {
	m := Metrics{
		BenchmarkReturnPct: in.BenchmarkReturnPct,
		VaRConfidence:      in.VaRConfidence,
		TradeCount:         len(in.Trades),
	}
	if len(in.Curve) < 1 {
		return m
	}

	initial := in.Curve[0].Equity
	final := in.Curve[len(in.Curve)-1].Equity
	if initial > 0 {
		m.TotalReturnPct = (final - initial) / initial * 100
	}
	m.AlphaPct = m.TotalReturnPct - in.BenchmarkReturnPct

	elapsed := in.Curve[len(in.Curve)-1].Timestamp.Sub(in.Curve[0].Timestamp)
	years := elapsed.Hours() / hoursPerYear
	if years > 0 && initial > 0 && final > 0 {
		m.CAGRPct = (math.Pow(final/initial, 1/years) - 1) * 100
	}

	m.MaxDrawdownPct = maxDrawdown(in.Curve)

	returns := periodicReturns(in.Curve)
	if len(returns) > 0 {
		perYear := periodsPerYear(in.Curve)
		mean, stddev := meanStddev(returns)

		if stddev > 0 {
			m.AnnualizedVolPct = stddev * math.Sqrt(perYear) * 100
			rfPeriod := in.RiskFreeRate / perYear
			m.SharpeRatio = (mean - rfPeriod) / stddev * math.Sqrt(perYear)
			if downside := downsideDev(returns, rfPeriod); downside > 0 {
				m.SortinoRatio = (mean - rfPeriod) / downside * math.Sqrt(perYear)
			}
		}

		m.VaRPct = historicalVaR(returns, in.VaRConfidence)
	}

	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.CAGRPct / m.MaxDrawdownPct
	}

	m.WinRatePct, m.ProfitFactor, m.AvgTradeReturnPct, m.ClosedTradeCount = tradeStats(in.Trades)
	return m
}

// maxDrawdown is the deepest peak-to-trough decline on the curve, in
// percent of the peak.
func maxDrawdown(curve []portfolio.EquityPoint) float64 {
	var peak, worst float64
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak > 0 {
			if dd := (peak - point.Equity) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func periodicReturns(curve []portfolio.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	return returns
}

// periodsPerYear derives the sampling frequency from the median step, so
// daily and hourly replays annualize correctly without being told.
func periodsPerYear(curve []portfolio.EquityPoint) float64 {
	if len(curve) < 2 {
		return 1
	}
	steps := make([]time.Duration, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		steps = append(steps, curve[i].Timestamp.Sub(curve[i-1].Timestamp))
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	median := steps[len(steps)/2]
	if median <= 0 {
		return 1
	}
	return float64(hoursPerYear) / median.Hours()
}

func meanStddev(values []float64) (mean, stddev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

func downsideDev(returns []float64, target float64) float64 {
	var sum float64
	for _, r := range returns {
		if r < target {
			diff := r - target
			sum += diff * diff
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

// historicalVaR reports the loss at the (1-confidence) percentile of the
// observed periodic returns, as a positive percentage. All-gain histories
// report zero.
func historicalVaR(returns []float64, confidence float64) float64 {
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.95
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int((1 - confidence) * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if loss := -sorted[idx] * 100; loss > 0 {
		return loss
	}
	return 0
}

// tradeStats covers the ledger-derived metrics. Only sells close a round
// trip, so win rate, profit factor and per-trade return are measured over
// sells; a run with no sells reports zeros rather than pretending.
func tradeStats(trades []Trade) (winRate, profitFactor, avgReturn float64, closed int) {
	var wins int
	var grossProfit, grossLoss, returnSum float64

	for _, trade := range trades {
		if trade.Side != portfolio.SideSell {
			continue
		}
		closed++
		if trade.RealizedPnL > 0 {
			wins++
			grossProfit += trade.RealizedPnL
		} else {
			grossLoss += -trade.RealizedPnL
		}
		// Entry cost reconstructed from the fill: proceeds minus profit.
		if basis := trade.Notional - trade.Fee - trade.RealizedPnL; basis > 0 {
			returnSum += trade.RealizedPnL / basis * 100
		}
	}

	if closed == 0 {
		return 0, 0, 0, 0
	}
	winRate = float64(wins) / float64(closed) * 100
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	}
	avgReturn = returnSum / float64(closed)
	return winRate, profitFactor, avgReturn, closed
}
