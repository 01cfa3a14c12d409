package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentigrade/sentigrade/internal/agent"
	"github.com/sentigrade/sentigrade/internal/backtest"
)

// FromResult flattens a backtest result into archive records.
func FromResult(result *backtest.Result) (RunRecord, []TradeRecord, error) {
	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return RunRecord{}, nil, fmt.Errorf("failed to marshal metrics for run %s: %w", result.RunID, err)
	}

	run := RunRecord{
		RunID:           result.RunID,
		Account:         result.Account,
		Start:           result.Start,
		End:             result.End,
		Steps:           result.Steps,
		Assets:          result.Assets,
		Strategies:      result.Strategies,
		StartingCapital: result.StartingCapital,
		FinalEquity:     result.FinalEquity,
		TotalReturnPct:  result.Metrics.TotalReturnPct,
		MaxDrawdownPct:  result.Metrics.MaxDrawdownPct,
		SharpeRatio:     result.Metrics.SharpeRatio,
		TradeCount:      len(result.Trades),
		MetricsJSON:     metricsJSON,
		CreatedAt:       time.Now().UTC(),
	}

	trades := make([]TradeRecord, 0, len(result.Trades))
	for _, trade := range result.Trades {
		trades = append(trades, TradeRecord{
			ID:          trade.ID,
			RunID:       result.RunID,
			Step:        trade.Step,
			Timestamp:   trade.Timestamp,
			Asset:       trade.Asset,
			Side:        string(trade.Side),
			Quantity:    trade.Quantity,
			Price:       trade.Price,
			Notional:    trade.Notional,
			Fee:         trade.Fee,
			RealizedPnL: trade.RealizedPnL,
			Strategy:    trade.Strategy,
			Resized:     trade.Resized,
			Rationale:   trade.Rationale,
		})
	}
	return run, trades, nil
}

// Metrics re-inflates the archived metrics blob.
func (r RunRecord) Metrics() (backtest.Metrics, error) {
	var metrics backtest.Metrics
	if len(r.MetricsJSON) == 0 {
		return metrics, nil
	}
	if err := json.Unmarshal(r.MetricsJSON, &metrics); err != nil {
		return metrics, fmt.Errorf("failed to unmarshal metrics for run %s: %w", r.RunID, err)
	}
	return metrics, nil
}

// FromCycle flattens an agent cycle report into an archive record.
func FromCycle(report agent.CycleReport) CycleRecord {
	return CycleRecord{
		Account:   report.Account,
		Sequence:  report.Sequence,
		StartedAt: report.StartedAt,
		Duration:  report.Duration.Milliseconds(),
		Intents:   report.Intents,
		Approved:  report.Approved,
		Rejected:  report.Rejected,
		Resized:   report.Resized,
		Submitted: report.Submitted,
		Failed:    report.Failed,
		Equity:    report.Equity,
		Cash:      report.Cash,
		Error:     report.Err,
	}
}
