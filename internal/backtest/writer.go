package backtest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	atomicio "github.com/sentigrade/sentigrade/internal/io"
)

// Writer publishes run artifacts under <base>/<end-date>/<run-id-prefix>/:
// results.json (the full Result), ledger.csv (one row per trade) and
// report.md. Directory naming derives from the run, not the wall clock, so
// re-running the same inputs lands in the same place.
type Writer struct {
	outputDir string
}

// NewWriter builds a writer rooted at baseDir for the given run.
func NewWriter(baseDir string, result *Result) *Writer {
	runDir := result.RunID
	if len(runDir) > 8 {
		runDir = runDir[:8]
	}
	return &Writer{
		outputDir: filepath.Join(baseDir, result.End.UTC().Format("2006-01-02"), runDir),
	}
}

// OutputDir returns the directory artifacts land in.
func (w *Writer) OutputDir() string {
	return w.outputDir
}

// ArtifactPaths names every file a complete WriteAll produces.
type ArtifactPaths struct {
	ResultsJSON string
	LedgerCSV   string
	ReportMD    string
	OutputDir   string
}

func (w *Writer) Paths() ArtifactPaths {
	return ArtifactPaths{
		ResultsJSON: filepath.Join(w.outputDir, "results.json"),
		LedgerCSV:   filepath.Join(w.outputDir, "ledger.csv"),
		ReportMD:    filepath.Join(w.outputDir, "report.md"),
		OutputDir:   w.outputDir,
	}
}

// WriteAll publishes every artifact for the run.
func (w *Writer) WriteAll(result *Result) (ArtifactPaths, error) {
	if err := w.WriteResult(result); err != nil {
		return ArtifactPaths{}, err
	}
	if err := w.WriteLedger(result); err != nil {
		return ArtifactPaths{}, err
	}
	if err := w.WriteReport(result); err != nil {
		return ArtifactPaths{}, err
	}
	return w.Paths(), nil
}

// WriteResult publishes the full result as indented JSON.
func (w *Writer) WriteResult(result *Result) error {
	path := filepath.Join(w.outputDir, "results.json")
	if err := atomicio.WriteJSONAtomic(path, result); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// WriteLedger publishes the trade ledger as CSV. Floats are written at
// full precision so the ledger round-trips.
func (w *Writer) WriteLedger(result *Result) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{
		"id", "step", "timestamp", "asset", "side", "quantity", "price",
		"notional", "fee", "realized_pnl", "strategy", "resized", "rationale",
	}); err != nil {
		return fmt.Errorf("failed to write ledger header: %w", err)
	}
	for _, trade := range result.Trades {
		record := []string{
			trade.ID,
			strconv.Itoa(trade.Step),
			trade.Timestamp.UTC().Format(time.RFC3339),
			trade.Asset,
			string(trade.Side),
			formatFloat(trade.Quantity),
			formatFloat(trade.Price),
			formatFloat(trade.Notional),
			formatFloat(trade.Fee),
			formatFloat(trade.RealizedPnL),
			trade.Strategy,
			strconv.FormatBool(trade.Resized),
			trade.Rationale,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write ledger row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush ledger: %w", err)
	}

	path := filepath.Join(w.outputDir, "ledger.csv")
	if err := atomicio.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}

// WriteReport publishes a markdown summary of the run.
func (w *Writer) WriteReport(result *Result) error {
	path := filepath.Join(w.outputDir, "report.md")
	if err := atomicio.WriteFileAtomic(path, []byte(w.generateReport(result))); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (w *Writer) generateReport(result *Result) string {
	var report strings.Builder
	m := result.Metrics

	report.WriteString("# Backtest Report\n\n")
	report.WriteString(fmt.Sprintf("**Run**: `%s`\n", result.RunID))
	report.WriteString(fmt.Sprintf("**Account**: %s\n", result.Account))
	report.WriteString(fmt.Sprintf("**Window**: %s to %s (%d steps)\n",
		result.Start.UTC().Format("2006-01-02"), result.End.UTC().Format("2006-01-02"), result.Steps))
	report.WriteString(fmt.Sprintf("**Assets**: %s\n", strings.Join(result.Assets, ", ")))
	report.WriteString(fmt.Sprintf("**Strategies**: %s\n\n", strings.Join(result.Strategies, ", ")))

	report.WriteString("## Performance\n\n")
	report.WriteString("| Metric | Value |\n")
	report.WriteString("|--------|------:|\n")
	report.WriteString(fmt.Sprintf("| Starting Capital | $%.2f |\n", result.StartingCapital))
	report.WriteString(fmt.Sprintf("| Final Equity | $%.2f |\n", result.FinalEquity))
	report.WriteString(fmt.Sprintf("| Total Return | %.2f%% |\n", m.TotalReturnPct))
	report.WriteString(fmt.Sprintf("| CAGR | %.2f%% |\n", m.CAGRPct))
	report.WriteString(fmt.Sprintf("| Benchmark Return | %.2f%% |\n", m.BenchmarkReturnPct))
	report.WriteString(fmt.Sprintf("| Alpha | %.2f%% |\n", m.AlphaPct))
	report.WriteString(fmt.Sprintf("| Annualized Volatility | %.2f%% |\n", m.AnnualizedVolPct))
	report.WriteString(fmt.Sprintf("| Max Drawdown | %.2f%% |\n", m.MaxDrawdownPct))
	report.WriteString(fmt.Sprintf("| VaR (%.0f%%) | %.2f%% |\n", m.VaRConfidence*100, m.VaRPct))
	report.WriteString(fmt.Sprintf("| Sharpe | %.2f |\n", m.SharpeRatio))
	report.WriteString(fmt.Sprintf("| Sortino | %.2f |\n", m.SortinoRatio))
	report.WriteString(fmt.Sprintf("| Calmar | %.2f |\n\n", m.CalmarRatio))

	report.WriteString("## Trading\n\n")
	report.WriteString(fmt.Sprintf("- **Trades**: %d (%d closing)\n", m.TradeCount, m.ClosedTradeCount))
	report.WriteString(fmt.Sprintf("- **Win Rate**: %.1f%%\n", m.WinRatePct))
	report.WriteString(fmt.Sprintf("- **Profit Factor**: %.2f\n", m.ProfitFactor))
	report.WriteString(fmt.Sprintf("- **Avg Trade Return**: %.2f%%\n\n", m.AvgTradeReturnPct))

	if len(result.FinalPositions) > 0 {
		report.WriteString("## Final Positions\n\n")
		report.WriteString("| Asset | Quantity | Cost Basis |\n")
		report.WriteString("|-------|---------:|-----------:|\n")
		for _, position := range result.FinalPositions {
			report.WriteString(fmt.Sprintf("| %s | %s | $%.2f |\n",
				position.Asset, formatFloat(position.Quantity), position.CostBasis))
		}
		report.WriteString("\n")
	}
	report.WriteString(fmt.Sprintf("Final cash: $%.2f\n\n", result.FinalCash))

	paths := w.Paths()
	report.WriteString("## Artifacts\n\n")
	report.WriteString(fmt.Sprintf("- **Results JSON**: `%s`\n", paths.ResultsJSON))
	report.WriteString(fmt.Sprintf("- **Trade Ledger**: `%s`\n", paths.LedgerCSV))
	report.WriteString(fmt.Sprintf("- **Report**: `%s`\n", paths.ReportMD))

	return report.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
