package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sentigrade/sentigrade/internal/backtest"
	"github.com/sentigrade/sentigrade/internal/config"
	"github.com/sentigrade/sentigrade/internal/market"
	"github.com/sentigrade/sentigrade/internal/persistence"
	"github.com/sentigrade/sentigrade/internal/persistence/postgres"
	"github.com/sentigrade/sentigrade/internal/strategy"
)

// runBacktest replays the configured strategies over on-disk candle
// history and publishes artifacts plus, when configured, an archive row.
func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dataDir, _ := cmd.Flags().GetString("data")
	if dataDir == "" {
		dataDir = cfg.Data.CandleDir
	}
	outputDir, _ := cmd.Flags().GetString("output")
	if outputDir == "" {
		outputDir = cfg.Backtest.OutputDir
	}
	if capital, _ := cmd.Flags().GetFloat64("capital"); capital > 0 {
		cfg.Backtest.StartingCapital = capital
	}
	archive, _ := cmd.Flags().GetBool("archive")

	history, err := market.LoadDir(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load candles: %w", err)
	}
	if assets, _ := cmd.Flags().GetStringSlice("assets"); len(assets) > 0 {
		history, err = filterHistory(history, assets)
		if err != nil {
			return err
		}
	}

	strategies, err := buildStrategies(cmd, cfg)
	if err != nil {
		return err
	}

	engine, err := backtest.New(cfg.EngineConfig())
	if err != nil {
		return err
	}

	ctx, stop := signalContext(context.Background())
	defer stop()

	fmt.Printf("🔍 Backtesting %d assets over %s candles...\n\n",
		len(history), dataDir)

	result, err := engine.Run(ctx, strategies, history)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	writer := backtest.NewWriter(outputDir, result)
	paths, err := writer.WriteAll(result)
	if err != nil {
		return fmt.Errorf("failed to write artifacts: %w", err)
	}

	if archive && cfg.Postgres.Enabled() {
		if err := archiveResult(ctx, cfg, result); err != nil {
			log.Warn().Err(err).Msg("Archive failed, artifacts are on disk")
		}
	}

	m := result.Metrics
	fmt.Printf("✅ Backtest complete: run %.8s\n\n", result.RunID)
	fmt.Printf("📊 Performance:\n")
	fmt.Printf("   • Return: %.2f%% ($%.2f → $%.2f)\n",
		m.TotalReturnPct, result.StartingCapital, result.FinalEquity)
	fmt.Printf("   • CAGR: %.2f%%   Benchmark: %.2f%%   Alpha: %.2f%%\n",
		m.CAGRPct, m.BenchmarkReturnPct, m.AlphaPct)
	fmt.Printf("   • Max Drawdown: %.2f%%   Volatility: %.2f%%   VaR(%.0f%%): %.2f%%\n",
		m.MaxDrawdownPct, m.AnnualizedVolPct, m.VaRConfidence*100, m.VaRPct)
	fmt.Printf("   • Sharpe: %.2f   Sortino: %.2f   Calmar: %.2f\n",
		m.SharpeRatio, m.SortinoRatio, m.CalmarRatio)
	fmt.Printf("   • Trades: %d (win rate %.1f%%, profit factor %.2f)\n",
		m.TradeCount, m.WinRatePct, m.ProfitFactor)
	fmt.Printf("\n📁 Artifacts:\n")
	fmt.Printf("   • Results: %s\n", paths.ResultsJSON)
	fmt.Printf("   • Ledger: %s\n", paths.LedgerCSV)
	fmt.Printf("   • Report: %s\n", paths.ReportMD)

	return nil
}

// buildStrategies honors a --strategies override, falling back to the
// configured enabled set.
func buildStrategies(cmd *cobra.Command, cfg *config.Config) ([]strategy.Strategy, error) {
	if names, _ := cmd.Flags().GetStringSlice("strategies"); len(names) > 0 {
		return strategy.Build(names, cfg.Strategies.Params)
	}
	return cfg.Strategies.Build()
}

// filterHistory narrows a loaded history to the requested assets. Asking
// for an asset with no series is an error, not a silent skip.
func filterHistory(history market.History, assets []string) (market.History, error) {
	filtered := make(market.History, len(assets))
	for _, asset := range assets {
		asset = strings.ToUpper(strings.TrimSpace(asset))
		series, ok := history[asset]
		if !ok {
			return nil, fmt.Errorf("no candle series for asset %s (have: %s)",
				asset, strings.Join(history.Assets(), ", "))
		}
		filtered[asset] = series
	}
	return filtered, nil
}

// archiveResult stores the run and its ledger in Postgres.
func archiveResult(ctx context.Context, cfg *config.Config, result *backtest.Result) error {
	store, err := postgres.Open(postgresConfig(cfg.Postgres))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	run, trades, err := persistence.FromResult(result)
	if err != nil {
		return err
	}
	if err := store.SaveRun(ctx, run); err != nil {
		return err
	}
	if err := store.SaveTrades(ctx, trades); err != nil {
		return err
	}

	log.Info().Str("run_id", result.RunID).Int("trades", len(trades)).Msg("Run archived")
	return nil
}
