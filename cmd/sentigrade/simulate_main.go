package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sentigrade/sentigrade/internal/market"
	"github.com/sentigrade/sentigrade/internal/montecarlo"
)

// runSimulate executes a Monte Carlo batch over perturbed histories and
// writes the percentile summary.
func runSimulate(cmd *cobra.Command, args []string) error {
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
		outputDir = cfg.MonteCarlo.OutputDir
	}

	simCfg := cfg.SimulatorConfig()
	if runs, _ := cmd.Flags().GetInt("runs"); runs > 0 {
		simCfg.Runs = runs
	}
	if seed, _ := cmd.Flags().GetInt64("seed"); seed >= 0 {
		simCfg.Seed = seed
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		simCfg.Workers = workers
	}

	history, err := market.LoadDir(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load candles: %w", err)
	}

	simulator, err := montecarlo.NewSimulator(simCfg, cfg.Strategies.Factory())
	if err != nil {
		return err
	}

	ctx, stop := signalContext(context.Background())
	defer stop()

	fmt.Printf("🎲 Simulating %d perturbed runs (seed %d, %d workers)...\n\n",
		simCfg.Runs, simCfg.Seed, simCfg.Workers)

	summary, err := simulator.Run(ctx, history)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	outPath := filepath.Join(outputDir, fmt.Sprintf("summary_seed%d_runs%d.json", summary.Seed, summary.Runs))
	if err := summary.WriteJSON(outPath); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	fmt.Printf("✅ Simulation complete: %d runs\n\n", summary.Runs)
	fmt.Printf("📊 Distribution (P05 / P50 / P95):\n")
	fmt.Printf("   • Total Return: %.2f%% / %.2f%% / %.2f%%\n",
		summary.TotalReturnPct.P05, summary.TotalReturnPct.P50, summary.TotalReturnPct.P95)
	fmt.Printf("   • CAGR: %.2f%% / %.2f%% / %.2f%%\n",
		summary.CAGRPct.P05, summary.CAGRPct.P50, summary.CAGRPct.P95)
	fmt.Printf("   • Max Drawdown: %.2f%% / %.2f%% / %.2f%%\n",
		summary.MaxDrawdownPct.P05, summary.MaxDrawdownPct.P50, summary.MaxDrawdownPct.P95)
	fmt.Printf("   • Volatility: %.2f%% / %.2f%% / %.2f%%\n",
		summary.AnnualizedVolPct.P05, summary.AnnualizedVolPct.P50, summary.AnnualizedVolPct.P95)
	fmt.Printf("   • Sharpe: %.2f / %.2f / %.2f\n",
		summary.SharpeRatio.P05, summary.SharpeRatio.P50, summary.SharpeRatio.P95)
	fmt.Printf("\n🎯 Probabilities:\n")
	fmt.Printf("   • Positive return: %.1f%%\n", summary.ProbPositive*100)
	fmt.Printf("   • Drawdown breach (>%.0f%%): %.1f%%\n",
		summary.DrawdownLimitPct, summary.ProbBreach*100)
	fmt.Printf("\n📁 Summary: %s\n", outPath)

	return nil
}
