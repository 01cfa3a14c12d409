package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sentigrade/sentigrade/internal/config"
	httpserver "github.com/sentigrade/sentigrade/internal/interfaces/http"
	"github.com/sentigrade/sentigrade/internal/persistence/postgres"
)

const (
	appName = "sentigrade"
	version = "v1.0.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Composite-signal crypto trading: backtests, Monte Carlo simulation and a paper trading agent",
		Version: version,
		Long: `Sentigrade aggregates market indicators into one composite score per asset
and trades it through pluggable strategies behind a hard risk gate.

The same strategy and risk code runs in three modes:

  backtest   replay historical candles with simulated fills
  simulate   Monte Carlo over perturbed histories for robustness bands
  agent      live-data paper trading loop with a monitoring server

Configuration loads from config/config.yaml (override with --config);
every run works without a file using built-in defaults.`,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "config/config.yaml", "Path to YAML config file")

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay strategies over historical candles",
		Long:  "Runs the configured strategies over CSV candle history with simulated fees and slippage, writing results, a trade ledger and a report",
		RunE:  runBacktest,
	}
	backtestCmd.Flags().String("data", "", "Candle directory (default from config)")
	backtestCmd.Flags().StringSlice("assets", nil, "Restrict the run to these assets")
	backtestCmd.Flags().StringSlice("strategies", nil, "Override the enabled strategy set")
	backtestCmd.Flags().Float64("capital", 0, "Override starting capital")
	backtestCmd.Flags().String("output", "", "Artifact directory (default from config)")
	backtestCmd.Flags().Bool("archive", true, "Archive the run to Postgres when configured")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Monte Carlo robustness batch",
		Long:  "Replays the backtest many times over perturbed price histories and reduces the outcomes to percentile bands",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().String("data", "", "Candle directory (default from config)")
	simulateCmd.Flags().Int("runs", 0, "Override number of perturbed runs")
	simulateCmd.Flags().Int64("seed", -1, "Override master seed (-1 keeps config)")
	simulateCmd.Flags().Int("workers", 0, "Override worker count (0 keeps config)")
	simulateCmd.Flags().String("output", "", "Summary directory (default from config)")

	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the trading agent loop",
		Long:  "Fetches live Kraken market data and the Fear & Greed index each cycle, evaluates strategies, gates intents through risk and fills on the paper exchange. Serves the monitoring API while running",
		RunE:  runAgent,
	}
	agentCmd.Flags().String("mode", "", "Trading mode (paper|live), default from config")
	agentCmd.Flags().Bool("once", false, "Run exactly one cycle and exit")
	agentCmd.Flags().Bool("warm", true, "Seed strategy history from Kraken OHLC before the first cycle")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve the monitoring API standalone",
		Long:  "Starts the read-only monitoring server over the archive without a trading loop: /health, /status, /runs, /cycles, /metrics and /ws/cycles",
		RunE:  runMonitor,
	}
	monitorCmd.Flags().String("addr", "", "Listen address (default from config)")

	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(monitorCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig resolves the config for a command run and applies the logging
// setup it declares. A --config given explicitly must exist; the default
// path is optional.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return nil, err
	}

	setupLogging(cfg.Log)
	return cfg, nil
}

// setupLogging configures the global zerolog logger. Format "auto" picks
// the console writer on a TTY and JSON otherwise, so piped output stays
// machine-readable.
func setupLogging(cfg config.Log) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	format := cfg.Format
	if format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "console"
		}
	}
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func postgresConfig(p config.Postgres) postgres.Config {
	return postgres.Config{
		DSN:             p.DSN,
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
		QueryTimeout:    p.QueryTimeout,
	}
}

func serverConfig(s config.Server) httpserver.Config {
	cfg := httpserver.DefaultConfig()
	if s.Addr != "" {
		cfg.Addr = s.Addr
	}
	if s.ReadTimeout > 0 {
		cfg.ReadTimeout = s.ReadTimeout
	}
	if s.WriteTimeout > 0 {
		cfg.WriteTimeout = s.WriteTimeout
	}
	if s.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = s.ShutdownTimeout
	}
	return cfg
}
