package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sentigrade/sentigrade/internal/agent"
	"github.com/sentigrade/sentigrade/internal/exchange"
	"github.com/sentigrade/sentigrade/internal/guard"
	httpserver "github.com/sentigrade/sentigrade/internal/interfaces/http"
	"github.com/sentigrade/sentigrade/internal/marketdata"
	"github.com/sentigrade/sentigrade/internal/persistence"
	"github.com/sentigrade/sentigrade/internal/persistence/postgres"
)

// runAgent wires live Kraken market data, the paper exchange, and the
// monitoring server around the trading agent and keeps it cycling until
// interrupted.
func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	mode := cfg.Agent.Mode
	if flagMode, _ := cmd.Flags().GetString("mode"); flagMode != "" {
		mode = flagMode
	}
	switch mode {
	case "paper":
	case "live":
		return fmt.Errorf("live mode needs an authenticated exchange adapter and none is built in; run with --mode paper")
	default:
		return fmt.Errorf("unknown mode %q (want paper or live)", mode)
	}
	once, _ := cmd.Flags().GetBool("once")
	warm, _ := cmd.Flags().GetBool("warm")

	guards := guard.NewRegistry(cfg.Guards)
	kraken := marketdata.NewClient(marketdata.DefaultConfig(), guards)
	fng := marketdata.NewFearGreed(marketdata.FearGreedConfig{}, guards, 1)

	paper, err := exchange.NewPaper(cfg.Costs, func(asset string) (float64, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ticker, err := kraken.Ticker(ctx, asset)
		if err != nil {
			return 0, false
		}
		return ticker.Last, true
	}, nil)
	if err != nil {
		return fmt.Errorf("paper exchange: %w", err)
	}

	strategies, err := cfg.Strategies.Build()
	if err != nil {
		return fmt.Errorf("failed to build strategies: %w", err)
	}

	var store agent.StateStore
	if cfg.Redis.Enabled() {
		redisStore := agent.NewRedisStore(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.TTL)
		defer redisStore.Close()
		store = redisStore
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Checkpointing cycles to Redis")
	}

	trader, err := agent.New(cfg.AgentConfig(), agent.Deps{
		Sources:    marketdata.LiveSources(kraken, fng),
		Guards:     guards,
		Exchange:   paper,
		Prices:     kraken.Prices,
		Strategies: strategies,
		Store:      store,
	})
	if err != nil {
		return err
	}

	var archive persistence.Archive
	if cfg.Postgres.Enabled() {
		pgStore, err := postgres.Open(postgresConfig(cfg.Postgres))
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer pgStore.Close()
		schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = pgStore.EnsureSchema(schemaCtx)
		schemaCancel()
		if err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
		archive = pgStore
		trader.AddObserver(persistence.NewCycleArchiver(pgStore))
		log.Info().Msg("Archiving cycles to Postgres")
	}

	metrics := httpserver.NewMetrics()
	hub := httpserver.NewHub()
	server := httpserver.New(serverConfig(cfg.Server), httpserver.Deps{
		Metrics:   metrics,
		Hub:       hub,
		Archive:   archive,
		Portfolio: trader.Portfolio,
		Account:   cfg.Agent.Account,
		Mode:      mode,
		Version:   version,
	})
	trader.AddObserver(metrics)
	trader.AddObserver(hub)
	trader.AddObserver(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if warm {
		warmCtx, warmCancel := context.WithTimeout(ctx, time.Minute)
		history, err := kraken.History(warmCtx, cfg.Agent.Assets, cfg.Agent.CycleInterval, cfg.Agent.HistoryBars)
		warmCancel()
		if err != nil {
			log.Warn().Err(err).Msg("Warm-up fetch failed, starting with empty history")
		} else {
			trader.Warm(history)
		}
	}

	if once {
		report, err := trader.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("cycle failed: %w", err)
		}
		fmt.Printf("✅ Cycle %d complete: %d intents, %d approved, %d submitted, equity $%.2f\n",
			report.Sequence, report.Intents, report.Approved, report.Submitted, report.Equity)
		return nil
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(ctx)
	}()
	agentErr := make(chan error, 1)
	go func() {
		agentErr <- trader.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
		cancel()
		<-agentErr
		<-serverErr
	case err := <-serverErr:
		cancel()
		<-agentErr
		if err != nil {
			return fmt.Errorf("monitoring server: %w", err)
		}
	case err := <-agentErr:
		cancel()
		<-serverErr
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("agent stopped: %w", err)
		}
	}

	log.Info().Msg("Agent shutdown complete")
	return nil
}
