package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpserver "github.com/sentigrade/sentigrade/internal/interfaces/http"
	"github.com/sentigrade/sentigrade/internal/persistence"
	"github.com/sentigrade/sentigrade/internal/persistence/postgres"
)

// runMonitor serves the monitoring API without a trading loop, so
// archived runs and cycles stay inspectable when no agent is running.
func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	var archive persistence.Archive
	if cfg.Postgres.Enabled() {
		store, err := postgres.Open(postgresConfig(cfg.Postgres))
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer store.Close()
		archive = store
	} else {
		log.Warn().Msg("No archive configured, /runs and /cycles will report archive disabled")
	}

	server := httpserver.New(serverConfig(cfg.Server), httpserver.Deps{
		Metrics: httpserver.NewMetrics(),
		Hub:     httpserver.NewHub(),
		Archive: archive,
		Account: cfg.Agent.Account,
		Mode:    "monitor",
		Version: version,
	})

	base := displayAddr(cfg.Server.Addr)
	log.Info().
		Str("health", fmt.Sprintf("http://%s/health", base)).
		Str("status", fmt.Sprintf("http://%s/status", base)).
		Str("runs", fmt.Sprintf("http://%s/runs", base)).
		Str("cycles", fmt.Sprintf("http://%s/cycles", base)).
		Str("metrics", fmt.Sprintf("http://%s/metrics", base)).
		Str("ws", fmt.Sprintf("ws://%s/ws/cycles", base)).
		Msg("Monitor endpoints available")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
		cancel()
		if err := <-serverErr; err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("Monitor shutdown complete")
	return nil
}

// displayAddr turns a bind address like ":8080" into something clickable.
func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
