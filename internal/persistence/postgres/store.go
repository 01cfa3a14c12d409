// Package postgres backs the persistence archive with PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/persistence"
)

// Config holds connection settings. Zero timeouts fall back to defaults.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Store implements persistence.Archive on a PostgreSQL database.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ persistence.Archive = (*Store)(nil)

// Open connects, tunes the pool and verifies connectivity.
func Open(config Config) (*Store, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("postgres: DSN is required")
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns < 0 {
		config.MaxIdleConns = 5
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = 30 * time.Minute
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug().Str("component", "postgres").Int("max_open_conns", config.MaxOpenConns).Msg("Archive connected")
	return &Store{db: db, timeout: config.QueryTimeout}, nil
}

// EnsureSchema creates the archive tables when missing. Safe to run on
// every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id UUID PRIMARY KEY,
			account TEXT NOT NULL,
			start_at TIMESTAMPTZ NOT NULL,
			end_at TIMESTAMPTZ NOT NULL,
			steps INT NOT NULL,
			assets TEXT[] NOT NULL DEFAULT '{}',
			strategies TEXT[] NOT NULL DEFAULT '{}',
			starting_capital DOUBLE PRECISION NOT NULL,
			final_equity DOUBLE PRECISION NOT NULL,
			total_return_pct DOUBLE PRECISION NOT NULL,
			max_drawdown_pct DOUBLE PRECISION NOT NULL,
			sharpe_ratio DOUBLE PRECISION NOT NULL,
			trade_count INT NOT NULL,
			metrics JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS runs_account_created_idx ON runs (account, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS run_trades (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			step INT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			asset TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			notional DOUBLE PRECISION NOT NULL,
			fee DOUBLE PRECISION NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL,
			strategy TEXT NOT NULL,
			resized BOOLEAN NOT NULL DEFAULT false,
			rationale TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS run_trades_run_step_idx ON run_trades (run_id, step)`,
		`CREATE TABLE IF NOT EXISTS agent_cycles (
			account TEXT NOT NULL,
			sequence INT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			intents INT NOT NULL,
			approved INT NOT NULL,
			rejected INT NOT NULL,
			resized INT NOT NULL,
			submitted INT NOT NULL,
			failed INT NOT NULL,
			equity DOUBLE PRECISION NOT NULL,
			cash DOUBLE PRECISION NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (account, started_at, sequence)
		)`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun inserts the run header. Re-archiving the same run is a no-op;
// run IDs are deterministic so replays of identical inputs collide here
// on purpose. Save the header before its trades, the ledger references it.
func (s *Store) SaveRun(ctx context.Context, run persistence.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO runs (run_id, account, start_at, end_at, steps, assets, strategies,
			starting_capital, final_equity, total_return_pct, max_drawdown_pct,
			sharpe_ratio, trade_count, metrics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id) DO NOTHING`

	metrics := run.MetricsJSON
	if len(metrics) == 0 {
		metrics = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, query,
		run.RunID, run.Account, run.Start, run.End, run.Steps,
		pq.Array(run.Assets), pq.Array(run.Strategies),
		run.StartingCapital, run.FinalEquity, run.TotalReturnPct, run.MaxDrawdownPct,
		run.SharpeRatio, run.TradeCount, metrics, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
	}
	return nil
}

// SaveTrades inserts the ledger atomically. Deterministic trade IDs make
// re-archiving idempotent.
func (s *Store) SaveTrades(ctx context.Context, trades []persistence.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout*time.Duration(len(trades)/1000+1))
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_trades (id, run_id, step, ts, asset, side, quantity, price,
			notional, fee, realized_pnl, strategy, resized, rationale)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, trade := range trades {
		_, err := stmt.ExecContext(ctx,
			trade.ID, trade.RunID, trade.Step, trade.Timestamp, trade.Asset, trade.Side,
			trade.Quantity, trade.Price, trade.Notional, trade.Fee,
			trade.RealizedPnL, trade.Strategy, trade.Resized, trade.Rationale)
		if err != nil {
			return fmt.Errorf("failed to insert trade %s: %w", trade.ID, err)
		}
	}
	return tx.Commit()
}

// Run fetches one run header; nil when unknown.
func (s *Store) Run(ctx context.Context, runID string) (*persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT run_id, account, start_at, end_at, steps, assets, strategies,
			starting_capital, final_equity, total_return_pct, max_drawdown_pct,
			sharpe_ratio, trade_count, metrics, created_at
		FROM runs
		WHERE run_id = $1`

	run, err := scanRun(s.db.QueryRowxContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns the newest runs, newest first. Empty account means all.
func (s *Store) ListRuns(ctx context.Context, account string, limit int) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT run_id, account, start_at, end_at, steps, assets, strategies,
			starting_capital, final_equity, total_return_pct, max_drawdown_pct,
			sharpe_ratio, trade_count, metrics, created_at
		FROM runs
		WHERE $1 = '' OR account = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryxContext(ctx, query, account, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []persistence.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// TradesByRun returns a run's ledger in step order.
func (s *Store) TradesByRun(ctx context.Context, runID string) ([]persistence.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, step, ts, asset, side, quantity, price,
			notional, fee, realized_pnl, strategy, resized, rationale
		FROM run_trades
		WHERE run_id = $1
		ORDER BY step, id`

	var trades []persistence.TradeRecord
	if err := s.db.SelectContext(ctx, &trades, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list trades for run %s: %w", runID, err)
	}
	return trades, nil
}

// SaveCycle archives one agent cycle. The same (account, start, sequence)
// arriving twice means two agents share an account; that surfaces as a
// duplicate error rather than silent overwrite.
func (s *Store) SaveCycle(ctx context.Context, cycle persistence.CycleRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO agent_cycles (account, sequence, started_at, duration_ms,
			intents, approved, rejected, resized, submitted, failed, equity, cash, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.db.ExecContext(ctx, query,
		cycle.Account, cycle.Sequence, cycle.StartedAt, cycle.Duration,
		cycle.Intents, cycle.Approved, cycle.Rejected, cycle.Resized,
		cycle.Submitted, cycle.Failed, cycle.Equity, cycle.Cash, cycle.Error)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate cycle %d for account %s: %w", cycle.Sequence, cycle.Account, err)
		}
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// RecentCycles returns the newest cycles for an account, newest first.
func (s *Store) RecentCycles(ctx context.Context, account string, limit int) ([]persistence.CycleRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT account, sequence, started_at, duration_ms,
			intents, approved, rejected, resized, submitted, failed, equity, cash, error
		FROM agent_cycles
		WHERE account = $1
		ORDER BY started_at DESC, sequence DESC
		LIMIT $2`

	var cycles []persistence.CycleRecord
	if err := s.db.SelectContext(ctx, &cycles, query, account, limit); err != nil {
		return nil, fmt.Errorf("failed to list cycles for %s: %w", account, err)
	}
	return cycles, nil
}

// Ping verifies connectivity within the query timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Stats exposes connection pool counters for the status endpoint.
func (s *Store) Stats() map[string]int64 {
	stats := s.db.Stats()
	return map[string]int64{
		"max_open":         int64(stats.MaxOpenConnections),
		"open":             int64(stats.OpenConnections),
		"in_use":           int64(stats.InUse),
		"idle":             int64(stats.Idle),
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// scanRow covers both *sqlx.Row and *sqlx.Rows.
type scanRow interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanRow) (*persistence.RunRecord, error) {
	var run persistence.RunRecord
	var assets, strategies pq.StringArray

	err := row.Scan(
		&run.RunID, &run.Account, &run.Start, &run.End, &run.Steps,
		&assets, &strategies,
		&run.StartingCapital, &run.FinalEquity, &run.TotalReturnPct, &run.MaxDrawdownPct,
		&run.SharpeRatio, &run.TradeCount, &run.MetricsJSON, &run.CreatedAt)
	if err != nil {
		return nil, err
	}

	run.Assets = []string(assets)
	run.Strategies = []string(strategies)
	return &run, nil
}
