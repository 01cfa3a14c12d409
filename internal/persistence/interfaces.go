// Package persistence archives completed work (backtest runs, their trade
// ledgers, agent cycles) for querying after the process that produced them
// is gone. Stores are optional: callers treat a nil store as "archive off".
package persistence

import (
	"context"
	"time"
)

// RunRecord is one archived backtest run. Metrics ride along as JSON so
// the schema does not chase the metrics struct.
type RunRecord struct {
	RunID           string    `json:"run_id" db:"run_id"`
	Account         string    `json:"account" db:"account"`
	Start           time.Time `json:"start" db:"start_at"`
	End             time.Time `json:"end" db:"end_at"`
	Steps           int       `json:"steps" db:"steps"`
	Assets          []string  `json:"assets" db:"-"`
	Strategies      []string  `json:"strategies" db:"-"`
	StartingCapital float64   `json:"starting_capital" db:"starting_capital"`
	FinalEquity     float64   `json:"final_equity" db:"final_equity"`
	TotalReturnPct  float64   `json:"total_return_pct" db:"total_return_pct"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct" db:"max_drawdown_pct"`
	SharpeRatio     float64   `json:"sharpe_ratio" db:"sharpe_ratio"`
	TradeCount      int       `json:"trade_count" db:"trade_count"`
	MetricsJSON     []byte    `json:"-" db:"metrics"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// TradeRecord is one archived ledger entry of a run.
type TradeRecord struct {
	ID          string    `json:"id" db:"id"`
	RunID       string    `json:"run_id" db:"run_id"`
	Step        int       `json:"step" db:"step"`
	Timestamp   time.Time `json:"timestamp" db:"ts"`
	Asset       string    `json:"asset" db:"asset"`
	Side        string    `json:"side" db:"side"`
	Quantity    float64   `json:"quantity" db:"quantity"`
	Price       float64   `json:"price" db:"price"`
	Notional    float64   `json:"notional" db:"notional"`
	Fee         float64   `json:"fee" db:"fee"`
	RealizedPnL float64   `json:"realized_pnl" db:"realized_pnl"`
	Strategy    string    `json:"strategy" db:"strategy"`
	Resized     bool      `json:"resized" db:"resized"`
	Rationale   string    `json:"rationale" db:"rationale"`
}

// CycleRecord is one archived agent cycle, abandoned ones included.
type CycleRecord struct {
	Account   string    `json:"account" db:"account"`
	Sequence  int       `json:"sequence" db:"sequence"`
	StartedAt time.Time `json:"started_at" db:"started_at"`
	Duration  int64     `json:"duration_ms" db:"duration_ms"`
	Intents   int       `json:"intents" db:"intents"`
	Approved  int       `json:"approved" db:"approved"`
	Rejected  int       `json:"rejected" db:"rejected"`
	Resized   int       `json:"resized" db:"resized"`
	Submitted int       `json:"submitted" db:"submitted"`
	Failed    int       `json:"failed" db:"failed"`
	Equity    float64   `json:"equity" db:"equity"`
	Cash      float64   `json:"cash" db:"cash"`
	Error     string    `json:"error,omitempty" db:"error"`
}

// RunStore archives backtest runs and their ledgers.
type RunStore interface {
	// SaveRun inserts the run header. Saving the same run twice is not an
	// error; the first write wins.
	SaveRun(ctx context.Context, run RunRecord) error

	// SaveTrades inserts the run's ledger atomically.
	SaveTrades(ctx context.Context, trades []TradeRecord) error

	// Run fetches one run header; nil when unknown.
	Run(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns the newest runs for an account, newest first.
	// Empty account means all accounts.
	ListRuns(ctx context.Context, account string, limit int) ([]RunRecord, error)

	// TradesByRun returns a run's ledger in step order.
	TradesByRun(ctx context.Context, runID string) ([]TradeRecord, error)
}

// CycleStore archives agent cycle reports.
type CycleStore interface {
	SaveCycle(ctx context.Context, cycle CycleRecord) error

	// RecentCycles returns the newest cycles for an account, newest first.
	RecentCycles(ctx context.Context, account string, limit int) ([]CycleRecord, error)
}

// Archive bundles both stores behind one connection.
type Archive interface {
	RunStore
	CycleStore
	Ping(ctx context.Context) error
	Close() error
}
