package backtest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// Trade is one ledger entry: an executed simulated fill plus the decision
// context it came from. RealizedPnL is non-zero only on sells.
type Trade struct {
	ID          string         `json:"id"`
	Step        int            `json:"step"`
	Timestamp   time.Time      `json:"timestamp"`
	Asset       string         `json:"asset"`
	Side        portfolio.Side `json:"side"`
	Quantity    float64        `json:"quantity"`
	Price       float64        `json:"price"`
	Notional    float64        `json:"notional"`
	Fee         float64        `json:"fee"`
	RealizedPnL float64        `json:"realized_pnl"`
	Strategy    string         `json:"strategy"`
	Rationale   string         `json:"rationale"`
	Resized     bool           `json:"resized,omitempty"`
}

// Result is the frozen outcome of one replay: ledger, curve and metrics.
// Identical inputs produce a byte-identical Result, which is what makes
// strategy comparison and Monte Carlo aggregation trustworthy.
type Result struct {
	RunID           string                  `json:"run_id"`
	Account         string                  `json:"account"`
	Start           time.Time               `json:"start"`
	End             time.Time               `json:"end"`
	Steps           int                     `json:"steps"`
	Assets          []string                `json:"assets"`
	Strategies      []string                `json:"strategies"`
	StartingCapital float64                 `json:"starting_capital"`
	FinalEquity     float64                 `json:"final_equity"`
	FinalCash       float64                 `json:"final_cash"`
	FinalPositions  []portfolio.Position    `json:"final_positions"`
	Trades          []Trade                 `json:"trades"`
	EquityCurve     []portfolio.EquityPoint `json:"equity_curve"`
	Metrics         Metrics                 `json:"metrics"`
}

// runNamespace scopes deterministic run and trade IDs.
var runNamespace = uuid.MustParse("7b1c3f6e-9a22-5e47-8c05-2d8f14c0a9b1")

// newRunID derives the run identity from the run's inputs, so re-running
// the same backtest yields the same ID.
func newRunID(fingerprint string) string {
	return uuid.NewSHA1(runNamespace, []byte(fingerprint)).String()
}

// newTradeID derives a stable per-trade ID from the run and the trade's
// position in the ledger.
func newTradeID(runID string, step, seq int) string {
	return uuid.NewSHA1(runNamespace, []byte(fmt.Sprintf("%s/%d/%d", runID, step, seq))).String()
}
