// Package exchange is the order-execution boundary. The backtest engine
// and the paper exchange share one CostModel so a simulated fill costs the
// same whether it happens in replay or in a paper cycle; live exchanges
// implement the same interface over a real API.
package exchange

import (
	"context"
	"fmt"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// Exchange is the consumed order interface. Implementations report what
// actually filled; callers reconcile their portfolio from the returned
// fill, never from the order they sent.
type Exchange interface {
	SubmitOrder(ctx context.Context, asset string, side portfolio.Side, quantity float64) (portfolio.Fill, error)
	Balances(ctx context.Context) (map[string]float64, error)
}

// Error wraps an exchange submission failure. Submissions are logged and
// retried next cycle, never silently dropped.
type Error struct {
	Op    string
	Asset string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange %s %s: %v", e.Op, e.Asset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
