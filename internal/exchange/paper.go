package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// PriceFunc resolves the current reference price for an asset. The agent
// wires it to its latest marks; tests wire it to fixtures.
type PriceFunc func(asset string) (float64, bool)

// Paper simulates an exchange account: orders fill immediately at the
// reference price adjusted by the cost model, and the account tracks the
// quantities it has filled. Safe for concurrent use.
type Paper struct {
	costs  CostModel
	prices PriceFunc
	clock  func() time.Time
	logger zerolog.Logger

	mu       sync.Mutex
	balances map[string]float64
}

// NewPaper builds a paper exchange over the given price feed. clock is for
// fill timestamps; nil means wall clock.
func NewPaper(costs CostModel, prices PriceFunc, clock func() time.Time) (*Paper, error) {
	if err := costs.Validate(); err != nil {
		return nil, err
	}
	if prices == nil {
		return nil, fmt.Errorf("paper exchange: price feed is required")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Paper{
		costs:    costs,
		prices:   prices,
		clock:    clock,
		logger:   log.With().Str("component", "paper_exchange").Logger(),
		balances: make(map[string]float64),
	}, nil
}

// SubmitOrder fills the full quantity at the cost-model price. An unknown
// asset is an Error the caller retries next cycle.
func (p *Paper) SubmitOrder(ctx context.Context, asset string, side portfolio.Side, quantity float64) (portfolio.Fill, error) {
	if err := ctx.Err(); err != nil {
		return portfolio.Fill{}, &Error{Op: "submit", Asset: asset, Err: err}
	}
	if !side.Valid() || quantity <= 0 {
		return portfolio.Fill{}, &Error{Op: "submit", Asset: asset, Err: fmt.Errorf("invalid order: side %q quantity %f", side, quantity)}
	}

	price, ok := p.prices(asset)
	if !ok || price <= 0 {
		return portfolio.Fill{}, &Error{Op: "submit", Asset: asset, Err: fmt.Errorf("no reference price")}
	}

	fill := p.costs.Fill(asset, side, quantity, price, p.clock())

	p.mu.Lock()
	switch side {
	case portfolio.SideBuy:
		p.balances[asset] += quantity
	case portfolio.SideSell:
		if p.balances[asset] < quantity {
			p.mu.Unlock()
			return portfolio.Fill{}, &Error{Op: "submit", Asset: asset,
				Err: fmt.Errorf("selling %.8f exceeds balance %.8f", quantity, p.balances[asset])}
		}
		p.balances[asset] -= quantity
	}
	p.mu.Unlock()

	p.logger.Debug().
		Str("asset", asset).
		Str("side", string(side)).
		Float64("quantity", fill.Quantity).
		Float64("price", fill.Price).
		Float64("fee", fill.Fee).
		Msg("Paper fill")
	return fill, nil
}

// Balances reports the account's filled quantities per asset.
func (p *Paper) Balances(ctx context.Context) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "balances", Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.balances))
	for asset, quantity := range p.balances {
		out[asset] = quantity
	}
	return out, nil
}
