// Package portfolio tracks cash, positions and the equity curve. A
// Portfolio mutates only through ApplyFill and MarkToMarket, so at every
// step cash plus marked position value equals tracked equity.
package portfolio

import (
	"fmt"
	"sort"
	"time"
)

// Side is the direction of an intent, order or fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a recognized side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Fill is an executed (or simulated) order: the quantity that actually
// traded, the price it traded at, and the fee charged.
type Fill struct {
	Asset     string    `json:"asset"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
}

// Notional is the cash value of the fill before fees.
func (f Fill) Notional() float64 {
	return f.Quantity * f.Price
}

// Position is one held asset with its blended average entry price.
type Position struct {
	Asset     string  `json:"asset"`
	Quantity  float64 `json:"quantity"`
	CostBasis float64 `json:"cost_basis"` // average entry price per unit
	Account   string  `json:"account"`
}

// Value marks the position at price.
func (p Position) Value(price float64) float64 {
	return p.Quantity * price
}

// EquityPoint is one sample of the append-only equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
	Cash      float64   `json:"cash"`
}

// Portfolio is the single owned state threaded through strategy, risk and
// fill application. It carries no locks: each run or agent cycle owns its
// portfolio exclusively.
type Portfolio struct {
	Account     string               `json:"account"`
	Cash        float64              `json:"cash"`
	Positions   map[string]*Position `json:"positions"`
	EquityCurve []EquityPoint        `json:"equity_curve"`
}

// New creates a portfolio holding only cash.
func New(account string, cash float64) (*Portfolio, error) {
	if cash < 0 {
		return nil, fmt.Errorf("starting cash must be non-negative, got %f", cash)
	}
	return &Portfolio{
		Account:   account,
		Cash:      cash,
		Positions: make(map[string]*Position),
	}, nil
}

// Position returns the held position for asset, or a zero position.
func (p *Portfolio) Position(asset string) Position {
	if pos, ok := p.Positions[asset]; ok {
		return *pos
	}
	return Position{Asset: asset, Account: p.Account}
}

// Assets lists held assets (non-zero quantity) in sorted order.
func (p *Portfolio) Assets() []string {
	assets := make([]string, 0, len(p.Positions))
	for asset, pos := range p.Positions {
		if pos.Quantity > 0 {
			assets = append(assets, asset)
		}
	}
	sort.Strings(assets)
	return assets
}

// ApplyFill mutates cash and positions for one executed fill and returns
// the realized profit on sells (zero for buys). Buys blend the cost basis;
// sells realize PnL against it. Overdrafting cash or overselling a position
// is a caller bug surfaced as an error, never a silent clamp.
func (p *Portfolio) ApplyFill(fill Fill) (realizedPnL float64, err error) {
	if !fill.Side.Valid() {
		return 0, fmt.Errorf("fill for %s: invalid side %q", fill.Asset, fill.Side)
	}
	if fill.Quantity <= 0 {
		return 0, fmt.Errorf("fill for %s: quantity must be positive, got %f", fill.Asset, fill.Quantity)
	}
	if fill.Price <= 0 {
		return 0, fmt.Errorf("fill for %s: price must be positive, got %f", fill.Asset, fill.Price)
	}

	switch fill.Side {
	case SideBuy:
		cost := fill.Notional() + fill.Fee
		if cost > p.Cash+1e-9 {
			return 0, fmt.Errorf("fill for %s: cost %.2f exceeds cash %.2f", fill.Asset, cost, p.Cash)
		}
		pos, ok := p.Positions[fill.Asset]
		if !ok {
			pos = &Position{Asset: fill.Asset, Account: p.Account}
			p.Positions[fill.Asset] = pos
		}
		// Blended average entry: fees are part of what the units cost us.
		totalCost := pos.CostBasis*pos.Quantity + cost
		pos.Quantity += fill.Quantity
		pos.CostBasis = totalCost / pos.Quantity
		p.Cash -= cost
		return 0, nil

	case SideSell:
		pos, ok := p.Positions[fill.Asset]
		if !ok || pos.Quantity < fill.Quantity-1e-9 {
			held := 0.0
			if ok {
				held = pos.Quantity
			}
			return 0, fmt.Errorf("fill for %s: selling %.8f exceeds held %.8f", fill.Asset, fill.Quantity, held)
		}
		proceeds := fill.Notional() - fill.Fee
		realizedPnL = proceeds - pos.CostBasis*fill.Quantity
		pos.Quantity -= fill.Quantity
		if pos.Quantity <= 1e-9 {
			delete(p.Positions, fill.Asset)
		}
		p.Cash += proceeds
		return realizedPnL, nil
	}
	return 0, nil
}

// Equity marks every position and returns cash + position value. Assets
// without a mark fall back to cost basis, the no-information price.
func (p *Portfolio) Equity(marks map[string]float64) float64 {
	equity := p.Cash
	for asset, pos := range p.Positions {
		price, ok := marks[asset]
		if !ok {
			price = pos.CostBasis
		}
		equity += pos.Value(price)
	}
	return equity
}

// MarkToMarket appends the current equity to the curve, stamped at.
func (p *Portfolio) MarkToMarket(marks map[string]float64, at time.Time) EquityPoint {
	point := EquityPoint{
		Timestamp: at,
		Equity:    p.Equity(marks),
		Cash:      p.Cash,
	}
	p.EquityCurve = append(p.EquityCurve, point)
	return point
}

// Clone deep-copies the portfolio, equity curve included.
func (p *Portfolio) Clone() *Portfolio {
	positions := make(map[string]*Position, len(p.Positions))
	for asset, pos := range p.Positions {
		copied := *pos
		positions[asset] = &copied
	}
	curve := make([]EquityPoint, len(p.EquityCurve))
	copy(curve, p.EquityCurve)
	return &Portfolio{
		Account:     p.Account,
		Cash:        p.Cash,
		Positions:   positions,
		EquityCurve: curve,
	}
}
