package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/portfolio"
	"github.com/sentigrade/sentigrade/internal/strategy"
)

// Machine-readable decision reason codes.
const (
	ReasonOK           = "ok"
	ReasonPositionCap  = "position_cap"
	ReasonTradeRisk    = "trade_risk"
	ReasonDailyLoss    = "daily_loss_breaker"
	ReasonDrawdown     = "drawdown_breaker"
	ReasonCashFloor    = "cash_floor"
	ReasonOversell     = "oversell"
	ReasonInvalid      = "invalid_intent"
	ReasonNoPrice      = "no_price"
	ReasonNothingHeld  = "nothing_held"
	ReasonBelowMinimum = "below_minimum"
)

// minNotional is the smallest trade worth approving; resizes that land
// under it reject instead of emitting dust orders.
const minNotional = 0.01

// Decision is the gate's verdict on one intent: approved (possibly resized,
// always flagged when so) or rejected with a reason code. Quantity is the
// final approved quantity; it is zero on rejections.
type Decision struct {
	Intent   strategy.Intent `json:"intent"`
	Approved bool            `json:"approved"`
	Quantity float64         `json:"quantity"`
	Resized  bool            `json:"resized"`
	Reason   string          `json:"reason"`
	Detail   string          `json:"detail,omitempty"`
}

// Manager applies Limits to intent batches. Intents are judged in order
// against a running view of the batch, so two intents that are individually
// fine but jointly overdraw cash cannot both pass.
type Manager struct {
	limits Limits
	logger zerolog.Logger
}

// NewManager validates limits and builds the gate.
func NewManager(limits Limits) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		limits: limits,
		logger: log.With().Str("component", "risk").Logger(),
	}, nil
}

// Limits returns the configured limit set.
func (m *Manager) Limits() Limits {
	return m.limits
}

// Approve judges every intent against the limits, the portfolio and the
// current marks. now anchors the daily-loss breaker to its UTC day.
func (m *Manager) Approve(intents []strategy.Intent, p *portfolio.Portfolio, marks map[string]float64, now time.Time) []Decision {
	equity := p.Equity(marks)
	buysHalted, haltReason := m.buysHalted(p, equity, now)

	// Running adjustments accumulated over the batch.
	cash := p.Cash
	heldValue := make(map[string]float64)
	heldQty := make(map[string]float64)
	for asset, pos := range p.Positions {
		price, ok := marks[asset]
		if !ok {
			price = pos.CostBasis
		}
		heldValue[asset] = pos.Value(price)
		heldQty[asset] = pos.Quantity
	}

	decisions := make([]Decision, 0, len(intents))
	for _, intent := range intents {
		d := m.judge(intent, equity, cash, heldValue, heldQty, marks, buysHalted, haltReason)
		if d.Approved {
			price := marks[intent.Asset]
			notional := d.Quantity * price
			switch intent.Side {
			case portfolio.SideBuy:
				cash -= notional
				heldValue[intent.Asset] += notional
				heldQty[intent.Asset] += d.Quantity
			case portfolio.SideSell:
				cash += notional
				heldValue[intent.Asset] -= notional
				heldQty[intent.Asset] -= d.Quantity
			}
		} else {
			m.logger.Debug().
				Str("asset", intent.Asset).
				Str("side", string(intent.Side)).
				Str("strategy", intent.Strategy).
				Str("reason", d.Reason).
				Msg("Intent rejected")
		}
		decisions = append(decisions, d)
	}
	return decisions
}

func (m *Manager) judge(intent strategy.Intent, equity, cash float64, heldValue, heldQty map[string]float64, marks map[string]float64, buysHalted bool, haltReason string) Decision {
	reject := func(reason, detail string) Decision {
		return Decision{Intent: intent, Reason: reason, Detail: detail}
	}

	if !intent.Side.Valid() || intent.Quantity <= 0 {
		return reject(ReasonInvalid, fmt.Sprintf("side %q quantity %f", intent.Side, intent.Quantity))
	}
	price, ok := marks[intent.Asset]
	if !ok || price <= 0 {
		return reject(ReasonNoPrice, "no mark for asset")
	}

	if intent.Side == portfolio.SideSell {
		return m.judgeSell(intent, price, heldQty)
	}

	// Breakers gate buys only; selling down risk is always allowed.
	if buysHalted {
		return reject(haltReason, "buying halted by breaker")
	}

	// Each cap translates to a maximum buyable quantity; the tightest wins.
	allowed := intent.Quantity
	reason := ReasonOK

	posCapValue := equity * m.limits.MaxPositionSizePct / 100
	if q := (posCapValue - heldValue[intent.Asset]) / price; q < allowed {
		allowed, reason = q, ReasonPositionCap
	}

	// Worst-case move on the resulting position must stay inside the
	// portfolio risk budget: value * worst% <= equity * risk%.
	riskCapValue := equity * m.limits.MaxPortfolioRiskPct / m.limits.WorstCaseMovePct
	if q := (riskCapValue - heldValue[intent.Asset]) / price; q < allowed {
		allowed, reason = q, ReasonTradeRisk
	}

	maxSpend := cash - equity*m.limits.MinCashReservePct/100
	if q := maxSpend / price; q < allowed {
		allowed, reason = q, ReasonCashFloor
	}

	if allowed*price < minNotional {
		return reject(reason, fmt.Sprintf("resized to %.8f units, below minimum", allowed))
	}
	if allowed < intent.Quantity {
		return Decision{
			Intent:   intent,
			Approved: true,
			Quantity: allowed,
			Resized:  true,
			Reason:   reason,
			Detail:   fmt.Sprintf("resized from %.8f to %.8f units", intent.Quantity, allowed),
		}
	}
	return Decision{Intent: intent, Approved: true, Quantity: intent.Quantity, Reason: ReasonOK}
}

func (m *Manager) judgeSell(intent strategy.Intent, price float64, heldQty map[string]float64) Decision {
	held := heldQty[intent.Asset]
	if held <= 0 {
		return Decision{Intent: intent, Reason: ReasonNothingHeld, Detail: "no position to sell"}
	}
	if intent.Quantity > held {
		if held*price < minNotional {
			return Decision{Intent: intent, Reason: ReasonBelowMinimum, Detail: "held remainder is dust"}
		}
		return Decision{
			Intent:   intent,
			Approved: true,
			Quantity: held,
			Resized:  true,
			Reason:   ReasonOversell,
			Detail:   fmt.Sprintf("resized from %.8f to held %.8f units", intent.Quantity, held),
		}
	}
	return Decision{Intent: intent, Approved: true, Quantity: intent.Quantity, Reason: ReasonOK}
}

// buysHalted evaluates the daily-loss and drawdown breakers off the equity
// curve: the day anchor is the last sample at or before the UTC day start,
// the peak is the curve's high-water mark. Current equity counts, so
// unrealized losses trip the breakers too. The drawdown breaker releases
// once equity recovers; the daily-loss breaker latches on the day's trough,
// so an intraday recovery does not resume buying until the next UTC day.
func (m *Manager) buysHalted(p *portfolio.Portfolio, equity float64, now time.Time) (bool, string) {
	curve := p.EquityCurve
	if len(curve) == 0 {
		return false, ""
	}

	peak := equity
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
	}
	if peak > 0 {
		drawdown := (peak - equity) / peak * 100
		if drawdown > m.limits.MaxDrawdownPct {
			return true, ReasonDrawdown
		}
	}

	utc := now.UTC()
	dayStart := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	anchor := curve[0].Equity
	trough := equity
	for _, point := range curve {
		if !point.Timestamp.After(dayStart) {
			anchor = point.Equity
			continue
		}
		if point.Equity < trough {
			trough = point.Equity
		}
	}
	if anchor > 0 {
		loss := (anchor - trough) / anchor * 100
		if loss > m.limits.MaxDailyLossPct {
			return true, ReasonDailyLoss
		}
	}

	return false, ""
}
