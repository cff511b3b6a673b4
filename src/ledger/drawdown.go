package ledger

import (
	"context"
	"time"

	"tradeledger/src/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type DrawdownReport struct {
	CurrentPct decimal.Decimal `json:"current_pct"`
	MaxPct     decimal.Decimal `json:"max_pct"`
	Peak       decimal.Decimal `json:"peak"`
	Equity     decimal.Decimal `json:"equity"`
}

type curvePoint struct {
	At          time.Time
	Equity      decimal.Decimal
	Peak        decimal.Decimal
	DrawdownPct decimal.Decimal
}

// Drawdown replays the realized equity curve: funding events add their
// amount, each fill adds its FIFO realized PnL minus its fee. Open
// positions are carried at cost.
func (s *Service) Drawdown(ctx context.Context, owner model.Owner) (DrawdownReport, error) {
	return s.drawdown(ctx, owner, nil)
}

// DrawdownSince is Drawdown with the running peak restarted at since, so a
// drawdown that happened earlier does not count.
func (s *Service) DrawdownSince(ctx context.Context, owner model.Owner, since time.Time) (DrawdownReport, error) {
	return s.drawdown(ctx, owner, &since)
}

func (s *Service) drawdown(ctx context.Context, owner model.Owner, since *time.Time) (DrawdownReport, error) {
	snap, err := s.load(ctx, owner, nil)
	if err != nil {
		return DrawdownReport{}, err
	}
	report, _ := equityCurve(snap.fills, snap.events, since)
	return report, nil
}

func drawdownPct(peak, equity decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() || equity.GreaterThanOrEqual(peak) {
		return decimal.Zero
	}
	return peak.Sub(equity).Div(peak).Mul(hundred)
}

// equityCurve merges events and fills by timestamp (events first on ties)
// and tracks the running peak from since onwards.
func equityCurve(fills []model.Fill, events []model.LedgerEvent, since *time.Time) (DrawdownReport, []curvePoint) {
	b := newBook()
	equity := decimal.Zero
	peak := decimal.Zero
	maxPct := decimal.Zero
	started := since == nil

	var points []curvePoint

	step := func(at time.Time, delta decimal.Decimal) {
		if !started && !at.Before(*since) {
			started = true
			peak = equity
		}
		equity = equity.Add(delta)
		if !started {
			return
		}
		if equity.GreaterThan(peak) {
			peak = equity
		}
		pct := drawdownPct(peak, equity)
		if pct.GreaterThan(maxPct) {
			maxPct = pct
		}
		points = append(points, curvePoint{At: at, Equity: equity, Peak: peak, DrawdownPct: pct})
	}

	i, j := 0, 0
	for i < len(fills) || j < len(events) {
		takeEvent := j < len(events) && (i >= len(fills) || !events[j].Timestamp.After(fills[i].Timestamp))
		if takeEvent {
			event := events[j]
			j++
			if event.Kind != model.EventFunding {
				continue
			}
			step(event.Timestamp, event.Amount)
			continue
		}

		fill := fills[i]
		i++
		m := b.apply(fill)
		step(fill.Timestamp, m.realized.Sub(fill.Fee))
	}

	if !started {
		peak = equity
	}

	return DrawdownReport{
		CurrentPct: drawdownPct(peak, equity),
		MaxPct:     maxPct,
		Peak:       peak,
		Equity:     equity,
	}, points
}
