package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeledger/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// RealizedPnL replays the owner's fills through FIFO lots. Only sells
// executed inside w contribute; earlier fills still open the lots they close.
func (s *Service) RealizedPnL(ctx context.Context, owner model.Owner, w Window) (decimal.Decimal, error) {
	fills, err := s.loadFills(ctx, owner, w.Until)
	if err != nil {
		return decimal.Zero, err
	}
	return realizedPnL(fills, w), nil
}

// FeesPaid sums the fee of every fill inside w.
func (s *Service) FeesPaid(ctx context.Context, owner model.Owner, w Window) (decimal.Decimal, error) {
	fills, err := s.loadFills(ctx, owner, w.Until)
	if err != nil {
		return decimal.Zero, err
	}
	return feesPaid(fills, w), nil
}

func feesPaid(fills []model.Fill, w Window) decimal.Decimal {
	total := decimal.Zero
	for _, fill := range fills {
		if w.contains(fill.Timestamp) {
			total = total.Add(fill.Fee)
		}
	}
	return total
}

func fundingTotal(events []model.LedgerEvent) decimal.Decimal {
	total := decimal.Zero
	for _, event := range events {
		if event.Kind == model.EventFunding {
			total = total.Add(event.Amount)
		}
	}
	return total
}

// Position is the open remainder of one symbol after FIFO replay.
type Position struct {
	Symbol    model.Symbol    `json:"symbol"`
	Venue     model.Venue     `json:"venue"`
	OpenQty   decimal.Decimal `json:"open_qty"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	Mark      decimal.Decimal `json:"mark"`
	PnL       decimal.Decimal `json:"pnl"`

	// Unavailable is set when no mark price could be obtained. PnL is zero then.
	Unavailable bool   `json:"unavailable"`
	Error       string `json:"error,omitempty"`
}

type UnrealizedReport struct {
	Total     decimal.Decimal `json:"total"`
	Positions []Position      `json:"positions"`
}

// Degraded reports whether any position was valued at zero for lack of a price.
func (r UnrealizedReport) Degraded() bool {
	for _, p := range r.Positions {
		if p.Unavailable {
			return true
		}
	}
	return false
}

// UnrealizedPnL values every open lot at the mark price of the venue the
// symbol last traded on.
func (s *Service) UnrealizedPnL(ctx context.Context, owner model.Owner) (UnrealizedReport, error) {
	fills, err := s.loadFills(ctx, owner, nil)
	if err != nil {
		return UnrealizedReport{}, err
	}
	return s.unrealized(ctx, fills)
}

func (s *Service) unrealized(ctx context.Context, fills []model.Fill) (UnrealizedReport, error) {
	b := newBook()
	for _, fill := range fills {
		b.apply(fill)
	}

	report := UnrealizedReport{Total: decimal.Zero}
	for _, symbol := range b.symbols {
		lots := b.open(symbol)
		if len(lots) == 0 {
			continue
		}

		position := Position{
			Symbol:    symbol,
			Venue:     b.lastVenue[symbol],
			OpenQty:   decimal.Zero,
			CostBasis: decimal.Zero,
			Mark:      decimal.Zero,
			PnL:       decimal.Zero,
		}
		for _, l := range lots {
			position.OpenQty = position.OpenQty.Add(l.qty)
			position.CostBasis = position.CostBasis.Add(l.qty.Mul(l.price))
		}

		mark, err := s.markPrice(ctx, symbol, position.Venue)
		if err != nil {
			if !errors.Is(err, model.ErrPriceSourceUnavailable) && ctx.Err() != nil {
				return UnrealizedReport{}, ctx.Err()
			}
			logger.WithFields(map[string]interface{}{
				"component": "ledger",
				"symbol":    symbol,
				"venue":     position.Venue,
			}).WithError(err).Warn("Mark price unavailable, valuing position at zero")
			position.Unavailable = true
			position.Error = err.Error()
		} else {
			position.Mark = mark
			// sum(qty * (mark - price)) == openQty*mark - costBasis
			position.PnL = position.OpenQty.Mul(mark).Sub(position.CostBasis)
			report.Total = report.Total.Add(position.PnL)
		}

		report.Positions = append(report.Positions, position)
	}

	return report, nil
}

func (s *Service) markPrice(ctx context.Context, symbol model.Symbol, venue model.Venue) (decimal.Decimal, error) {
	if s.prices == nil {
		return decimal.Zero, fmt.Errorf("%w: no price source configured for %s on %s", model.ErrPriceSourceUnavailable, symbol, venue)
	}
	return s.prices.MarkPrice(ctx, symbol, venue)
}

// EquityBreakdown satisfies Equity == Funding + Realized + Unrealized - Fees.
type EquityBreakdown struct {
	Funding    decimal.Decimal `json:"funding"`
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Fees       decimal.Decimal `json:"fees"`
	Equity     decimal.Decimal `json:"equity"`
	Positions  []Position      `json:"positions,omitempty"`
	AsOf       time.Time       `json:"as_of"`
}

// Equity reads fills and events from one snapshot and derives the owner's equity.
func (s *Service) Equity(ctx context.Context, owner model.Owner) (EquityBreakdown, error) {
	asOf := s.now().UTC()
	snap, err := s.load(ctx, owner, &asOf)
	if err != nil {
		return EquityBreakdown{}, err
	}

	unrealized, err := s.unrealized(ctx, snap.fills)
	if err != nil {
		return EquityBreakdown{}, err
	}

	out := EquityBreakdown{
		Funding:    fundingTotal(snap.events),
		Realized:   realizedPnL(snap.fills, Window{}),
		Unrealized: unrealized.Total,
		Fees:       feesPaid(snap.fills, Window{}),
		Positions:  unrealized.Positions,
		AsOf:       asOf,
	}
	out.Equity = out.Funding.Add(out.Realized).Add(out.Unrealized).Sub(out.Fees)
	return out, nil
}
