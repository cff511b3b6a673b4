package ledger

import (
	"context"
	"time"

	"tradeledger/src/model"

	"github.com/shopspring/decimal"
)

// TradeCount counts fills executed at or after since.
func (s *Service) TradeCount(ctx context.Context, owner model.Owner, since time.Time) (int64, error) {
	return s.fills.CountForOwner(ctx, owner, since)
}

// ConsecutiveLosses is the trailing streak of closing sells, executed at or
// after since, whose realized PnL net of the fee is negative. A profitable
// close ends the streak.
func (s *Service) ConsecutiveLosses(ctx context.Context, owner model.Owner, since time.Time) (int, error) {
	fills, err := s.loadFills(ctx, owner, nil)
	if err != nil {
		return 0, err
	}
	return consecutiveLosses(fills, since), nil
}

func consecutiveLosses(fills []model.Fill, since time.Time) int {
	b := newBook()
	streak := 0
	for _, fill := range fills {
		m := b.apply(fill)
		if fill.Side != model.SideSell || !m.matchedQty.IsPositive() || fill.Timestamp.Before(since) {
			continue
		}
		if m.realized.Sub(fill.Fee).IsNegative() {
			streak++
		} else {
			streak = 0
		}
	}
	return streak
}

// ErrorRate counts execution error events at or after since.
func (s *Service) ErrorRate(ctx context.Context, owner model.Owner, since time.Time) (int64, error) {
	return s.events.CountKindSince(ctx, owner, model.EventError, since)
}

// DailyLoss is the loss since a point in time relative to total funding.
type DailyLoss struct {
	Net     decimal.Decimal `json:"net"`
	Funding decimal.Decimal `json:"funding"`
	// Pct is the loss as a percentage of funding; negative when profitable.
	Pct decimal.Decimal `json:"pct"`
	// Defined is false when funding is not positive and Pct is meaningless.
	Defined bool `json:"defined"`
}

// DailyLossPct relates realized PnL minus fees since since to the owner's
// funding total.
func (s *Service) DailyLossPct(ctx context.Context, owner model.Owner, since time.Time) (DailyLoss, error) {
	snap, err := s.load(ctx, owner, nil)
	if err != nil {
		return DailyLoss{}, err
	}

	w := SinceTime(since)
	out := DailyLoss{
		Net:     realizedPnL(snap.fills, w).Sub(feesPaid(snap.fills, w)),
		Funding: fundingTotal(snap.events),
		Pct:     decimal.Zero,
	}
	if out.Funding.IsPositive() {
		out.Defined = true
		out.Pct = out.Net.Neg().Div(out.Funding).Mul(hundred)
	}
	return out, nil
}
