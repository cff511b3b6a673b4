package ledger

import (
	"context"
	"fmt"
	"time"

	"tradeledger/src/model"
	"tradeledger/src/utils"

	"github.com/shopspring/decimal"
)

type ProfitBucket struct {
	BucketStart time.Time       `json:"bucket_start"`
	Trades      int             `json:"trades"`
	Fees        decimal.Decimal `json:"fees"`
	Volume      decimal.Decimal `json:"volume"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	NetProfit   decimal.Decimal `json:"net_profit"`
}

// ProfitSeries buckets the owner's fills by UTC period and returns the last
// limit non-empty buckets in ascending order. limit <= 0 returns all of them.
func (s *Service) ProfitSeries(ctx context.Context, owner model.Owner, period utils.Period, limit int) ([]ProfitBucket, error) {
	if _, err := utils.ParsePeriod(string(period)); err != nil {
		return nil, fmt.Errorf("profit series: %w", err)
	}

	fills, err := s.loadFills(ctx, owner, nil)
	if err != nil {
		return nil, err
	}
	return profitSeries(fills, period, limit), nil
}

func profitSeries(fills []model.Fill, period utils.Period, limit int) []ProfitBucket {
	b := newBook()
	var buckets []ProfitBucket

	for _, fill := range fills {
		m := b.apply(fill)
		start := utils.ResetTime(fill.Timestamp, period)

		if len(buckets) == 0 || !buckets[len(buckets)-1].BucketStart.Equal(start) {
			buckets = append(buckets, ProfitBucket{
				BucketStart: start,
				Fees:        decimal.Zero,
				Volume:      decimal.Zero,
				RealizedPnL: decimal.Zero,
				NetProfit:   decimal.Zero,
			})
		}

		current := &buckets[len(buckets)-1]
		current.Trades++
		current.Fees = current.Fees.Add(fill.Fee)
		current.Volume = current.Volume.Add(fill.Notional())
		current.RealizedPnL = current.RealizedPnL.Add(m.realized)
		current.NetProfit = current.RealizedPnL.Sub(current.Fees)
	}

	if limit > 0 && len(buckets) > limit {
		buckets = buckets[len(buckets)-limit:]
	}
	return buckets
}
