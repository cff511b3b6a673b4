package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeledger/src/metrics"
	"tradeledger/src/model"
	"tradeledger/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RecordFillExecution turns the execution report of an approved order into
// an immutable fill and marks the order filled. Calling it again for the same
// order returns the original fill id and writes nothing. Late reports for
// expired orders are accepted; rejected orders are refused.
func (p *Pipeline) RecordFillExecution(ctx context.Context, report FillReport) (uint, error) {
	if err := report.validate(); err != nil {
		return 0, err
	}

	order, err := p.orders.FindByOrderID(ctx, report.OrderID)
	if err != nil {
		return 0, fmt.Errorf("load pending order: %w", err)
	}
	if order == nil {
		return 0, fmt.Errorf("%w: %s", model.ErrOrderNotFound, report.OrderID)
	}

	log := logger.WithFields(map[string]interface{}{
		"component": "pipeline",
		"op":        "RecordFillExecution",
		"order_id":  order.OrderID,
		"user_id":   order.UserID,
		"bot_id":    order.BotID,
	})

	switch order.State {
	case model.PendingOrderFilled:
		log.Info("Order already filled, returning original fill")
		return p.originalFill(ctx, order)
	case model.PendingOrderRejected:
		return 0, fmt.Errorf("%w: order %s was rejected", model.ErrOrderNotPending, order.OrderID)
	}

	executedAt := p.now().UTC()
	if report.Timestamp != nil && !report.Timestamp.IsZero() {
		executedAt = report.Timestamp.UTC()
	}

	summary := model.ExecutionSummary{}
	if order.ExecutionSummary != nil {
		summary = *order.ExecutionSummary
	}
	slippageBps := decimal.Zero
	if summary.ExpectedPrice.IsPositive() {
		slippageBps = report.FilledPrice.Sub(summary.ExpectedPrice).Abs().
			Div(summary.ExpectedPrice).Mul(bpsScale).Round(4)
	}
	actualFeeBps := report.ActualFee.Div(report.FilledPrice.Mul(report.FilledQty)).Mul(bpsScale).Round(4)

	key := order.IdempotencyKey
	fill := &model.Fill{
		UserID:          order.UserID,
		BotID:           order.BotID,
		Exchange:        order.Exchange,
		Symbol:          order.Symbol,
		Side:            order.Side,
		Quantity:        report.FilledQty,
		Price:           report.FilledPrice,
		Fee:             report.ActualFee,
		FeeCurrency:     report.FeeCurrency,
		OrderID:         order.OrderID,
		IdempotencyKey:  &key,
		ExchangeTradeID: report.ExchangeTradeID,
		Timestamp:       executedAt,
		Paper:           order.Paper,
		Metadata: model.JSONMap{
			"expected_price":          summary.ExpectedPrice.String(),
			"filled_price":            report.FilledPrice.String(),
			"slippage_bps":            slippageBps.String(),
			"expected_slippage_bps":   summary.SlippageBps.String(),
			"expected_fee":            summary.ExpectedFee.String(),
			"actual_fee":              report.ActualFee.String(),
			"expected_fee_bps":        summary.ExchangeFeeBps.String(),
			"actual_fee_bps":          actualFeeBps.String(),
			"expected_total_cost_bps": summary.TotalCostBps.String(),
			"expected_edge_bps":       summary.ExpectedEdgeBps.String(),
			"late_fill":               order.State == model.PendingOrderExpired,
		},
	}
	if fill.FeeCurrency == "" {
		fill.FeeCurrency = "USDT"
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fillID, err := p.deps.Ledger.AppendFillTx(ctx, tx, fill)
		if err != nil {
			return err
		}
		changed, err := p.orders.WithDB(tx).MarkFilled(ctx, order.OrderID,
			[]model.PendingOrderState{model.PendingOrderPending, model.PendingOrderExpired},
			repository.FillUpdate{
				FillID:       fillID,
				FilledPrice:  report.FilledPrice,
				FilledQty:    report.FilledQty,
				ActualFee:    report.ActualFee,
				SlippageBps:  slippageBps,
				ActualFeeBps: actualFeeBps,
				FilledAt:     executedAt,
			})
		if err != nil {
			return fmt.Errorf("mark order filled: %w", err)
		}
		if !changed {
			return fmt.Errorf("%w: order %s changed state concurrently", model.ErrOrderNotPending, order.OrderID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicateIdempotencyKey) {
			// Another report for this order committed first.
			existing, findErr := p.fills.FindByIdempotencyKey(ctx, key)
			if findErr != nil {
				return 0, fmt.Errorf("load original fill: %w", findErr)
			}
			if existing != nil {
				log.WithField("fill_id", existing.ID).Info("Concurrent fill report, returning original fill")
				return existing.ID, nil
			}
		}
		log.WithError(err).Error("Failed to record fill execution")
		return 0, err
	}
	metrics.FillsRecorded.WithLabelValues(string(fill.Exchange), metrics.Mode(fill.Paper)).Inc()

	log.WithFields(map[string]interface{}{
		"fill_id":      fill.ID,
		"slippage_bps": slippageBps.String(),
		"fee_bps":      actualFeeBps.String(),
	}).Info("Fill recorded")
	return fill.ID, nil
}

func (p *Pipeline) originalFill(ctx context.Context, order *model.PendingOrder) (uint, error) {
	if order.FillID != nil {
		return *order.FillID, nil
	}
	fill, err := p.fills.FindByIdempotencyKey(ctx, order.IdempotencyKey)
	if err != nil {
		return 0, fmt.Errorf("load original fill: %w", err)
	}
	if fill == nil {
		return 0, fmt.Errorf("order %s is filled but its fill is missing", order.OrderID)
	}
	return fill.ID, nil
}

// RecordExecutionFailure marks a pending order rejected after the venue
// refused it and appends an error event, which feeds the breaker error rate.
func (p *Pipeline) RecordExecutionFailure(ctx context.Context, orderID, reason string) error {
	order, err := p.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load pending order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("%w: %s", model.ErrOrderNotFound, orderID)
	}
	if reason == "" {
		reason = "execution failed"
	}

	botID := order.BotID
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changed, err := p.orders.WithDB(tx).MarkRejected(ctx, orderID, reason)
		if err != nil {
			return fmt.Errorf("mark order rejected: %w", err)
		}
		if !changed {
			return fmt.Errorf("%w: order %s is %s", model.ErrOrderNotPending, orderID, order.State)
		}
		_, err = p.deps.Ledger.AppendEventTx(ctx, tx, &model.LedgerEvent{
			UserID:      order.UserID,
			BotID:       &botID,
			Kind:        model.EventError,
			Amount:      decimal.Zero,
			Timestamp:   p.now().UTC(),
			Description: reason,
			Metadata: model.JSONMap{
				"order_id": order.OrderID,
				"venue":    string(order.Exchange),
				"symbol":   string(order.Symbol),
			},
		})
		return err
	})
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"component": "pipeline",
		"op":        "RecordExecutionFailure",
		"order_id":  orderID,
	}).Warnf("Order execution failed: %s", reason)
	return nil
}

// ExpireStale moves pending orders past their TTL to expired.
func (p *Pipeline) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	expired, err := p.orders.ExpireStale(ctx, now)
	metrics.PendingOrdersExpired.Add(float64(len(expired)))
	if err != nil {
		return len(expired), fmt.Errorf("expire stale orders: %w", err)
	}
	return len(expired), nil
}

// PurgeTerminal deletes expired and rejected orders whose expiry is before
// the given time. Filled orders stay so retries keep their cached result.
func (p *Pipeline) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	purged, err := p.orders.PurgeTerminal(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge terminal orders: %w", err)
	}
	metrics.PendingOrdersPurged.Add(float64(purged))
	if purged > 0 {
		logger.WithField("component", "pipeline").
			WithField("purged", purged).
			Info("Purged terminal pending orders")
	}
	return purged, nil
}

// Order returns the pending order row, or nil if unknown.
func (p *Pipeline) Order(ctx context.Context, orderID string) (*model.PendingOrder, error) {
	return p.orders.FindByOrderID(ctx, orderID)
}
