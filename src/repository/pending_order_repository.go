package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeledger/src/database"
	"tradeledger/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PendingOrderRepository owns the short-lived admission rows.
type PendingOrderRepository struct {
	db *gorm.DB
}

func NewPendingOrderRepository() *PendingOrderRepository {
	return &PendingOrderRepository{db: database.MainDB}
}

func NewPendingOrderRepositoryWithDB(db *gorm.DB) *PendingOrderRepository {
	return &PendingOrderRepository{db: db}
}

func (r *PendingOrderRepository) WithDB(db *gorm.DB) *PendingOrderRepository {
	return &PendingOrderRepository{db: db}
}

// Create inserts the order. The unique index on idempotency_key is the
// serialization point for concurrent submissions of the same intent: the
// loser gets model.ErrDuplicateIdempotencyKey.
func (r *PendingOrderRepository) Create(ctx context.Context, order *model.PendingOrder) error {
	logger.WithFields(map[string]interface{}{
		"repo":            "PendingOrderRepository",
		"op":              "Create",
		"order_id":        order.OrderID,
		"idempotency_key": order.IdempotencyKey,
	}).Debug("Creating pending order")

	order.ExpiresAt = order.ExpiresAt.UTC()

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", model.ErrDuplicateIdempotencyKey, order.IdempotencyKey)
		}
		logger.WithFields(map[string]interface{}{
			"repo":     "PendingOrderRepository",
			"op":       "Create",
			"order_id": order.OrderID,
		}).WithError(err).Error("Failed to create pending order")
		return err
	}

	return nil
}

// FindByIdempotencyKey returns (nil, nil) if the key was never admitted.
func (r *PendingOrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.PendingOrder, error) {
	var order model.PendingOrder
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// FindByOrderID returns (nil, nil) if the order id is unknown.
func (r *PendingOrderRepository) FindByOrderID(ctx context.Context, orderID string) (*model.PendingOrder, error) {
	var order model.PendingOrder
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// FillUpdate carries the actual execution figures written on fill.
type FillUpdate struct {
	FillID       uint
	FilledPrice  decimal.Decimal
	FilledQty    decimal.Decimal
	ActualFee    decimal.Decimal
	SlippageBps  decimal.Decimal
	ActualFeeBps decimal.Decimal
	FilledAt     time.Time
}

// MarkFilled moves the order to filled if it is still in one of the given
// states. It reports whether a row changed.
func (r *PendingOrderRepository) MarkFilled(ctx context.Context, orderID string, from []model.PendingOrderState, update FillUpdate) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.PendingOrder{}).
		Where("order_id = ? AND state IN ?", orderID, from).
		Updates(map[string]interface{}{
			"state":          model.PendingOrderFilled,
			"fill_id":        update.FillID,
			"filled_price":   update.FilledPrice,
			"filled_qty":     update.FilledQty,
			"actual_fee":     update.ActualFee,
			"slippage_bps":   update.SlippageBps,
			"actual_fee_bps": update.ActualFeeBps,
			"filled_at":      update.FilledAt.UTC(),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkRejected moves a pending order to rejected. It reports whether a row changed.
func (r *PendingOrderRepository) MarkRejected(ctx context.Context, orderID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.PendingOrder{}).
		Where("order_id = ? AND state = ?", orderID, model.PendingOrderPending).
		Updates(map[string]interface{}{
			"state":            model.PendingOrderRejected,
			"rejection_reason": reason,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ExpireStale transitions pending orders whose TTL elapsed before now to
// expired and returns the affected order ids.
func (r *PendingOrderRepository) ExpireStale(ctx context.Context, now time.Time) ([]string, error) {
	var candidates []string
	err := r.db.WithContext(ctx).
		Model(&model.PendingOrder{}).
		Where("state = ? AND expires_at < ?", model.PendingOrderPending, now.UTC()).
		Pluck("order_id", &candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	expired := make([]string, 0, len(candidates))
	for _, orderID := range candidates {
		res := r.db.WithContext(ctx).
			Model(&model.PendingOrder{}).
			Where("order_id = ? AND state = ?", orderID, model.PendingOrderPending).
			Updates(map[string]interface{}{
				"state":            model.PendingOrderExpired,
				"rejection_reason": "no execution reported before expiry",
				"updated_at":       now.UTC(),
			})
		if res.Error != nil {
			return expired, res.Error
		}
		if res.RowsAffected > 0 {
			expired = append(expired, orderID)
		}
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "PendingOrderRepository",
		"op":      "ExpireStale",
		"expired": len(expired),
	}).Info("Expired stale pending orders")

	return expired, nil
}

// PurgeTerminal deletes expired and rejected rows whose expiry is older than
// before. Filled rows are kept so retries keep their cached result.
func (r *PendingOrderRepository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("state IN ? AND expires_at < ?",
			[]model.PendingOrderState{model.PendingOrderExpired, model.PendingOrderRejected},
			before.UTC()).
		Delete(&model.PendingOrder{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
