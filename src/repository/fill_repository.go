package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeledger/src/database"
	"tradeledger/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// FillRepository appends and reads fills. There is deliberately no update
// or delete method.
type FillRepository struct {
	db *gorm.DB
}

// NewFillRepository creates a repository bound to the main read/write database.
func NewFillRepository() *FillRepository {
	return &FillRepository{db: database.MainDB}
}

func NewFillRepositoryWithDB(db *gorm.DB) *FillRepository {
	return &FillRepository{db: db}
}

// WithDB returns a copy bound to db, typically a transaction.
func (r *FillRepository) WithDB(db *gorm.DB) *FillRepository {
	return &FillRepository{db: db}
}

// Create appends a fill. A reused idempotency key yields
// model.ErrDuplicateIdempotencyKey and nothing is written.
func (r *FillRepository) Create(ctx context.Context, fill *model.Fill) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "FillRepository",
		"op":       "Create",
		"user_id":  fill.UserID,
		"bot_id":   fill.BotID,
		"symbol":   fill.Symbol,
		"side":     fill.Side,
		"qty":      fill.Quantity.String(),
		"price":    fill.Price.String(),
		"order_id": fill.OrderID,
	}).Debug("Appending fill")

	if fill.ID != 0 {
		return fmt.Errorf("fill already has id %d", fill.ID)
	}

	fill.Timestamp = fill.Timestamp.UTC()

	err := r.db.WithContext(ctx).Create(fill).Error
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", model.ErrDuplicateIdempotencyKey, derefString(fill.IdempotencyKey))
		}

		logger.WithFields(map[string]interface{}{
			"repo": "FillRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to append fill")
		return err
	}

	return nil
}

// FindByIdempotencyKey returns (nil, nil) when no fill carries the key.
func (r *FillRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.Fill, error) {
	var fill model.Fill
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&fill).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &fill, nil
}

// FindByID returns (nil, nil) when the fill does not exist.
func (r *FillRepository) FindByID(ctx context.Context, id uint) (*model.Fill, error) {
	var fill model.Fill
	err := r.db.WithContext(ctx).First(&fill, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &fill, nil
}

// ListForOwner returns the owner's fills in execution order, optionally
// bounded by until (inclusive).
func (r *FillRepository) ListForOwner(ctx context.Context, owner model.Owner, until *time.Time) ([]model.Fill, error) {
	var fills []model.Fill

	query := r.db.WithContext(ctx).Scopes(scopeOwner(owner))
	if until != nil {
		query = query.Where("timestamp <= ?", until.UTC())
	}

	err := query.Order("timestamp ASC, id ASC").Find(&fills).Error
	if err != nil {
		logger.WithFields(owner.Fields()).
			WithField("repo", "FillRepository").
			WithField("op", "ListForOwner").
			WithError(err).Error("Failed to list fills")
		return nil, err
	}

	return fills, nil
}

// CountForOwner counts fills executed at or after since.
func (r *FillRepository) CountForOwner(ctx context.Context, owner model.Owner, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Fill{}).
		Scopes(scopeOwner(owner)).
		Where("timestamp >= ?", since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
