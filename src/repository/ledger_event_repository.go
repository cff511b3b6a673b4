package repository

import (
	"context"
	"fmt"
	"time"

	"tradeledger/src/database"
	"tradeledger/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LedgerEventRepository appends and reads non-trade ledger events.
type LedgerEventRepository struct {
	db *gorm.DB
}

func NewLedgerEventRepository() *LedgerEventRepository {
	return &LedgerEventRepository{db: database.MainDB}
}

func NewLedgerEventRepositoryWithDB(db *gorm.DB) *LedgerEventRepository {
	return &LedgerEventRepository{db: db}
}

func (r *LedgerEventRepository) WithDB(db *gorm.DB) *LedgerEventRepository {
	return &LedgerEventRepository{db: db}
}

func (r *LedgerEventRepository) Create(ctx context.Context, event *model.LedgerEvent) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("invalid ledger event kind %q", event.Kind)
	}
	if event.ID != 0 {
		return fmt.Errorf("ledger event already has id %d", event.ID)
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "LedgerEventRepository",
		"op":      "Create",
		"user_id": event.UserID,
		"kind":    event.Kind,
		"amount":  event.Amount.String(),
	}).Debug("Appending ledger event")

	event.Timestamp = event.Timestamp.UTC()

	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "LedgerEventRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to append ledger event")
		return err
	}

	return nil
}

// ListForOwner returns events in timestamp order, optionally bounded by until.
func (r *LedgerEventRepository) ListForOwner(ctx context.Context, owner model.Owner, until *time.Time) ([]model.LedgerEvent, error) {
	var events []model.LedgerEvent

	query := r.db.WithContext(ctx).Scopes(scopeOwner(owner))
	if until != nil {
		query = query.Where("timestamp <= ?", until.UTC())
	}

	if err := query.Order("timestamp ASC, id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountKindSince counts events of one kind at or after since.
func (r *LedgerEventRepository) CountKindSince(ctx context.Context, owner model.Owner, kind model.LedgerEventKind, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.LedgerEvent{}).
		Scopes(scopeOwner(owner)).
		Where("kind = ? AND timestamp >= ?", kind, since.UTC()).
		Count(&count).Error
	return count, err
}
