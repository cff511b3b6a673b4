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

// CircuitBreakerRepository stores trip/reset history per entity.
type CircuitBreakerRepository struct {
	db *gorm.DB
}

func NewCircuitBreakerRepository() *CircuitBreakerRepository {
	return &CircuitBreakerRepository{db: database.MainDB}
}

func NewCircuitBreakerRepositoryWithDB(db *gorm.DB) *CircuitBreakerRepository {
	return &CircuitBreakerRepository{db: db}
}

func (r *CircuitBreakerRepository) WithDB(db *gorm.DB) *CircuitBreakerRepository {
	return &CircuitBreakerRepository{db: db}
}

// CreateTrip inserts an active trip. If the entity is already tripped the
// unique active key rejects the row and model.ErrAlreadyTripped is returned.
func (r *CircuitBreakerRepository) CreateTrip(ctx context.Context, state *model.CircuitBreakerState) error {
	key := model.BreakerActiveKey(state.EntityType, state.EntityID)
	state.ActiveKey = &key
	state.Tripped = true
	state.TrippedAt = state.TrippedAt.UTC()

	err := r.db.WithContext(ctx).Create(state).Error
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", model.ErrAlreadyTripped, key)
		}
		logger.WithFields(map[string]interface{}{
			"repo":   "CircuitBreakerRepository",
			"op":     "CreateTrip",
			"entity": key,
		}).WithError(err).Error("Failed to persist circuit breaker trip")
		return err
	}

	return nil
}

// FindActive returns the active trip for the entity or (nil, nil).
func (r *CircuitBreakerRepository) FindActive(ctx context.Context, entityType model.EntityType, entityID uint) (*model.CircuitBreakerState, error) {
	var state model.CircuitBreakerState
	err := r.db.WithContext(ctx).
		Where("active_key = ?", model.BreakerActiveKey(entityType, entityID)).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// LastResetAt returns the time of the entity's most recent reset, or nil.
func (r *CircuitBreakerRepository) LastResetAt(ctx context.Context, entityType model.EntityType, entityID uint) (*time.Time, error) {
	var state model.CircuitBreakerState
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND reset_at IS NOT NULL", entityType, entityID).
		Order("reset_at DESC").
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return state.ResetAt, nil
}

// LastAcknowledgedAt returns the latest reset that covers the scope: any reset
// of the user's entities for a user scope, or a reset of the bot or of its
// user for a bot scope. Nil when there was none.
func (r *CircuitBreakerRepository) LastAcknowledgedAt(ctx context.Context, owner model.Owner) (*time.Time, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND reset_at IS NOT NULL", owner.UserID)
	if owner.BotID != nil {
		query = query.Where("(entity_type = ? OR (entity_type = ? AND entity_id = ?))",
			model.EntityUser, model.EntityBot, *owner.BotID)
	}

	var state model.CircuitBreakerState
	err := query.Order("reset_at DESC").First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return state.ResetAt, nil
}

// Reset clears the active trip. Returns model.ErrNotTripped when there is none.
func (r *CircuitBreakerRepository) Reset(
	ctx context.Context,
	entityType model.EntityType,
	entityID uint,
	resetByUserID uint,
	reason string,
	at time.Time,
) (*model.CircuitBreakerState, error) {
	var reset *model.CircuitBreakerState

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := r.WithDB(tx).FindActive(ctx, entityType, entityID)
		if err != nil {
			return err
		}
		if active == nil {
			return fmt.Errorf("%w: %s", model.ErrNotTripped, model.BreakerActiveKey(entityType, entityID))
		}

		resetAt := at.UTC()
		res := tx.Model(&model.CircuitBreakerState{}).
			Where("id = ? AND active_key IS NOT NULL", active.ID).
			Updates(map[string]interface{}{
				"tripped":          false,
				"active_key":       nil,
				"reset_at":         resetAt,
				"reset_by_user_id": resetByUserID,
				"reset_reason":     reason,
				"updated_at":       resetAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", model.ErrNotTripped, model.BreakerActiveKey(entityType, entityID))
		}

		active.Tripped = false
		active.ActiveKey = nil
		active.ResetAt = &resetAt
		active.ResetByUserID = &resetByUserID
		active.ResetReason = reason
		reset = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "CircuitBreakerRepository",
		"op":          "Reset",
		"entity_type": entityType,
		"entity_id":   entityID,
		"reset_by":    resetByUserID,
	}).Info("Circuit breaker reset")

	return reset, nil
}

// History returns the most recent trips for the entity, newest first.
func (r *CircuitBreakerRepository) History(ctx context.Context, entityType model.EntityType, entityID uint, limit int) ([]model.CircuitBreakerState, error) {
	if limit <= 0 {
		limit = 20
	}

	var states []model.CircuitBreakerState
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("tripped_at DESC, id DESC").
		Limit(limit).
		Find(&states).Error
	return states, err
}
