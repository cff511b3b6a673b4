package model

import (
	"fmt"
	"time"
)

const (
	TripCategoryDrawdown          = "drawdown"
	TripCategoryDailyLoss         = "daily_loss"
	TripCategoryConsecutiveLosses = "consecutive_losses"
	TripCategoryErrorRate         = "error_rate"
)

// CircuitBreakerState records one trip of an entity. ActiveKey is set while
// tripped and cleared on reset; its unique index guarantees a single active
// row per entity.
type CircuitBreakerState struct {
	ID uint `gorm:"primaryKey" json:"id"`

	EntityType EntityType `gorm:"size:10;not null;index:idx_cb_entity,priority:1" json:"entity_type"`
	EntityID   uint       `gorm:"not null;index:idx_cb_entity,priority:2" json:"entity_id"`
	ActiveKey  *string    `gorm:"size:40;uniqueIndex:ux_cb_active_key" json:"-"`
	// UserID owns the entity: the bot's owner, or the user itself.
	UserID uint `gorm:"not null;index" json:"user_id"`

	Tripped   bool      `gorm:"not null" json:"tripped"`
	Category  string    `gorm:"size:30;not null" json:"category"`
	Reason    string    `gorm:"type:text" json:"reason"`
	Metrics   JSONMap   `gorm:"serializer:json;type:text" json:"metrics,omitempty"`
	TrippedAt time.Time `gorm:"not null" json:"tripped_at"`

	ResetAt       *time.Time `json:"reset_at,omitempty"`
	ResetByUserID *uint      `json:"reset_by_user_id,omitempty"`
	ResetReason   string     `gorm:"type:text" json:"reset_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CircuitBreakerState) TableName() string {
	return "circuit_breaker_states"
}

// BreakerActiveKey is the value held in ActiveKey while an entity is tripped.
func BreakerActiveKey(entityType EntityType, entityID uint) string {
	return fmt.Sprintf("%s:%d", entityType, entityID)
}
