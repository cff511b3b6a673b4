package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEventKind string

const (
	EventFunding        LedgerEventKind = "funding"
	EventTransfer       LedgerEventKind = "transfer"
	EventAllocation     LedgerEventKind = "allocation"
	EventCircuitBreaker LedgerEventKind = "circuit_breaker"
	EventError          LedgerEventKind = "error"
)

func (k LedgerEventKind) Valid() bool {
	switch k {
	case EventFunding, EventTransfer, EventAllocation, EventCircuitBreaker, EventError:
		return true
	}
	return false
}

// LedgerEvent is an immutable non-trade monetary record. Same append-only
// contract as Fill.
type LedgerEvent struct {
	ID uint `gorm:"primaryKey" json:"id"`

	UserID uint  `gorm:"not null;index:idx_ledger_events_owner_ts,priority:1" json:"user_id"`
	BotID  *uint `gorm:"index:idx_ledger_events_owner_ts,priority:2" json:"bot_id,omitempty"`

	Kind        LedgerEventKind `gorm:"size:30;not null;index" json:"kind"`
	Amount      decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"amount"`
	Currency    string          `gorm:"size:20;not null" json:"currency"`
	Timestamp   time.Time       `gorm:"not null;index:idx_ledger_events_owner_ts,priority:3" json:"timestamp"`
	Description string          `gorm:"type:text" json:"description"`
	Metadata    JSONMap         `gorm:"serializer:json;type:text" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (LedgerEvent) TableName() string {
	return "ledger_events"
}
