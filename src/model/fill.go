package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one executed trade fragment. Rows are append-only: the repository
// exposes no update or delete path and the database refuses both.
type Fill struct {
	ID uint `gorm:"primaryKey" json:"id"`

	UserID uint `gorm:"not null;index:idx_fills_owner_ts,priority:1" json:"user_id"`
	BotID  uint `gorm:"not null;index:idx_fills_owner_ts,priority:2" json:"bot_id"`

	Exchange Venue  `gorm:"size:30;not null" json:"exchange"`
	Symbol   Symbol `gorm:"size:50;not null;index" json:"symbol"`

	Side        Side            `gorm:"size:10;not null" json:"side"`
	Quantity    decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"price"`
	Fee         decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"fee"`
	FeeCurrency string          `gorm:"size:20" json:"fee_currency"`

	OrderID         string  `gorm:"size:64;index" json:"order_id"`
	IdempotencyKey  *string `gorm:"size:128;uniqueIndex:ux_fills_idempotency_key" json:"idempotency_key,omitempty"`
	ExchangeTradeID *string `gorm:"size:128;index" json:"exchange_trade_id,omitempty"`

	// Execution time. Chronology is defined by this field, never by ID.
	Timestamp time.Time `gorm:"not null;index:idx_fills_owner_ts,priority:3" json:"timestamp"`
	Paper     bool      `gorm:"not null;default:false" json:"paper"`
	Metadata  JSONMap   `gorm:"serializer:json;type:text" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Fill) TableName() string {
	return "fills"
}

// Notional is quantity * price.
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}
