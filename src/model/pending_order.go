package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PendingOrderState string

const (
	PendingOrderPending  PendingOrderState = "pending"
	PendingOrderFilled   PendingOrderState = "filled"
	PendingOrderRejected PendingOrderState = "rejected"
	PendingOrderExpired  PendingOrderState = "expired"
)

func (s PendingOrderState) Terminal() bool {
	return s == PendingOrderFilled || s == PendingOrderRejected || s == PendingOrderExpired
}

// GateEvaluation is one entry of the admission trail.
type GateEvaluation struct {
	Gate      string    `json:"gate"`
	Passed    bool      `json:"passed"`
	Detail    string    `json:"detail,omitempty"`
	Evaluated time.Time `json:"evaluated_at"`
}

// ExecutionSummary is the expected cost breakdown computed at admission.
type ExecutionSummary struct {
	ExpectedPrice   decimal.Decimal `json:"expected_price"`
	Notional        decimal.Decimal `json:"notional"`
	ExchangeFeeBps  decimal.Decimal `json:"exchange_fee_bps"`
	SpreadBps       decimal.Decimal `json:"spread_bps"`
	SlippageBps     decimal.Decimal `json:"slippage_bps"`
	SafetyMarginBps decimal.Decimal `json:"safety_margin_bps"`
	TotalCostBps    decimal.Decimal `json:"total_cost_bps"`
	ExpectedEdgeBps decimal.Decimal `json:"expected_edge_bps"`
	NetEdgeBps      decimal.Decimal `json:"net_edge_bps"`
	ExpectedFee     decimal.Decimal `json:"expected_fee"`
}

// PendingOrder is an admitted order intent waiting for its execution report.
type PendingOrder struct {
	ID uint `gorm:"primaryKey" json:"id"`

	IdempotencyKey string `gorm:"size:128;not null;uniqueIndex:ux_pending_orders_idempotency_key" json:"idempotency_key"`
	OrderID        string `gorm:"size:64;not null;uniqueIndex:ux_pending_orders_order_id" json:"order_id"`

	UserID uint `gorm:"not null;index" json:"user_id"`
	BotID  uint `gorm:"not null;index" json:"bot_id"`

	Exchange  Venue               `gorm:"size:30;not null" json:"exchange"`
	Symbol    Symbol              `gorm:"size:50;not null" json:"symbol"`
	Side      Side                `gorm:"size:10;not null" json:"side"`
	Amount    decimal.Decimal     `gorm:"type:numeric(36,18);not null" json:"amount"`
	OrderType OrderType           `gorm:"size:20;not null" json:"order_type"`
	Price     decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"price"`
	Paper     bool                `gorm:"not null;default:false" json:"paper"`

	State            PendingOrderState `gorm:"size:20;not null;index;default:pending" json:"state"`
	GateTrail        []GateEvaluation  `gorm:"serializer:json;type:text" json:"gate_trail"`
	ExecutionSummary *ExecutionSummary `gorm:"serializer:json;type:text" json:"execution_summary"`
	RejectionReason  string            `gorm:"type:text" json:"rejection_reason,omitempty"`

	FillID       *uint               `json:"fill_id,omitempty"`
	FilledPrice  decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"filled_price"`
	FilledQty    decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"filled_qty"`
	ActualFee    decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"actual_fee"`
	SlippageBps  decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"slippage_bps"`
	ActualFeeBps decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"actual_fee_bps"`
	FilledAt     *time.Time          `json:"filled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PendingOrder) TableName() string {
	return "pending_orders"
}
