package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BotAccount is the legacy per-bot balance row. CurrentBalance is mutated by
// older tooling and is never used for decisions; the ledger only compares
// against it during reconciliation.
type BotAccount struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"not null;uniqueIndex:ux_bot_accounts_owner,priority:1" json:"user_id"`
	BotID  uint `gorm:"not null;uniqueIndex:ux_bot_accounts_owner,priority:2" json:"bot_id"`

	Currency       string          `gorm:"size:20;not null;default:USDT" json:"currency"`
	CurrentBalance decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"current_balance"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BotAccount) TableName() string {
	return "bot_accounts"
}
