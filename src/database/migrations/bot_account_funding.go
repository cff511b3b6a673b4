package migrations

import (
	"fmt"

	"tradeledger/src/model"

	"gorm.io/gorm"
)

// backfillBotAccountFunding turns the legacy mutable bot balance into an
// opening funding event, so equity can be derived from the ledger alone.
// Accounts that already have a funding event are left untouched.
func backfillBotAccountFunding(db *gorm.DB) error {
	var accounts []model.BotAccount
	if err := db.Where("current_balance > 0").Find(&accounts).Error; err != nil {
		return fmt.Errorf("load bot accounts: %w", err)
	}

	for _, account := range accounts {
		var count int64
		if err := db.Model(&model.LedgerEvent{}).
			Where("user_id = ? AND bot_id = ? AND kind = ?", account.UserID, account.BotID, model.EventFunding).
			Count(&count).Error; err != nil {
			return fmt.Errorf("count funding events for bot %d: %w", account.BotID, err)
		}
		if count > 0 {
			continue
		}

		botID := account.BotID
		event := model.LedgerEvent{
			UserID:      account.UserID,
			BotID:       &botID,
			Kind:        model.EventFunding,
			Amount:      account.CurrentBalance,
			Currency:    account.Currency,
			Timestamp:   account.CreatedAt.UTC(),
			Description: "opening balance migrated from bot_accounts",
			Metadata: model.JSONMap{
				"source":         "bot_accounts",
				"bot_account_id": account.ID,
			},
		}
		if err := db.Create(&event).Error; err != nil {
			return fmt.Errorf("create funding event for bot %d: %w", account.BotID, err)
		}
	}

	return nil
}
