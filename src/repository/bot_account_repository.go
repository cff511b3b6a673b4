package repository

import (
	"context"

	"tradeledger/src/database"
	"tradeledger/src/model"

	"gorm.io/gorm"
)

// BotAccountRepository reads the legacy mutable balances used for reconciliation.
type BotAccountRepository struct {
	db *gorm.DB
}

func NewBotAccountRepository() *BotAccountRepository {
	return &BotAccountRepository{db: database.MainDB}
}

func NewBotAccountRepositoryWithDB(db *gorm.DB) *BotAccountRepository {
	return &BotAccountRepository{db: db}
}

// ListForOwner returns every legacy account row matching the owner scope.
func (r *BotAccountRepository) ListForOwner(ctx context.Context, owner model.Owner) ([]model.BotAccount, error) {
	var accounts []model.BotAccount
	err := r.db.WithContext(ctx).
		Scopes(scopeOwner(owner)).
		Order("bot_id ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *BotAccountRepository) Create(ctx context.Context, account *model.BotAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}
