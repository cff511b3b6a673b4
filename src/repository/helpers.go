package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tradeledger/src/model"

	"gorm.io/gorm"
)

// isDuplicateKey reports unique-constraint violations. TranslateError covers
// the drivers we ship; the string checks catch connections opened without it.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// scopeOwner restricts a query to the owner's rows.
func scopeOwner(owner model.Owner) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", owner.UserID)
		if owner.BotID != nil {
			db = db.Where("bot_id = ?", *owner.BotID)
		}
		return db
	}
}

// Snapshot runs fn inside a read transaction so every query observes the
// same point in time. Postgres gets REPEATABLE READ; sqlite transactions are
// already serialized.
func Snapshot(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var opts *sql.TxOptions
	if db.Dialector.Name() == "postgres" {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return db.WithContext(ctx).Transaction(fn, opts)
}
