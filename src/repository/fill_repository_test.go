package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"tradeledger/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillRepositoryListForOwnerQuery(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewFillRepositoryWithDB(mockDB)

	ts := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "user_id", "bot_id", "exchange", "symbol", "side", "quantity", "price", "fee", "timestamp"}).
		AddRow(1, 1, 2, "kraken", "BTCUSDT", "buy", "1", "50000", "5", ts).
		AddRow(2, 1, 2, "kraken", "BTCUSDT", "sell", "1", "52000", "5.2", ts.Add(time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "fills" WHERE user_id = $1 AND bot_id = $2 ORDER BY timestamp ASC, id ASC`)).
		WithArgs(uint(1), uint(2)).
		WillReturnRows(rows)

	fills, err := repo.ListForOwner(context.Background(), model.BotOwner(1, 2), nil)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, model.SideSell, fills[1].Side)
	assert.True(t, fills[1].Fee.Equal(decimal.RequireFromString("5.2")))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "fills" WHERE user_id = $1 AND timestamp >= $2`)).
		WithArgs(uint(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountForOwner(context.Background(), model.UserOwner(1), ts)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFillRepositoryRejectsDuplicateIdempotencyKey(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewFillRepositoryWithDB(db)
	ctx := context.Background()

	newFill := func() *model.Fill {
		return &model.Fill{
			UserID:         1,
			BotID:          2,
			Exchange:       model.VenuePaper,
			Symbol:         model.SymbolETHUSDT,
			Side:           model.SideBuy,
			Quantity:       decimal.RequireFromString("0.5"),
			Price:          decimal.NewFromInt(3000),
			Fee:            decimal.RequireFromString("1.5"),
			OrderID:        "ord-1",
			IdempotencyKey: ptrString("key-1"),
			Timestamp:      time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC),
		}
	}

	first := newFill()
	require.NoError(t, repo.Create(ctx, first))
	require.NotZero(t, first.ID)

	err := repo.Create(ctx, newFill())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDuplicateIdempotencyKey))

	found, err := repo.FindByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
	assert.True(t, found.Quantity.Equal(decimal.RequireFromString("0.5")))

	missing, err := repo.FindByIdempotencyKey(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := repo.ListForOwner(ctx, model.UserOwner(1), nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFillRepositoryOrdersByTimestampNotID(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewFillRepositoryWithDB(db)
	ctx := context.Background()

	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		require.NoError(t, repo.Create(ctx, &model.Fill{
			UserID:    1,
			BotID:     1,
			Exchange:  model.VenuePaper,
			Symbol:    model.SymbolBTCUSDT,
			Side:      model.SideBuy,
			Quantity:  decimal.NewFromInt(int64(i + 1)),
			Price:     decimal.NewFromInt(100),
			Timestamp: base.Add(offset),
		}))
	}

	fills, err := repo.ListForOwner(ctx, model.BotOwner(1, 1), nil)
	require.NoError(t, err)
	require.Len(t, fills, 3)
	assert.True(t, fills[0].Timestamp.Equal(base.Add(time.Hour)))
	assert.True(t, fills[2].Timestamp.Equal(base.Add(3*time.Hour)))

	until := base.Add(2 * time.Hour)
	bounded, err := repo.ListForOwner(ctx, model.BotOwner(1, 1), &until)
	require.NoError(t, err)
	assert.Len(t, bounded, 2)

	other, err := repo.ListForOwner(ctx, model.BotOwner(1, 9), nil)
	require.NoError(t, err)
	assert.Empty(t, other)
}
