package risk

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradeledger/src/database"
	"tradeledger/src/ledger"
	"tradeledger/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var now = time.Date(2024, 4, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	db      *gorm.DB
	ledger  *ledger.Service
	breaker *CircuitBreaker
	clock   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "risk.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{db: db, clock: now}
	clock := func() time.Time { return f.clock }
	f.ledger = ledger.NewService(db, nil, ledger.Config{ReconcileTolerance: decimal.Zero}).WithClock(clock)
	f.breaker = NewCircuitBreaker(db, f.ledger, cfg).WithClock(clock)
	return f
}

func (f *fixture) fill(t *testing.T, userID, botID uint, side model.Side, price string, at time.Time) {
	t.Helper()
	_, err := f.ledger.AppendFill(context.Background(), &model.Fill{
		UserID:    userID,
		BotID:     botID,
		Exchange:  model.VenuePaper,
		Symbol:    model.SymbolBTCUSDT,
		Side:      side,
		Quantity:  decimal.NewFromInt(1),
		Price:     decimal.RequireFromString(price),
		Timestamp: at,
	})
	require.NoError(t, err)
}

// losingRoundTrips writes n buy/sell pairs each losing 10.
func (f *fixture) losingRoundTrips(t *testing.T, userID, botID uint, n int, start time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		at := start.Add(time.Duration(i) * 2 * time.Minute)
		f.fill(t, userID, botID, model.SideBuy, "100", at)
		f.fill(t, userID, botID, model.SideSell, "90", at.Add(time.Minute))
	}
}

func (f *fixture) breakerEvents(t *testing.T, userID uint) []model.LedgerEvent {
	t.Helper()
	var events []model.LedgerEvent
	require.NoError(t, f.db.Where("user_id = ? AND kind = ?", userID, model.EventCircuitBreaker).Order("id").Find(&events).Error)
	return events
}

func lossesOnly(n int) Config {
	return Config{MaxConsecutiveLosses: n}
}

func TestCheckPassesWithoutActivity(t *testing.T) {
	f := newFixture(t, Config{
		MaxDrawdownPct:       decimal.NewFromInt(20),
		MaxDailyLossPct:      decimal.NewFromInt(5),
		MaxConsecutiveLosses: 3,
		MaxErrorsPerHour:     5,
		ErrorWindow:          time.Hour,
	})

	decision, err := f.breaker.Check(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.False(t, decision.Blocked)
}

func TestConsecutiveLossesTripIsSticky(t *testing.T) {
	f := newFixture(t, lossesOnly(3))
	ctx := context.Background()

	f.losingRoundTrips(t, 1, 10, 3, now.Add(-time.Hour))

	decision, err := f.breaker.Check(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.True(t, decision.NewlyTripped)
	assert.Equal(t, model.EntityBot, decision.EntityType)
	assert.Equal(t, uint(10), decision.EntityID)
	assert.Equal(t, model.TripCategoryConsecutiveLosses, decision.Category)

	// a winning trade does not clear the trip
	f.fill(t, 1, 10, model.SideBuy, "100", now.Add(-5*time.Minute))
	f.fill(t, 1, 10, model.SideSell, "200", now.Add(-4*time.Minute))

	for i := 0; i < 1000; i++ {
		decision, err = f.breaker.Check(ctx, 1, 10)
		require.NoError(t, err)
		require.True(t, decision.Blocked)
		require.False(t, decision.NewlyTripped)
	}

	events := f.breakerEvents(t, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "trip", events[0].Metadata["action"])
	require.NotNil(t, events[0].BotID)
	assert.Equal(t, uint(10), *events[0].BotID)

	history, err := f.breaker.History(ctx, model.EntityBot, 10, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, uint(1), history[0].UserID)
}

func TestResetAdmitsAgainAndIsAudited(t *testing.T) {
	f := newFixture(t, lossesOnly(3))
	ctx := context.Background()

	f.losingRoundTrips(t, 1, 10, 3, now.Add(-time.Hour))
	decision, err := f.breaker.Check(ctx, 1, 10)
	require.NoError(t, err)
	require.True(t, decision.Blocked)

	_, err = f.breaker.Reset(ctx, model.EntityBot, 10, 99, "  ")
	assert.Error(t, err)
	_, err = f.breaker.Reset(ctx, model.EntityBot, 10, 0, "reviewed")
	assert.Error(t, err)

	f.clock = now.Add(time.Minute)
	state, err := f.breaker.Reset(ctx, model.EntityBot, 10, 99, "losses reviewed")
	require.NoError(t, err)
	assert.False(t, state.Tripped)
	require.NotNil(t, state.ResetByUserID)
	assert.Equal(t, uint(99), *state.ResetByUserID)

	// the losses before the reset are acknowledged and not counted again
	decision, err = f.breaker.Check(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, decision.Blocked)

	status, err := f.breaker.Status(ctx, model.EntityBot, 10)
	require.NoError(t, err)
	assert.False(t, status.Tripped)
	require.NotNil(t, status.LastResetAt)
	assert.True(t, status.LastResetAt.Equal(f.clock))

	_, err = f.breaker.Reset(ctx, model.EntityBot, 10, 99, "again")
	assert.True(t, errors.Is(err, model.ErrNotTripped))

	events := f.breakerEvents(t, 1)
	require.Len(t, events, 2)
	assert.Equal(t, "reset", events[1].Metadata["action"])
	assert.Equal(t, float64(99), events[1].Metadata["reset_by_user_id"])

	// new losses after the reset trip it again
	f.losingRoundTrips(t, 1, 10, 3, f.clock.Add(time.Minute))
	f.clock = f.clock.Add(time.Hour)
	decision, err = f.breaker.Check(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, decision.NewlyTripped)
}

func TestUserTripBlocksEveryBot(t *testing.T) {
	f := newFixture(t, lossesOnly(4))
	ctx := context.Background()

	// two losses on each bot: neither bot trips, the user streak does
	f.losingRoundTrips(t, 1, 10, 2, now.Add(-2*time.Hour))
	f.losingRoundTrips(t, 1, 11, 2, now.Add(-time.Hour))

	decision, err := f.breaker.Check(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.Equal(t, model.EntityUser, decision.EntityType)
	assert.Equal(t, uint(1), decision.EntityID)

	decision, err = f.breaker.Check(ctx, 1, 12)
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.False(t, decision.NewlyTripped)
	assert.Equal(t, model.EntityUser, decision.EntityType)

	other, err := f.breaker.Check(ctx, 2, 20)
	require.NoError(t, err)
	assert.False(t, other.Blocked)
}

func TestErrorRateTrip(t *testing.T) {
	f := newFixture(t, Config{MaxErrorsPerHour: 3, ErrorWindow: time.Hour})
	ctx := context.Background()
	botID := uint(10)

	for i, at := range []time.Duration{-90 * time.Minute, -40 * time.Minute, -20 * time.Minute} {
		_, err := f.ledger.AppendEventTx(ctx, f.db, &model.LedgerEvent{
			UserID:      1,
			BotID:       &botID,
			Kind:        model.EventError,
			Timestamp:   now.Add(at),
			Description: "order rejected",
			Metadata:    model.JSONMap{"n": i},
		})
		require.NoError(t, err)
	}

	decision, err := f.breaker.Check(ctx, 1, botID)
	require.NoError(t, err)
	assert.False(t, decision.Blocked, "the oldest error is outside the window")

	_, err = f.ledger.AppendEventTx(ctx, f.db, &model.LedgerEvent{
		UserID: 1, BotID: &botID, Kind: model.EventError, Timestamp: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	decision, err = f.breaker.Check(ctx, 1, botID)
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.Equal(t, model.TripCategoryErrorRate, decision.Category)
}

func TestDrawdownTripAndDailyLoss(t *testing.T) {
	f := newFixture(t, Config{MaxDrawdownPct: decimal.NewFromInt(20), MaxDailyLossPct: decimal.NewFromInt(50)})
	ctx := context.Background()
	botID := uint(10)

	_, err := f.ledger.AppendEventTx(ctx, f.db, &model.LedgerEvent{
		UserID: 1, BotID: &botID, Kind: model.EventFunding, Amount: decimal.NewFromInt(1000), Currency: "USDT",
		Timestamp: now.Add(-72 * time.Hour),
	})
	require.NoError(t, err)

	// yesterday: lose 250 (25% drawdown, but not today's loss)
	f.fill(t, 1, botID, model.SideBuy, "1000", now.Add(-30*time.Hour))
	f.fill(t, 1, botID, model.SideSell, "750", now.Add(-29*time.Hour))

	decision, err := f.breaker.Check(ctx, 1, botID)
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.Equal(t, model.TripCategoryDrawdown, decision.Category)
	assert.Equal(t, "25", decision.State.Metrics["drawdown_pct"])
}

func TestDailyLossTrip(t *testing.T) {
	f := newFixture(t, Config{MaxDailyLossPct: decimal.NewFromInt(5)})
	ctx := context.Background()
	botID := uint(10)

	_, err := f.ledger.AppendEventTx(ctx, f.db, &model.LedgerEvent{
		UserID: 1, BotID: &botID, Kind: model.EventFunding, Amount: decimal.NewFromInt(1000), Currency: "USDT",
		Timestamp: now.Add(-72 * time.Hour),
	})
	require.NoError(t, err)

	f.fill(t, 1, botID, model.SideBuy, "1000", now.Add(-2*time.Hour))
	f.fill(t, 1, botID, model.SideSell, "940", now.Add(-time.Hour))

	decision, err := f.breaker.Check(ctx, 1, botID)
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.Equal(t, model.TripCategoryDailyLoss, decision.Category)
}

func TestConcurrentChecksTripOnce(t *testing.T) {
	f := newFixture(t, lossesOnly(2))
	f.losingRoundTrips(t, 1, 10, 2, now.Add(-time.Hour))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tripped int
		blocked int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := f.breaker.Check(context.Background(), 1, 10)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if decision.NewlyTripped {
				tripped++
			}
			if decision.Blocked {
				blocked++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, tripped)
	assert.Equal(t, 8, blocked)

	var count int64
	require.NoError(t, f.db.Model(&model.CircuitBreakerState{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
