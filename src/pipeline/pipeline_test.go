package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradeledger/src/connectors"
	"tradeledger/src/database"
	"tradeledger/src/fees"
	"tradeledger/src/ledger"
	"tradeledger/src/metrics"
	"tradeledger/src/model"
	"tradeledger/src/risk"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var start = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	ledger   *ledger.Service
	breaker  *risk.CircuitBreaker
	pipeline *Pipeline
	clock    time.Time
	mu       sync.Mutex
}

func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

func testConfig() Config {
	return Config{
		BotDailyTradeCap:       3,
		UserDailyTradeCap:      5,
		BurstWindow:            10 * time.Second,
		BurstCap:               100,
		PendingTTL:             24 * time.Hour,
		SafetyMarginBps:        decimal.NewFromInt(2),
		DefaultExpectedEdgeBps: decimal.NewFromInt(30),
		IdempotencyBucket:      time.Minute,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{db: db, clock: start}
	prices := connectors.NewStaticPriceSource(map[model.Symbol]decimal.Decimal{
		model.SymbolBTCUSDT: decimal.NewFromInt(50000),
	})
	f.ledger = ledger.NewService(db, prices, ledger.Config{ReconcileTolerance: decimal.Zero}).WithClock(f.now)
	f.breaker = risk.NewCircuitBreaker(db, f.ledger, risk.Config{
		MaxConsecutiveLosses: 3,
		MaxErrorsPerHour:     2,
		ErrorWindow:          time.Hour,
	}).WithClock(f.now)
	f.pipeline = New(db, Deps{
		Ledger:  f.ledger,
		Breaker: f.breaker,
		Fees:    fees.NewTable(fees.GetConfig()),
		Prices:  prices,
		Burst:   NewMemoryBurstCounter(cfg.BurstWindow),
	}, cfg).WithClock(f.now)
	return f
}

func intent(key string) OrderIntent {
	return OrderIntent{
		UserID:         1,
		BotID:          10,
		Venue:          model.VenuePaper,
		Symbol:         model.SymbolBTCUSDT,
		Side:           model.SideBuy,
		Amount:         decimal.RequireFromString("0.01"),
		OrderType:      model.OrderTypeMarket,
		IdempotencyKey: key,
		Paper:          true,
	}
}

func (f *fixture) buy(t *testing.T, userID, botID uint, at time.Time) {
	t.Helper()
	_, err := f.ledger.AppendFill(context.Background(), &model.Fill{
		UserID:    userID,
		BotID:     botID,
		Exchange:  model.VenuePaper,
		Symbol:    model.SymbolBTCUSDT,
		Side:      model.SideBuy,
		Quantity:  decimal.RequireFromString("0.01"),
		Price:     decimal.NewFromInt(50000),
		Timestamp: at,
	})
	require.NoError(t, err)
}

func (f *fixture) submit(t *testing.T, in OrderIntent) Result {
	t.Helper()
	res, err := f.pipeline.SubmitOrder(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestSubmitOrderApproved(t *testing.T) {
	f := newFixture(t, testConfig())
	approvedBefore := testutil.ToFloat64(metrics.PipelineSubmissions.WithLabelValues("approved", ""))

	res := f.submit(t, intent("k-1"))

	require.True(t, res.Approved)
	require.Nil(t, res.Rejection)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, "k-1", res.IdempotencyKey)
	assert.Equal(t, []Gate{GateIdempotency, GateFeeCoverage, GateTradeLimiter, GateCircuitBreaker}, res.GatesPassed)

	// paper taker 10 + BTCUSDT spread 1 + market slippage 5 + margin 2
	s := res.ExecutionSummary
	require.NotNil(t, s)
	assert.Equal(t, "18", s.TotalCostBps.String())
	assert.Equal(t, "12", s.NetEdgeBps.String())
	assert.Equal(t, "50000", s.ExpectedPrice.String())
	assert.Equal(t, "500", s.Notional.String())
	assert.Equal(t, "0.5", s.ExpectedFee.String())

	order, err := f.pipeline.Order(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, model.PendingOrderPending, order.State)
	assert.Len(t, order.GateTrail, 4)
	assert.True(t, order.ExpiresAt.Equal(start.Add(24*time.Hour)))

	assert.Equal(t, approvedBefore+1, testutil.ToFloat64(metrics.PipelineSubmissions.WithLabelValues("approved", "")))
}

func TestSubmitOrderRejectsInvalidIntent(t *testing.T) {
	f := newFixture(t, testConfig())

	bad := intent("k-bad")
	bad.Amount = decimal.Zero
	_, err := f.pipeline.SubmitOrder(context.Background(), bad)
	require.Error(t, err)

	limit := intent("k-limit")
	limit.OrderType = model.OrderTypeLimit
	_, err = f.pipeline.SubmitOrder(context.Background(), limit)
	require.Error(t, err)

	unknown := intent("k-venue")
	unknown.Venue = "nosuchexchange"
	res, err := f.pipeline.SubmitOrder(context.Background(), unknown)
	require.Error(t, err)
	assert.False(t, res.Approved)
	assert.Contains(t, err.Error(), "unsupported venue")
}

func TestSubmitOrderNormalizesVenue(t *testing.T) {
	f := newFixture(t, testConfig())

	in := intent("k-upper")
	in.Venue = " Kraken "
	res := f.submit(t, in)
	require.True(t, res.Approved, "rejection: %+v", res.Rejection)

	order, err := f.pipeline.Order(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.VenueKraken, order.Exchange)
}

func TestDuplicateKeyWhilePending(t *testing.T) {
	f := newFixture(t, testConfig())

	first := f.submit(t, intent("k-1"))
	require.True(t, first.Approved)

	second := f.submit(t, intent("k-1"))
	require.False(t, second.Approved)
	require.NotNil(t, second.Rejection)
	assert.Equal(t, GateIdempotency, second.Rejection.Gate)
	assert.Equal(t, CodeDuplicateInFlight, second.Rejection.Code)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, errors.Is(second.Rejection.Err(), model.ErrDuplicateInFlight))
}

func TestGeneratedKeyIsStableWithinBucket(t *testing.T) {
	f := newFixture(t, testConfig())

	first := f.submit(t, intent(""))
	require.True(t, first.Approved)
	assert.Contains(t, first.IdempotencyKey, "sys-")

	f.advance(10 * time.Second)
	retry := f.submit(t, intent(""))
	require.NotNil(t, retry.Rejection)
	assert.Equal(t, CodeDuplicateInFlight, retry.Rejection.Code)
	assert.Equal(t, first.IdempotencyKey, retry.IdempotencyKey)

	f.advance(time.Minute)
	next := f.submit(t, intent(""))
	require.True(t, next.Approved)
	assert.NotEqual(t, first.IdempotencyKey, next.IdempotencyKey)
}

func TestIdempotencyKey(t *testing.T) {
	in := intent("")
	at := start.Add(15 * time.Second)

	assert.Equal(t, IdempotencyKey(in, start, time.Minute), IdempotencyKey(in, at, time.Minute))
	assert.NotEqual(t, IdempotencyKey(in, start, time.Minute), IdempotencyKey(in, start.Add(time.Minute), time.Minute))

	other := in
	other.Amount = decimal.RequireFromString("0.02")
	assert.NotEqual(t, IdempotencyKey(in, start, time.Minute), IdempotencyKey(other, start, time.Minute))

	scaled := in
	scaled.Amount = decimal.RequireFromString("0.010")
	assert.Equal(t, IdempotencyKey(in, start, time.Minute), IdempotencyKey(scaled, start, time.Minute))
}

func TestFeeCoverageReportedBeforeTradeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.BotDailyTradeCap = 1
	f := newFixture(t, cfg)
	f.buy(t, 1, 10, start.Add(-time.Hour))

	thin := intent("k-thin")
	edge := decimal.NewFromInt(10)
	thin.ExpectedEdgeBps = &edge

	res := f.submit(t, thin)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, GateFeeCoverage, res.Rejection.Gate)
	assert.Equal(t, CodeInsufficientEdge, res.Rejection.Code)
	assert.Equal(t, []Gate{GateIdempotency}, res.GatesPassed)
	assert.True(t, errors.Is(res.Rejection.Err(), model.ErrInsufficientFeeCoverage))

	// Same order with enough edge now fails at the limiter.
	res = f.submit(t, intent("k-thick"))
	require.NotNil(t, res.Rejection)
	assert.Equal(t, GateTradeLimiter, res.Rejection.Gate)
	assert.Equal(t, CodeBotDailyCap, res.Rejection.Code)
}

func TestLimitOrderUsesMakerFeeAndLimitPrice(t *testing.T) {
	f := newFixture(t, testConfig())

	in := intent("k-limit")
	in.OrderType = model.OrderTypeLimit
	price := decimal.NewFromInt(49000)
	in.Price = &price

	res := f.submit(t, in)
	require.True(t, res.Approved)
	// paper maker 10 + spread 1 + limit slippage 0 + margin 2
	assert.Equal(t, "13", res.ExecutionSummary.TotalCostBps.String())
	assert.Equal(t, "49000", res.ExecutionSummary.ExpectedPrice.String())
}

func TestTradeLimiterDailyCaps(t *testing.T) {
	f := newFixture(t, testConfig())

	// Yesterday's trades do not count.
	for i := 0; i < 4; i++ {
		f.buy(t, 1, 10, start.Add(-13*time.Hour))
	}
	require.True(t, f.submit(t, intent("k-0")).Approved)

	for i := 0; i < 3; i++ {
		f.buy(t, 1, 10, start.Add(-time.Duration(i+1)*time.Hour))
	}
	res := f.submit(t, intent("k-1"))
	require.NotNil(t, res.Rejection)
	assert.Equal(t, CodeBotDailyCap, res.Rejection.Code)
	assert.Equal(t, "bot", res.Rejection.Scope)
	assert.Equal(t, "bot:10", res.Rejection.Entity)
	assert.True(t, errors.Is(res.Rejection.Err(), model.ErrTradeLimitExceeded))

	// Another bot of the same user is fine until the user cap is reached.
	other := intent("k-2")
	other.BotID = 11
	require.True(t, f.submit(t, other).Approved)

	f.buy(t, 1, 11, start.Add(-time.Hour))
	f.buy(t, 1, 11, start.Add(-time.Hour))

	other.IdempotencyKey = "k-3"
	res = f.submit(t, other)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, CodeUserDailyCap, res.Rejection.Code)
	assert.Equal(t, "user:1", res.Rejection.Entity)
}

func TestTradeLimiterBurstWindow(t *testing.T) {
	cfg := testConfig()
	cfg.BurstCap = 2
	f := newFixture(t, cfg)

	require.True(t, f.submit(t, intent("b-1")).Approved)
	require.True(t, f.submit(t, intent("b-2")).Approved)

	res := f.submit(t, intent("b-3"))
	require.NotNil(t, res.Rejection)
	assert.Equal(t, CodeBurstCap, res.Rejection.Code)
	assert.Equal(t, "paper:1", res.Rejection.Entity)

	// A different venue has its own window.
	kraken := intent("b-4")
	kraken.Venue = model.VenueKraken
	require.True(t, f.submit(t, kraken).Approved)

	f.advance(11 * time.Second)
	require.True(t, f.submit(t, intent("b-3")).Approved)
}

// stubBreaker stands in for a breaker whose check takes a database round trip.
type stubBreaker struct {
	delay   time.Duration
	mu      sync.Mutex
	blocked bool
}

func (b *stubBreaker) Check(_ context.Context, _, botID uint) (risk.Decision, error) {
	time.Sleep(b.delay)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blocked {
		return risk.Decision{Blocked: true, EntityType: model.EntityBot, EntityID: botID, Reason: "tripped"}, nil
	}
	return risk.Decision{}, nil
}

func (b *stubBreaker) setBlocked(blocked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked = blocked
}

func (f *fixture) withBreaker(cfg Config, breaker Breaker) {
	f.pipeline = New(f.db, Deps{
		Ledger:  f.ledger,
		Breaker: breaker,
		Fees:    fees.NewTable(fees.GetConfig()),
		Burst:   NewMemoryBurstCounter(cfg.BurstWindow),
	}, cfg).WithClock(f.now)
}

func TestTradeLimiterBurstCapHoldsUnderConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.BotDailyTradeCap = 0
	cfg.UserDailyTradeCap = 0
	cfg.BurstCap = 2
	f := newFixture(t, cfg)
	f.withBreaker(cfg, &stubBreaker{delay: 5 * time.Millisecond})

	const workers = 20
	results := make([]Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.pipeline.SubmitOrder(context.Background(), intent(fmt.Sprintf("c-%d", i)))
		}(i)
	}
	wg.Wait()

	approved := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Approved {
			approved++
			continue
		}
		require.NotNil(t, results[i].Rejection)
		assert.Equal(t, CodeBurstCap, results[i].Rejection.Code)
	}
	assert.Equal(t, 2, approved)
}

func TestBurstSlotReleasedWhenBreakerRejects(t *testing.T) {
	cfg := testConfig()
	cfg.BurstCap = 1
	f := newFixture(t, cfg)
	breaker := &stubBreaker{blocked: true}
	f.withBreaker(cfg, breaker)

	res := f.submit(t, intent("r-1"))
	require.NotNil(t, res.Rejection)
	assert.Equal(t, GateCircuitBreaker, res.Rejection.Gate)

	breaker.setBlocked(false)
	res = f.submit(t, intent("r-2"))
	require.True(t, res.Approved, "rejection: %+v", res.Rejection)

	res = f.submit(t, intent("r-3"))
	require.NotNil(t, res.Rejection)
	assert.Equal(t, CodeBurstCap, res.Rejection.Code)
}

// failOrders admits n orders and reports each as refused by the venue.
func (f *fixture) failOrders(t *testing.T, prefix string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		res := f.submit(t, intent(fmt.Sprintf("%s-%d", prefix, i)))
		require.True(t, res.Approved)
		require.NoError(t, f.pipeline.RecordExecutionFailure(context.Background(), res.OrderID, "insufficient margin"))
	}
}

func TestCircuitBreakerIsStickyUntilReset(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.failOrders(t, "fail", 2)

	res := f.submit(t, intent("trip"))
	require.NotNil(t, res.Rejection)
	assert.Equal(t, GateCircuitBreaker, res.Rejection.Gate)
	assert.Equal(t, "bot:10", res.Rejection.Entity)
	assert.True(t, errors.Is(res.Rejection.Err(), model.ErrCircuitBreakerTripped))

	for i := 0; i < 1000; i++ {
		res := f.submit(t, intent(fmt.Sprintf("blocked-%d", i)))
		require.NotNil(t, res.Rejection, "submission %d", i)
		require.Equal(t, GateCircuitBreaker, res.Rejection.Gate, "submission %d", i)
	}

	var pending int64
	require.NoError(t, f.db.Model(&model.PendingOrder{}).Where("state = ?", model.PendingOrderPending).Count(&pending).Error)
	assert.Zero(t, pending)

	f.advance(time.Minute)
	_, err := f.breaker.Reset(ctx, model.EntityBot, 10, 99, "venue margin topped up")
	require.NoError(t, err)

	f.advance(time.Minute)
	res = f.submit(t, intent("after-reset"))
	require.True(t, res.Approved, "rejection: %+v", res.Rejection)
}

func TestRejectedRetryIsAdmittedOnceCauseClears(t *testing.T) {
	cfg := testConfig()
	cfg.BurstCap = 1
	f := newFixture(t, cfg)

	require.True(t, f.submit(t, intent("a")).Approved)
	res := f.submit(t, intent("b"))
	require.NotNil(t, res.Rejection)

	f.advance(11 * time.Second)
	require.True(t, f.submit(t, intent("b")).Approved)
}

func TestConcurrentSubmissionsWithSameKey(t *testing.T) {
	f := newFixture(t, testConfig())

	const workers = 8
	results := make([]Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.pipeline.SubmitOrder(context.Background(), intent("same"))
		}(i)
	}
	wg.Wait()

	approved := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Approved {
			approved++
			continue
		}
		require.NotNil(t, results[i].Rejection)
		assert.Equal(t, CodeDuplicateInFlight, results[i].Rejection.Code)
	}
	assert.Equal(t, 1, approved)

	var rows int64
	require.NoError(t, f.db.Model(&model.PendingOrder{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestRecordFillExecutionIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	res := f.submit(t, intent("k-fill"))
	require.True(t, res.Approved)

	tradeID := "T-1"
	report := FillReport{
		OrderID:         res.OrderID,
		FilledPrice:     decimal.NewFromInt(50050),
		FilledQty:       decimal.RequireFromString("0.01"),
		ActualFee:       decimal.RequireFromString("0.5005"),
		ExchangeTradeID: &tradeID,
	}
	recorded := metrics.FillsRecorded.WithLabelValues(string(model.VenuePaper), metrics.Mode(true))
	recordedBefore := testutil.ToFloat64(recorded)

	fillID, err := f.pipeline.RecordFillExecution(ctx, report)
	require.NoError(t, err)
	require.NotZero(t, fillID)
	assert.Equal(t, recordedBefore+1, testutil.ToFloat64(recorded))

	order, err := f.pipeline.Order(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.PendingOrderFilled, order.State)
	require.NotNil(t, order.FillID)
	assert.Equal(t, fillID, *order.FillID)
	assert.True(t, order.SlippageBps.Decimal.Equal(decimal.NewFromInt(10)), order.SlippageBps.Decimal.String())
	assert.True(t, order.ActualFeeBps.Decimal.Equal(decimal.NewFromInt(10)), order.ActualFeeBps.Decimal.String())

	var fill model.Fill
	require.NoError(t, f.db.First(&fill, fillID).Error)
	assert.Equal(t, model.SideBuy, fill.Side)
	assert.Equal(t, "USDT", fill.FeeCurrency)
	assert.Equal(t, "50000", fill.Metadata["expected_price"])
	assert.Equal(t, "10", fill.Metadata["slippage_bps"])
	assert.Equal(t, "18", fill.Metadata["expected_total_cost_bps"])

	again, err := f.pipeline.RecordFillExecution(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, fillID, again)
	assert.Equal(t, recordedBefore+1, testutil.ToFloat64(recorded))

	var fills int64
	require.NoError(t, f.db.Model(&model.Fill{}).Count(&fills).Error)
	assert.Equal(t, int64(1), fills)

	// A retry of the submission gets the cached approval.
	cached := f.submit(t, intent("k-fill"))
	assert.True(t, cached.Approved)
	assert.True(t, cached.Cached)
	assert.Equal(t, res.OrderID, cached.OrderID)
	require.NotNil(t, cached.FillID)
	assert.Equal(t, fillID, *cached.FillID)
}

func TestRecordFillExecutionErrors(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.pipeline.RecordFillExecution(ctx, FillReport{
		OrderID:     "missing",
		FilledPrice: decimal.NewFromInt(1),
		FilledQty:   decimal.NewFromInt(1),
	})
	assert.True(t, errors.Is(err, model.ErrOrderNotFound))

	_, err = f.pipeline.RecordFillExecution(ctx, FillReport{OrderID: "x", FilledQty: decimal.NewFromInt(1)})
	require.Error(t, err)

	res := f.submit(t, intent("k-refused"))
	require.NoError(t, f.pipeline.RecordExecutionFailure(ctx, res.OrderID, "post-only would cross"))

	_, err = f.pipeline.RecordFillExecution(ctx, FillReport{
		OrderID:     res.OrderID,
		FilledPrice: decimal.NewFromInt(50000),
		FilledQty:   decimal.RequireFromString("0.01"),
	})
	assert.True(t, errors.Is(err, model.ErrOrderNotPending))

	err = f.pipeline.RecordExecutionFailure(ctx, res.OrderID, "again")
	assert.True(t, errors.Is(err, model.ErrOrderNotPending))
	assert.True(t, errors.Is(f.pipeline.RecordExecutionFailure(ctx, "missing", ""), model.ErrOrderNotFound))

	retry := f.submit(t, intent("k-refused"))
	require.NotNil(t, retry.Rejection)
	assert.Equal(t, CodePreviouslyRejected, retry.Rejection.Code)
	assert.Equal(t, "post-only would cross", retry.Rejection.Reason)

	var errorEvents int64
	require.NoError(t, f.db.Model(&model.LedgerEvent{}).Where("kind = ?", model.EventError).Count(&errorEvents).Error)
	assert.Equal(t, int64(1), errorEvents)
}

func TestExpireStaleLateFillAndPurge(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	late := f.submit(t, intent("k-late"))
	gone := f.submit(t, intent("k-gone"))
	require.True(t, late.Approved)
	require.True(t, gone.Approved)

	n, err := f.pipeline.ExpireStale(ctx, start.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	f.advance(25 * time.Hour)
	n, err = f.pipeline.ExpireStale(ctx, f.now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	retry := f.submit(t, intent("k-gone"))
	require.NotNil(t, retry.Rejection)
	assert.Equal(t, CodePreviouslyExpired, retry.Rejection.Code)

	fillID, err := f.pipeline.RecordFillExecution(ctx, FillReport{
		OrderID:     late.OrderID,
		FilledPrice: decimal.NewFromInt(50000),
		FilledQty:   decimal.RequireFromString("0.01"),
		ActualFee:   decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)
	var fill model.Fill
	require.NoError(t, f.db.First(&fill, fillID).Error)
	assert.Equal(t, true, fill.Metadata["late_fill"])

	purged, err := f.pipeline.PurgeTerminal(ctx, f.now().Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	kept, err := f.pipeline.Order(ctx, late.OrderID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, model.PendingOrderFilled, kept.State)

	removed, err := f.pipeline.Order(ctx, gone.OrderID)
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestRejectionErrMapping(t *testing.T) {
	tests := []struct {
		rejection *Rejection
		want      error
	}{
		{&Rejection{Gate: GateIdempotency, Code: CodePreviouslyExpired}, model.ErrDuplicateIdempotencyKey},
		{&Rejection{Gate: GateIdempotency, Code: CodeDuplicateInFlight}, model.ErrDuplicateInFlight},
		{&Rejection{Gate: GateFeeCoverage}, model.ErrInsufficientFeeCoverage},
		{&Rejection{Gate: GateTradeLimiter}, model.ErrTradeLimitExceeded},
		{&Rejection{Gate: GateCircuitBreaker}, model.ErrCircuitBreakerTripped},
	}
	for _, tt := range tests {
		assert.True(t, errors.Is(tt.rejection.Err(), tt.want), "%s/%s", tt.rejection.Gate, tt.rejection.Code)
	}

	var none *Rejection
	assert.NoError(t, none.Err())
}
