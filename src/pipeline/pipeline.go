package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeledger/src/connectors"
	"tradeledger/src/metrics"
	"tradeledger/src/model"
	"tradeledger/src/repository"
	"tradeledger/src/risk"
	"tradeledger/src/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var bpsScale = decimal.NewFromInt(10000)

// Ledger is what the pipeline reads from and writes to the ledger.
type Ledger interface {
	TradeCount(ctx context.Context, owner model.Owner, since time.Time) (int64, error)
	AppendFillTx(ctx context.Context, tx *gorm.DB, fill *model.Fill) (uint, error)
	AppendEventTx(ctx context.Context, tx *gorm.DB, event *model.LedgerEvent) (uint, error)
}

type Breaker interface {
	Check(ctx context.Context, userID, botID uint) (risk.Decision, error)
}

// FeeTable supplies the Gate B cost components in basis points.
type FeeTable interface {
	ExchangeFeeBps(venue model.Venue, orderType model.OrderType) decimal.Decimal
	EstimatedSpreadBps(symbol model.Symbol) decimal.Decimal
	SlippageBufferBps(orderType model.OrderType) decimal.Decimal
}

// Deps are the collaborators of a Pipeline. Prices may be nil, in which case
// market orders carry no expected price and slippage is not measured.
type Deps struct {
	Ledger  Ledger
	Breaker Breaker
	Fees    FeeTable
	Prices  connectors.PriceSource
	Burst   BurstCounter
}

// Pipeline admits order intents through four gates in a fixed order and
// reconciles their executions back into the ledger.
type Pipeline struct {
	db     *gorm.DB
	orders *repository.PendingOrderRepository
	fills  *repository.FillRepository
	deps   Deps
	config Config
	now    func() time.Time
}

func New(db *gorm.DB, deps Deps, config Config) *Pipeline {
	if deps.Burst == nil {
		deps.Burst = NewMemoryBurstCounter(config.BurstWindow)
	}
	return &Pipeline{
		db:     db,
		orders: repository.NewPendingOrderRepositoryWithDB(db),
		fills:  repository.NewFillRepositoryWithDB(db),
		deps:   deps,
		config: config,
		now:    time.Now,
	}
}

func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// evaluation accumulates the gate trail of one submission.
type evaluation struct {
	key    string
	at     time.Time
	trail  []model.GateEvaluation
	passed []Gate
}

func (e *evaluation) pass(gate Gate, detail string) {
	e.trail = append(e.trail, model.GateEvaluation{Gate: string(gate), Passed: true, Detail: detail, Evaluated: e.at})
	e.passed = append(e.passed, gate)
}

func (e *evaluation) reject(r *Rejection) Result {
	return Result{IdempotencyKey: e.key, GatesPassed: e.passed, Rejection: r}
}

// SubmitOrder runs the gates A to D and persists the order on success.
// Gate failures come back as a Result with a Rejection; the error is
// reserved for invalid input and storage faults.
func (p *Pipeline) SubmitOrder(ctx context.Context, intent OrderIntent) (Result, error) {
	start := time.Now()
	defer func() { metrics.PipelineLatency.Observe(time.Since(start).Seconds()) }()

	intent.Symbol = model.NormalizeSymbol(string(intent.Symbol))
	if venue, err := model.ParseVenue(string(intent.Venue)); err == nil {
		intent.Venue = venue
	}
	if err := intent.validate(); err != nil {
		return Result{}, err
	}

	now := p.now().UTC()
	ev := &evaluation{key: intent.IdempotencyKey, at: now}
	if ev.key == "" {
		ev.key = IdempotencyKey(intent, now, p.config.IdempotencyBucket)
	}

	log := logger.WithFields(map[string]interface{}{
		"component":       "pipeline",
		"user_id":         intent.UserID,
		"bot_id":          intent.BotID,
		"venue":           intent.Venue,
		"symbol":          intent.Symbol,
		"idempotency_key": ev.key,
	})

	result, err := p.admit(ctx, intent, ev)
	if err != nil {
		log.WithError(err).Error("Order admission failed")
		return Result{}, err
	}

	switch {
	case result.Rejection != nil:
		metrics.PipelineSubmissions.WithLabelValues("rejected", string(result.Rejection.Gate)).Inc()
		log.WithField("gate", result.Rejection.Gate).
			WithField("code", result.Rejection.Code).
			Infof("Order rejected: %s", result.Rejection.Reason)
	case result.Cached:
		metrics.PipelineSubmissions.WithLabelValues("cached", string(GateIdempotency)).Inc()
		log.WithField("order_id", result.OrderID).Info("Returning cached result for filled order")
	default:
		metrics.PipelineSubmissions.WithLabelValues("approved", "").Inc()
		log.WithField("order_id", result.OrderID).Info("Order approved")
	}
	return result, nil
}

func (p *Pipeline) admit(ctx context.Context, intent OrderIntent, ev *evaluation) (Result, error) {
	// Gate A
	existing, err := p.orders.FindByIdempotencyKey(ctx, ev.key)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing != nil {
		return fromExisting(existing), nil
	}
	ev.pass(GateIdempotency, "key unseen")

	// Gate B
	summary, err := p.executionSummary(ctx, intent)
	if err != nil {
		return Result{}, err
	}
	if summary.NetEdgeBps.IsNegative() {
		reason := fmt.Sprintf("expected edge %s bps does not cover total cost %s bps",
			summary.ExpectedEdgeBps.StringFixed(2), summary.TotalCostBps.StringFixed(2))
		return ev.reject(&Rejection{Gate: GateFeeCoverage, Code: CodeInsufficientEdge, Reason: reason}), nil
	}
	ev.pass(GateFeeCoverage, fmt.Sprintf("net edge %s bps", summary.NetEdgeBps.StringFixed(2)))

	// Gate C reserves a burst slot for the order id; it is handed back unless
	// the order is persisted below.
	orderID := uuid.NewString()
	if rejection, err := p.checkLimits(ctx, intent, orderID, ev.at); err != nil || rejection != nil {
		if err != nil {
			return Result{}, err
		}
		return ev.reject(rejection), nil
	}
	persisted := false
	defer func() {
		if !persisted && p.config.BurstCap > 0 {
			p.releaseBurst(intent, orderID)
		}
	}()
	ev.pass(GateTradeLimiter, "within limits")

	// Gate D
	decision, err := p.deps.Breaker.Check(ctx, intent.UserID, intent.BotID)
	if err != nil {
		return Result{}, fmt.Errorf("circuit breaker check: %w", err)
	}
	if decision.Blocked {
		return ev.reject(&Rejection{
			Gate:   GateCircuitBreaker,
			Code:   CodeCircuitBreakerTrips,
			Scope:  string(decision.EntityType),
			Entity: fmt.Sprintf("%s:%d", decision.EntityType, decision.EntityID),
			Reason: decision.Reason,
		}), nil
	}
	ev.pass(GateCircuitBreaker, "not tripped")

	order := &model.PendingOrder{
		IdempotencyKey:   ev.key,
		OrderID:          orderID,
		UserID:           intent.UserID,
		BotID:            intent.BotID,
		Exchange:         intent.Venue,
		Symbol:           intent.Symbol,
		Side:             intent.Side,
		Amount:           intent.Amount,
		OrderType:        intent.OrderType,
		Paper:            intent.Paper,
		State:            model.PendingOrderPending,
		GateTrail:        ev.trail,
		ExecutionSummary: &summary,
		ExpiresAt:        ev.at.Add(p.config.PendingTTL),
	}
	if intent.Price != nil {
		order.Price = decimal.NewNullDecimal(*intent.Price)
	}

	if err := p.orders.Create(ctx, order); err != nil {
		if errors.Is(err, model.ErrDuplicateIdempotencyKey) {
			// A concurrent submission with the same key won the insert.
			winner, findErr := p.orders.FindByIdempotencyKey(ctx, ev.key)
			if findErr != nil {
				return Result{}, fmt.Errorf("idempotency lookup: %w", findErr)
			}
			if winner != nil {
				return fromExisting(winner), nil
			}
		}
		return Result{}, fmt.Errorf("persist pending order: %w", err)
	}

	persisted = true
	return Result{
		Approved:         true,
		OrderID:          order.OrderID,
		IdempotencyKey:   ev.key,
		GatesPassed:      ev.passed,
		ExecutionSummary: &summary,
	}, nil
}

// fromExisting answers Gate A for a key that was already admitted.
func fromExisting(order *model.PendingOrder) Result {
	result := Result{IdempotencyKey: order.IdempotencyKey, OrderID: order.OrderID}

	switch order.State {
	case model.PendingOrderFilled:
		result.Approved = true
		result.Cached = true
		result.GatesPassed = []Gate{GateIdempotency, GateFeeCoverage, GateTradeLimiter, GateCircuitBreaker}
		result.ExecutionSummary = order.ExecutionSummary
		result.FillID = order.FillID
		return result
	case model.PendingOrderRejected:
		result.Rejection = &Rejection{Gate: GateIdempotency, Code: CodePreviouslyRejected, Reason: order.RejectionReason}
	case model.PendingOrderExpired:
		result.Rejection = &Rejection{Gate: GateIdempotency, Code: CodePreviouslyExpired, Reason: order.RejectionReason}
	default:
		result.Rejection = &Rejection{
			Gate:   GateIdempotency,
			Code:   CodeDuplicateInFlight,
			Reason: fmt.Sprintf("order %s with this idempotency key is still pending", order.OrderID),
		}
	}
	return result
}

// executionSummary computes the Gate B cost breakdown.
func (p *Pipeline) executionSummary(ctx context.Context, intent OrderIntent) (model.ExecutionSummary, error) {
	summary := model.ExecutionSummary{
		ExchangeFeeBps:  p.deps.Fees.ExchangeFeeBps(intent.Venue, intent.OrderType),
		SpreadBps:       p.deps.Fees.EstimatedSpreadBps(intent.Symbol),
		SlippageBps:     p.deps.Fees.SlippageBufferBps(intent.OrderType),
		SafetyMarginBps: p.config.SafetyMarginBps,
		ExpectedEdgeBps: p.config.DefaultExpectedEdgeBps,
	}
	if intent.ExpectedEdgeBps != nil {
		summary.ExpectedEdgeBps = *intent.ExpectedEdgeBps
	}
	summary.TotalCostBps = summary.ExchangeFeeBps.
		Add(summary.SpreadBps).
		Add(summary.SlippageBps).
		Add(summary.SafetyMarginBps)
	summary.NetEdgeBps = summary.ExpectedEdgeBps.Sub(summary.TotalCostBps)

	price, err := p.expectedPrice(ctx, intent)
	if err != nil {
		return summary, err
	}
	summary.ExpectedPrice = price
	summary.Notional = intent.Amount.Mul(price)
	summary.ExpectedFee = summary.Notional.Mul(summary.ExchangeFeeBps).Div(bpsScale)
	return summary, nil
}

// expectedPrice is the limit price, or the current mark for market orders.
// A missing mark is not fatal: the order is still admitted, its slippage is
// just not measured on fill.
func (p *Pipeline) expectedPrice(ctx context.Context, intent OrderIntent) (decimal.Decimal, error) {
	if intent.OrderType == model.OrderTypeLimit {
		return *intent.Price, nil
	}
	if p.deps.Prices == nil {
		return decimal.Zero, nil
	}
	price, err := p.deps.Prices.MarkPrice(ctx, intent.Symbol, intent.Venue)
	if err != nil {
		if errors.Is(err, model.ErrPriceSourceUnavailable) {
			logger.WithFields(map[string]interface{}{
				"component": "pipeline",
				"symbol":    intent.Symbol,
				"venue":     intent.Venue,
			}).WithError(err).Warn("No mark price for expected execution price")
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return price, nil
}

func burstKey(intent OrderIntent) string {
	return fmt.Sprintf("%s:%d", intent.Venue, intent.UserID)
}

// releaseBurst hands back the slot reserved at Gate C. It runs on a fresh
// context so a cancelled request still frees its slot.
func (p *Pipeline) releaseBurst(intent OrderIntent, orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deps.Burst.Release(ctx, burstKey(intent), orderID); err != nil {
		logger.WithField("component", "pipeline").
			WithField("order_id", orderID).
			WithError(err).Warn("Failed to release burst slot")
	}
}

// checkLimits is Gate C: the bot and user daily caps, then the venue burst.
// An admitted burst check leaves a slot reserved under orderID.
func (p *Pipeline) checkLimits(ctx context.Context, intent OrderIntent, orderID string, now time.Time) (*Rejection, error) {
	dayStart := utils.ResetTime(now, utils.PeriodDay)

	if p.config.BotDailyTradeCap > 0 {
		count, err := p.deps.Ledger.TradeCount(ctx, model.BotOwner(intent.UserID, intent.BotID), dayStart)
		if err != nil {
			return nil, fmt.Errorf("bot trade count: %w", err)
		}
		if count >= p.config.BotDailyTradeCap {
			return &Rejection{
				Gate:   GateTradeLimiter,
				Code:   CodeBotDailyCap,
				Scope:  string(model.EntityBot),
				Entity: fmt.Sprintf("bot:%d", intent.BotID),
				Reason: fmt.Sprintf("bot made %d trades today, cap is %d", count, p.config.BotDailyTradeCap),
			}, nil
		}
	}

	if p.config.UserDailyTradeCap > 0 {
		count, err := p.deps.Ledger.TradeCount(ctx, model.UserOwner(intent.UserID), dayStart)
		if err != nil {
			return nil, fmt.Errorf("user trade count: %w", err)
		}
		if count >= p.config.UserDailyTradeCap {
			return &Rejection{
				Gate:   GateTradeLimiter,
				Code:   CodeUserDailyCap,
				Scope:  string(model.EntityUser),
				Entity: fmt.Sprintf("user:%d", intent.UserID),
				Reason: fmt.Sprintf("user made %d trades today, cap is %d", count, p.config.UserDailyTradeCap),
			}, nil
		}
	}

	if p.config.BurstCap > 0 {
		key := burstKey(intent)
		admitted, count, err := p.deps.Burst.Reserve(ctx, key, orderID, now, p.config.BurstCap)
		if err != nil {
			return nil, fmt.Errorf("burst reserve: %w", err)
		}
		if !admitted {
			reason := fmt.Sprintf("%d orders on %s in the last %s, cap is %d",
				count, intent.Venue, p.config.BurstWindow, p.config.BurstCap)
			return &Rejection{
				Gate:   GateTradeLimiter,
				Code:   CodeBurstCap,
				Scope:  "venue",
				Entity: key,
				Reason: reason,
			}, nil
		}
	}

	return nil, nil
}
