package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"tradeledger/src/model"

	"github.com/shopspring/decimal"
)

type Gate string

const (
	GateIdempotency    Gate = "idempotency"
	GateFeeCoverage    Gate = "fee_coverage"
	GateTradeLimiter   Gate = "trade_limiter"
	GateCircuitBreaker Gate = "circuit_breaker"
)

// Rejection codes.
const (
	CodeDuplicateInFlight   = "duplicate_in_flight"
	CodePreviouslyRejected  = "previously_rejected"
	CodePreviouslyExpired   = "previously_expired"
	CodeInsufficientEdge    = "insufficient_fee_coverage"
	CodeBotDailyCap         = "bot_daily_cap"
	CodeUserDailyCap        = "user_daily_cap"
	CodeBurstCap            = "burst_cap"
	CodeCircuitBreakerTrips = "circuit_breaker_tripped"
)

// OrderIntent is what a bot asks the pipeline to admit.
type OrderIntent struct {
	UserID    uint
	BotID     uint
	Venue     model.Venue
	Symbol    model.Symbol
	Side      model.Side
	Amount    decimal.Decimal
	OrderType model.OrderType
	// Price is required for limit orders.
	Price *decimal.Decimal
	// ExpectedEdgeBps falls back to Config.DefaultExpectedEdgeBps.
	ExpectedEdgeBps *decimal.Decimal
	// IdempotencyKey is generated from the intent when empty.
	IdempotencyKey string
	Paper          bool
}

var errInvalidIntent = errors.New("invalid order intent")

func (i OrderIntent) validate() error {
	switch {
	case i.UserID == 0:
		return fmt.Errorf("%w: user id is required", errInvalidIntent)
	case i.BotID == 0:
		return fmt.Errorf("%w: bot id is required", errInvalidIntent)
	case i.Venue == "":
		return fmt.Errorf("%w: venue is required", errInvalidIntent)
	case i.Symbol == "":
		return fmt.Errorf("%w: symbol is required", errInvalidIntent)
	case !i.Side.Valid():
		return fmt.Errorf("%w: side %q", errInvalidIntent, i.Side)
	case !i.OrderType.Valid():
		return fmt.Errorf("%w: order type %q", errInvalidIntent, i.OrderType)
	case !i.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", errInvalidIntent)
	}
	if _, err := model.ParseVenue(string(i.Venue)); err != nil {
		return fmt.Errorf("%w: %v", errInvalidIntent, err)
	}
	if i.OrderType == model.OrderTypeLimit && (i.Price == nil || !i.Price.IsPositive()) {
		return fmt.Errorf("%w: limit order needs a positive price", errInvalidIntent)
	}
	return nil
}

// IdempotencyKey derives a stable key from the intent fields and the UTC
// time bucket containing at. Identical intents inside one bucket collide.
func IdempotencyKey(intent OrderIntent, at time.Time, bucket time.Duration) string {
	price := ""
	if intent.Price != nil {
		price = intent.Price.String()
	}
	if bucket <= 0 {
		bucket = time.Minute
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%s|%s|%s|%s|%s|%t|%d",
		intent.UserID, intent.BotID, intent.Venue, intent.Symbol, intent.Side,
		intent.Amount.String(), intent.OrderType, price, intent.Paper,
		at.UTC().Truncate(bucket).Unix())
	return "sys-" + hex.EncodeToString(h.Sum(nil))
}

// Rejection explains which gate stopped an intent. It is a value, not an
// error: callers branch on it.
type Rejection struct {
	Gate   Gate   `json:"gate"`
	Code   string `json:"code"`
	Scope  string `json:"scope,omitempty"`
	Entity string `json:"entity,omitempty"`
	Reason string `json:"reason"`
}

// Err maps the rejection onto the model sentinels for errors.Is.
func (r *Rejection) Err() error {
	if r == nil {
		return nil
	}
	var sentinel error
	switch r.Gate {
	case GateIdempotency:
		sentinel = model.ErrDuplicateIdempotencyKey
		if r.Code == CodeDuplicateInFlight {
			sentinel = model.ErrDuplicateInFlight
		}
	case GateFeeCoverage:
		sentinel = model.ErrInsufficientFeeCoverage
	case GateTradeLimiter:
		sentinel = model.ErrTradeLimitExceeded
	case GateCircuitBreaker:
		sentinel = model.ErrCircuitBreakerTripped
	default:
		return errors.New(r.Reason)
	}
	return fmt.Errorf("%w: %s", sentinel, r.Reason)
}

// Result is either approved (Rejection nil) or rejected; never partial.
type Result struct {
	Approved         bool                    `json:"approved"`
	OrderID          string                  `json:"order_id,omitempty"`
	IdempotencyKey   string                  `json:"idempotency_key"`
	GatesPassed      []Gate                  `json:"gates_passed"`
	ExecutionSummary *model.ExecutionSummary `json:"execution_summary,omitempty"`
	// Cached is set when a retry hits an order that already filled.
	Cached    bool       `json:"cached,omitempty"`
	FillID    *uint      `json:"fill_id,omitempty"`
	Rejection *Rejection `json:"rejection,omitempty"`
}

// FillReport is the execution outcome the caller brings back after an
// approved order ran on the venue.
type FillReport struct {
	OrderID         string
	FilledPrice     decimal.Decimal
	FilledQty       decimal.Decimal
	ActualFee       decimal.Decimal
	FeeCurrency     string
	ExchangeTradeID *string
	Timestamp       *time.Time
}

func (r FillReport) validate() error {
	switch {
	case r.OrderID == "":
		return errors.New("order id is required")
	case !r.FilledPrice.IsPositive():
		return errors.New("filled price must be positive")
	case !r.FilledQty.IsPositive():
		return errors.New("filled quantity must be positive")
	case r.ActualFee.IsNegative():
		return errors.New("fee cannot be negative")
	}
	return nil
}
