package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradeledger/src/ledger"
	"tradeledger/src/metrics"
	"tradeledger/src/model"
	"tradeledger/src/repository"
	"tradeledger/src/utils"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LedgerReader is the subset of the ledger service the breaker evaluates.
type LedgerReader interface {
	Drawdown(ctx context.Context, owner model.Owner) (ledger.DrawdownReport, error)
	DrawdownSince(ctx context.Context, owner model.Owner, since time.Time) (ledger.DrawdownReport, error)
	DailyLossPct(ctx context.Context, owner model.Owner, since time.Time) (ledger.DailyLoss, error)
	ConsecutiveLosses(ctx context.Context, owner model.Owner, since time.Time) (int, error)
	ErrorRate(ctx context.Context, owner model.Owner, since time.Time) (int64, error)
	AppendEventTx(ctx context.Context, tx *gorm.DB, event *model.LedgerEvent) (uint, error)
}

// Decision is the outcome of a breaker check.
type Decision struct {
	Blocked    bool
	EntityType model.EntityType
	EntityID   uint
	Category   string
	Reason     string
	// NewlyTripped is set when this check fired the trip.
	NewlyTripped bool
	State        *model.CircuitBreakerState
}

// CircuitBreaker trips per bot or per user when ledger metrics cross their
// thresholds. A trip is sticky: only Reset clears it.
type CircuitBreaker struct {
	db     *gorm.DB
	states *repository.CircuitBreakerRepository
	ledger LedgerReader
	config Config
	now    func() time.Time
}

func NewCircuitBreaker(db *gorm.DB, reader LedgerReader, config Config) *CircuitBreaker {
	return &CircuitBreaker{
		db:     db,
		states: repository.NewCircuitBreakerRepositoryWithDB(db),
		ledger: reader,
		config: config,
		now:    time.Now,
	}
}

func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

type scope struct {
	entityType model.EntityType
	entityID   uint
	owner      model.Owner
}

func scopes(userID, botID uint) []scope {
	return []scope{
		{entityType: model.EntityBot, entityID: botID, owner: model.BotOwner(userID, botID)},
		{entityType: model.EntityUser, entityID: userID, owner: model.UserOwner(userID)},
	}
}

func blockedBy(state *model.CircuitBreakerState) Decision {
	return Decision{
		Blocked:    true,
		EntityType: state.EntityType,
		EntityID:   state.EntityID,
		Category:   state.Category,
		Reason:     state.Reason,
		State:      state,
	}
}

// Check blocks if the bot or the user is tripped. Otherwise it evaluates the
// trip conditions, bot first, and trips on the first that fires.
func (cb *CircuitBreaker) Check(ctx context.Context, userID, botID uint) (Decision, error) {
	for _, sc := range scopes(userID, botID) {
		active, err := cb.states.FindActive(ctx, sc.entityType, sc.entityID)
		if err != nil {
			return Decision{}, fmt.Errorf("load breaker state for %s: %w", model.BreakerActiveKey(sc.entityType, sc.entityID), err)
		}
		if active != nil {
			return blockedBy(active), nil
		}
	}

	for _, sc := range scopes(userID, botID) {
		category, reason, snapshot, err := cb.evaluate(ctx, sc)
		if err != nil {
			return Decision{}, err
		}
		if category == "" {
			continue
		}
		return cb.trip(ctx, sc, category, reason, snapshot)
	}

	return Decision{}, nil
}

// evaluate returns the first firing condition for the scope, if any. Every
// window starts no earlier than the last reset covering the scope, so an
// operator reset acknowledges the history before it.
func (cb *CircuitBreaker) evaluate(ctx context.Context, sc scope) (string, string, model.JSONMap, error) {
	now := cb.now().UTC()

	lastReset, err := cb.states.LastAcknowledgedAt(ctx, sc.owner)
	if err != nil {
		return "", "", nil, fmt.Errorf("load last reset: %w", err)
	}
	floor := func(t time.Time) time.Time {
		if lastReset != nil && lastReset.After(t) {
			return *lastReset
		}
		return t
	}

	if cb.config.MaxDrawdownPct.IsPositive() {
		var dd ledger.DrawdownReport
		if lastReset != nil {
			dd, err = cb.ledger.DrawdownSince(ctx, sc.owner, *lastReset)
		} else {
			dd, err = cb.ledger.Drawdown(ctx, sc.owner)
		}
		if err != nil {
			return "", "", nil, fmt.Errorf("drawdown: %w", err)
		}
		if dd.CurrentPct.GreaterThan(cb.config.MaxDrawdownPct) {
			return model.TripCategoryDrawdown,
				fmt.Sprintf("drawdown %s%% exceeds %s%%", dd.CurrentPct.StringFixed(2), cb.config.MaxDrawdownPct.String()),
				model.JSONMap{"drawdown_pct": dd.CurrentPct.String(), "peak": dd.Peak.String(), "equity": dd.Equity.String()},
				nil
		}
	}

	if cb.config.MaxDailyLossPct.IsPositive() {
		loss, err := cb.ledger.DailyLossPct(ctx, sc.owner, floor(utils.ResetTime(now, utils.PeriodDay)))
		if err != nil {
			return "", "", nil, fmt.Errorf("daily loss: %w", err)
		}
		if loss.Defined && loss.Pct.GreaterThan(cb.config.MaxDailyLossPct) {
			return model.TripCategoryDailyLoss,
				fmt.Sprintf("daily loss %s%% exceeds %s%%", loss.Pct.StringFixed(2), cb.config.MaxDailyLossPct.String()),
				model.JSONMap{"daily_loss_pct": loss.Pct.String(), "net": loss.Net.String(), "funding": loss.Funding.String()},
				nil
		}
	}

	if cb.config.MaxConsecutiveLosses > 0 {
		losses, err := cb.ledger.ConsecutiveLosses(ctx, sc.owner, floor(time.Time{}))
		if err != nil {
			return "", "", nil, fmt.Errorf("consecutive losses: %w", err)
		}
		if losses >= cb.config.MaxConsecutiveLosses {
			return model.TripCategoryConsecutiveLosses,
				fmt.Sprintf("%d consecutive losing trades (limit %d)", losses, cb.config.MaxConsecutiveLosses),
				model.JSONMap{"consecutive_losses": losses},
				nil
		}
	}

	if cb.config.MaxErrorsPerHour > 0 {
		window := cb.config.ErrorWindow
		if window <= 0 {
			window = time.Hour
		}
		errorsSeen, err := cb.ledger.ErrorRate(ctx, sc.owner, floor(now.Add(-window)))
		if err != nil {
			return "", "", nil, fmt.Errorf("error rate: %w", err)
		}
		if errorsSeen >= cb.config.MaxErrorsPerHour {
			return model.TripCategoryErrorRate,
				fmt.Sprintf("%d execution errors in the last %s (limit %d)", errorsSeen, window, cb.config.MaxErrorsPerHour),
				model.JSONMap{"errors": errorsSeen, "window": window.String()},
				nil
		}
	}

	return "", "", nil, nil
}

func (cb *CircuitBreaker) trip(ctx context.Context, sc scope, category, reason string, snapshot model.JSONMap) (Decision, error) {
	now := cb.now().UTC()
	state := &model.CircuitBreakerState{
		EntityType: sc.entityType,
		EntityID:   sc.entityID,
		UserID:     sc.owner.UserID,
		Category:   category,
		Reason:     reason,
		Metrics:    snapshot,
		TrippedAt:  now,
	}

	err := cb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := cb.states.WithDB(tx).CreateTrip(ctx, state); err != nil {
			return err
		}
		_, err := cb.ledger.AppendEventTx(ctx, tx, &model.LedgerEvent{
			UserID:      sc.owner.UserID,
			BotID:       sc.owner.BotID,
			Kind:        model.EventCircuitBreaker,
			Amount:      decimal.Zero,
			Timestamp:   now,
			Description: reason,
			Metadata: model.JSONMap{
				"action":      "trip",
				"entity_type": sc.entityType,
				"entity_id":   sc.entityID,
				"category":    category,
				"metrics":     snapshot,
			},
		})
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrAlreadyTripped) {
			// lost the race to a concurrent check; report the winner's trip
			active, findErr := cb.states.FindActive(ctx, sc.entityType, sc.entityID)
			if findErr != nil {
				return Decision{}, findErr
			}
			if active != nil {
				return blockedBy(active), nil
			}
		}
		return Decision{}, fmt.Errorf("trip circuit breaker: %w", err)
	}

	metrics.CircuitBreakerTrips.WithLabelValues(string(sc.entityType), category).Inc()
	logger.WithFields(map[string]interface{}{
		"component":   "CircuitBreaker",
		"entity_type": sc.entityType,
		"entity_id":   sc.entityID,
		"category":    category,
	}).Warn("Circuit breaker tripped: " + reason)

	decision := blockedBy(state)
	decision.NewlyTripped = true
	return decision, nil
}

// Reset clears an active trip. resetByUserID identifies the operator and is
// recorded on the state row and in a circuit_breaker ledger event.
func (cb *CircuitBreaker) Reset(ctx context.Context, entityType model.EntityType, entityID, resetByUserID uint, reason string) (*model.CircuitBreakerState, error) {
	reason = strings.TrimSpace(reason)
	if resetByUserID == 0 {
		return nil, fmt.Errorf("resetting operator is required")
	}
	if reason == "" {
		return nil, fmt.Errorf("reset reason is required")
	}

	now := cb.now().UTC()
	var state *model.CircuitBreakerState

	err := cb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reset, err := cb.states.WithDB(tx).Reset(ctx, entityType, entityID, resetByUserID, reason, now)
		if err != nil {
			return err
		}

		var botID *uint
		if entityType == model.EntityBot {
			id := entityID
			botID = &id
		}
		_, err = cb.ledger.AppendEventTx(ctx, tx, &model.LedgerEvent{
			UserID:      reset.UserID,
			BotID:       botID,
			Kind:        model.EventCircuitBreaker,
			Amount:      decimal.Zero,
			Timestamp:   now,
			Description: "reset: " + reason,
			Metadata: model.JSONMap{
				"action":           "reset",
				"entity_type":      entityType,
				"entity_id":        entityID,
				"state_id":         reset.ID,
				"reset_by_user_id": resetByUserID,
				"category":         reset.Category,
			},
		})
		if err != nil {
			return err
		}
		state = reset
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.CircuitBreakerResets.WithLabelValues(string(entityType)).Inc()
	logger.WithFields(map[string]interface{}{
		"component":   "CircuitBreaker",
		"entity_type": entityType,
		"entity_id":   entityID,
		"reset_by":    resetByUserID,
	}).Info("Circuit breaker reset")

	return state, nil
}

type Status struct {
	EntityType  model.EntityType           `json:"entity_type"`
	EntityID    uint                       `json:"entity_id"`
	Tripped     bool                       `json:"tripped"`
	Active      *model.CircuitBreakerState `json:"active,omitempty"`
	LastResetAt *time.Time                 `json:"last_reset_at,omitempty"`
}

func (cb *CircuitBreaker) Status(ctx context.Context, entityType model.EntityType, entityID uint) (Status, error) {
	status := Status{EntityType: entityType, EntityID: entityID}

	active, err := cb.states.FindActive(ctx, entityType, entityID)
	if err != nil {
		return status, err
	}
	lastReset, err := cb.states.LastResetAt(ctx, entityType, entityID)
	if err != nil {
		return status, err
	}

	status.Tripped = active != nil
	status.Active = active
	status.LastResetAt = lastReset
	return status, nil
}

func (cb *CircuitBreaker) History(ctx context.Context, entityType model.EntityType, entityID uint, limit int) ([]model.CircuitBreakerState, error) {
	return cb.states.History(ctx, entityType, entityID, limit)
}
