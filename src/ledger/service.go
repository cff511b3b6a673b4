package ledger

import (
	"context"
	"fmt"
	"time"

	"tradeledger/src/connectors"
	"tradeledger/src/metrics"
	"tradeledger/src/model"
	"tradeledger/src/repository"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Window bounds a query by execution time. Nil ends are open; both ends are inclusive.
type Window struct {
	Since *time.Time
	Until *time.Time
}

func Between(since, until time.Time) Window {
	return Window{Since: &since, Until: &until}
}

func SinceTime(since time.Time) Window {
	return Window{Since: &since}
}

func (w Window) contains(ts time.Time) bool {
	if w.Since != nil && ts.Before(*w.Since) {
		return false
	}
	if w.Until != nil && ts.After(*w.Until) {
		return false
	}
	return true
}

// Service derives every balance figure from the append-only fill and event
// logs. It never reads or writes a stored balance.
type Service struct {
	db       *gorm.DB
	fills    *repository.FillRepository
	events   *repository.LedgerEventRepository
	accounts *repository.BotAccountRepository
	prices   connectors.PriceSource
	config   Config
	now      func() time.Time
}

func NewService(db *gorm.DB, prices connectors.PriceSource, config Config) *Service {
	return &Service{
		db:       db,
		fills:    repository.NewFillRepositoryWithDB(db),
		events:   repository.NewLedgerEventRepositoryWithDB(db),
		accounts: repository.NewBotAccountRepositoryWithDB(db),
		prices:   prices,
		config:   config,
		now:      time.Now,
	}
}

// WithClock replaces the wall clock, for tests and replays.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AppendFill validates and stores a fill. It returns the new fill id, or
// model.ErrDuplicateIdempotencyKey if the key was already recorded.
func (s *Service) AppendFill(ctx context.Context, fill *model.Fill) (uint, error) {
	id, err := s.appendFill(ctx, s.fills, fill)
	if err != nil {
		return 0, err
	}
	metrics.FillsRecorded.WithLabelValues(string(fill.Exchange), metrics.Mode(fill.Paper)).Inc()
	return id, nil
}

// AppendFillTx is AppendFill inside the caller's transaction. The fill is
// not counted in metrics.FillsRecorded; the caller does that after commit.
func (s *Service) AppendFillTx(ctx context.Context, tx *gorm.DB, fill *model.Fill) (uint, error) {
	return s.appendFill(ctx, s.fills.WithDB(tx), fill)
}

func (s *Service) appendFill(ctx context.Context, repo *repository.FillRepository, fill *model.Fill) (uint, error) {
	if err := validateFill(fill); err != nil {
		return 0, err
	}
	if fill.Timestamp.IsZero() {
		fill.Timestamp = s.now().UTC()
	}

	if err := repo.Create(ctx, fill); err != nil {
		return 0, err
	}
	return fill.ID, nil
}

func validateFill(fill *model.Fill) error {
	if fill == nil {
		return fmt.Errorf("fill is nil")
	}
	if fill.UserID == 0 || fill.BotID == 0 {
		return fmt.Errorf("fill owner is required")
	}
	if fill.Symbol == "" || fill.Exchange == "" {
		return fmt.Errorf("fill symbol and exchange are required")
	}
	if !fill.Side.Valid() {
		return fmt.Errorf("invalid fill side %q", fill.Side)
	}
	if !fill.Quantity.IsPositive() || !fill.Price.IsPositive() {
		return fmt.Errorf("fill quantity and price must be positive")
	}
	if fill.Fee.IsNegative() {
		return fmt.Errorf("fill fee must not be negative")
	}
	return nil
}

// AppendEvent stores a non-trade ledger event and returns its id.
func (s *Service) AppendEvent(ctx context.Context, event *model.LedgerEvent) (uint, error) {
	return s.appendEvent(ctx, s.events, event)
}

// AppendEventTx is AppendEvent inside the caller's transaction.
func (s *Service) AppendEventTx(ctx context.Context, tx *gorm.DB, event *model.LedgerEvent) (uint, error) {
	return s.appendEvent(ctx, s.events.WithDB(tx), event)
}

func (s *Service) appendEvent(ctx context.Context, repo *repository.LedgerEventRepository, event *model.LedgerEvent) (uint, error) {
	if event == nil {
		return 0, fmt.Errorf("event is nil")
	}
	if event.UserID == 0 {
		return 0, fmt.Errorf("event owner is required")
	}
	if event.Currency == "" {
		event.Currency = "USDT"
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if err := repo.Create(ctx, event); err != nil {
		return 0, err
	}
	return event.ID, nil
}

// snapshot is a consistent read of an owner's history.
type snapshot struct {
	fills  []model.Fill
	events []model.LedgerEvent
}

func (s *Service) load(ctx context.Context, owner model.Owner, until *time.Time) (*snapshot, error) {
	snap := &snapshot{}
	err := repository.Snapshot(ctx, s.db, func(tx *gorm.DB) error {
		fills, err := s.fills.WithDB(tx).ListForOwner(ctx, owner, until)
		if err != nil {
			return fmt.Errorf("load fills: %w", err)
		}
		events, err := s.events.WithDB(tx).ListForOwner(ctx, owner, until)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		snap.fills = fills
		snap.events = events
		return nil
	})
	if err != nil {
		logger.WithFields(owner.Fields()).
			WithField("component", "ledger").
			WithError(err).Error("Failed to load ledger snapshot")
		return nil, err
	}
	return snap, nil
}

// loadFills reads fills only; a single statement is already consistent.
func (s *Service) loadFills(ctx context.Context, owner model.Owner, until *time.Time) ([]model.Fill, error) {
	return s.fills.ListForOwner(ctx, owner, until)
}
