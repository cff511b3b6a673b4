package connectors

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tradeledger/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// PriceSource returns the current mark price for a symbol on a venue.
// Implementations wrap model.ErrPriceSourceUnavailable when they have no price.
type PriceSource interface {
	MarkPrice(ctx context.Context, symbol model.Symbol, venue model.Venue) (decimal.Decimal, error)
}

func unavailable(symbol model.Symbol, venue model.Venue, cause string) error {
	return fmt.Errorf("%w: %s on %s: %s", model.ErrPriceSourceUnavailable, symbol, venue, cause)
}

// StaticPriceSource serves fixed prices per symbol, regardless of venue.
// Used for paper trading and tests.
type StaticPriceSource struct {
	mu     sync.RWMutex
	prices map[model.Symbol]decimal.Decimal
}

func NewStaticPriceSource(prices map[model.Symbol]decimal.Decimal) *StaticPriceSource {
	copied := make(map[model.Symbol]decimal.Decimal, len(prices))
	for k, v := range prices {
		copied[k] = v
	}
	return &StaticPriceSource{prices: copied}
}

func (s *StaticPriceSource) Set(symbol model.Symbol, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *StaticPriceSource) MarkPrice(_ context.Context, symbol model.Symbol, venue model.Venue) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, unavailable(symbol, venue, "no static price")
	}
	return price, nil
}

// ChainPriceSource asks each source in order and returns the first price.
type ChainPriceSource struct {
	sources []PriceSource
}

func NewChainPriceSource(sources ...PriceSource) *ChainPriceSource {
	return &ChainPriceSource{sources: sources}
}

func (c *ChainPriceSource) MarkPrice(ctx context.Context, symbol model.Symbol, venue model.Venue) (decimal.Decimal, error) {
	var errs []error
	for _, source := range c.sources {
		price, err := source.MarkPrice(ctx, symbol, venue)
		if err == nil {
			return price, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return decimal.Zero, unavailable(symbol, venue, "no price sources configured")
	}

	logger.WithFields(map[string]interface{}{
		"component": "ChainPriceSource",
		"symbol":    symbol,
		"venue":     venue,
	}).WithError(errors.Join(errs...)).Debug("No price source answered")

	return decimal.Zero, unavailable(symbol, venue, errors.Join(errs...).Error())
}
