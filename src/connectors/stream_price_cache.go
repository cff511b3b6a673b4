package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tradeledger/src/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// tickerFrame is a compact ticker update: symbol, price, event time in ms.
type tickerFrame struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	EventTime int64  `json:"E"`
}

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// StreamPriceCache keeps the latest ticker price per symbol from a websocket
// feed and only serves prices younger than maxStaleness.
type StreamPriceCache struct {
	url          string
	maxStaleness time.Duration
	now          func() time.Time

	mu     sync.RWMutex
	prices map[model.Symbol]cachedPrice
}

func NewStreamPriceCache(url string, maxStaleness time.Duration) *StreamPriceCache {
	return &StreamPriceCache{
		url:          url,
		maxStaleness: maxStaleness,
		now:          time.Now,
		prices:       make(map[model.Symbol]cachedPrice),
	}
}

func (c *StreamPriceCache) MarkPrice(_ context.Context, symbol model.Symbol, venue model.Venue) (decimal.Decimal, error) {
	c.mu.RLock()
	cached, ok := c.prices[symbol]
	c.mu.RUnlock()

	if !ok {
		return decimal.Zero, unavailable(symbol, venue, "no streamed price yet")
	}
	if c.maxStaleness > 0 && c.now().Sub(cached.at) > c.maxStaleness {
		return decimal.Zero, unavailable(symbol, venue, fmt.Sprintf("streamed price is %s old", c.now().Sub(cached.at).Round(time.Second)))
	}
	return cached.price, nil
}

// Run dials the feed and consumes frames until ctx is cancelled or the
// connection drops.
func (c *StreamPriceCache) Run(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ws read failed: %w", err)
		}
		c.handleFrame(msg)
	}
}

// RunForever reconnects after failures with a fixed backoff until ctx ends.
func (c *StreamPriceCache) RunForever(ctx context.Context, backoff time.Duration) {
	for {
		err := c.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.WithField("component", "StreamPriceCache").WithError(err).Warn("Price stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (c *StreamPriceCache) handleFrame(msg []byte) {
	var frame tickerFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		logger.WithField("component", "StreamPriceCache").WithError(err).Debug("Skipping non-ticker frame")
		return
	}
	if frame.Symbol == "" {
		return
	}

	price, err := decimal.NewFromString(frame.Price)
	if err != nil || !price.IsPositive() {
		return
	}

	at := c.now()
	if frame.EventTime > 0 {
		at = time.UnixMilli(frame.EventTime)
	}

	symbol := model.NormalizeSymbol(frame.Symbol)

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.prices[symbol]; ok && prev.at.After(at) {
		return
	}
	c.prices[symbol] = cachedPrice{price: price, at: at}
}
