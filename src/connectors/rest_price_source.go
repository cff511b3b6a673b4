package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradeledger/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 200 * time.Millisecond
	defaultRetryMaxBackoff = 2 * time.Second

	tickerPricePath = "/api/v3/ticker/price"
)

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// RestPriceSource polls a ticker endpoint for the last traded price.
type RestPriceSource struct {
	baseURL string
	http    *resty.Client
}

func NewRestPriceSource(baseURL string, timeout time.Duration) *RestPriceSource {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts-1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &RestPriceSource{
		baseURL: baseURL,
		http:    httpClient,
	}
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func (s *RestPriceSource) MarkPrice(ctx context.Context, symbol model.Symbol, venue model.Venue) (decimal.Decimal, error) {
	var out tickerPriceResponse

	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", string(symbol)).
		SetResult(&out).
		Get(tickerPricePath)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "RestPriceSource",
			"symbol":    symbol,
		}).WithError(err).Warn("Ticker request failed")
		return decimal.Zero, unavailable(symbol, venue, err.Error())
	}

	if resp.IsError() {
		return decimal.Zero, unavailable(symbol, venue, fmt.Sprintf("http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())))
	}

	price, err := decimal.NewFromString(out.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, unavailable(symbol, venue, fmt.Sprintf("bad price %q", out.Price))
	}

	return price, nil
}
