package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"tradeledger/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Kraken Futures serves public market data under /derivatives/api/v3.
const (
	defaultKrakenDerivativesBaseURL = "https://futures.kraken.com/derivatives"
	krakenAPIV3Prefix               = "/api/v3"
)

// krakenSymbols maps exchange notation onto Kraken perpetual contracts.
var krakenSymbols = map[model.Symbol]string{
	model.SymbolBTCUSDT: "PF_XBTUSD",
	model.SymbolETHUSDT: "PF_ETHUSD",
	model.SymbolSOLUSDT: "PF_SOLUSD",
}

type krakenTickerResponse struct {
	Result     string `json:"result"`
	ServerTime string `json:"serverTime"`
	Error      string `json:"error,omitempty"`
	Ticker     struct {
		Symbol    string      `json:"symbol"`
		MarkPrice json.Number `json:"markPrice"`
		Last      json.Number `json:"last"`
	} `json:"ticker"`
}

// KrakenPriceSource reads the mark price of Kraken Futures perpetuals.
type KrakenPriceSource struct {
	baseURL string
	http    *resty.Client
}

func NewKrakenPriceSource(baseURL string, timeout time.Duration) *KrakenPriceSource {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultKrakenDerivativesBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
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

	return &KrakenPriceSource{baseURL: baseURL, http: httpClient}
}

func krakenContract(symbol model.Symbol) string {
	if contract, ok := krakenSymbols[symbol]; ok {
		return contract
	}
	s := strings.TrimSuffix(string(symbol), "USDT")
	if s == "BTC" {
		s = "XBT"
	}
	return "PF_" + s + "USD"
}

func (s *KrakenPriceSource) MarkPrice(ctx context.Context, symbol model.Symbol, venue model.Venue) (decimal.Decimal, error) {
	contract := krakenContract(symbol)

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(krakenAPIV3Prefix + "/tickers/" + url.PathEscape(contract))
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "KrakenPriceSource",
			"contract":  contract,
		}).WithError(err).Warn("Ticker request failed")
		return decimal.Zero, unavailable(symbol, venue, err.Error())
	}
	if resp.StatusCode() != 200 {
		return decimal.Zero, unavailable(symbol, venue, fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())))
	}

	// Kraken Futures answers HTTP 200 with {result:"error"} on failures.
	var out krakenTickerResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return decimal.Zero, unavailable(symbol, venue, fmt.Sprintf("json unmarshal failed: %v", err))
	}
	if strings.EqualFold(out.Result, "error") {
		return decimal.Zero, unavailable(symbol, venue, "kraken futures error: "+out.Error)
	}

	raw := out.Ticker.MarkPrice.String()
	if raw == "" {
		raw = out.Ticker.Last.String()
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, unavailable(symbol, venue, fmt.Sprintf("bad price %q", raw))
	}
	return price, nil
}

// VenuePriceSource routes each lookup to the source registered for the
// venue and falls back to Default for the others.
type VenuePriceSource struct {
	Venues  map[model.Venue]PriceSource
	Default PriceSource
}

func (v *VenuePriceSource) MarkPrice(ctx context.Context, symbol model.Symbol, venue model.Venue) (decimal.Decimal, error) {
	if source, ok := v.Venues[venue]; ok && source != nil {
		return source.MarkPrice(ctx, symbol, venue)
	}
	if v.Default == nil {
		return decimal.Zero, unavailable(symbol, venue, "no price source for venue")
	}
	return v.Default.MarkPrice(ctx, symbol, venue)
}
