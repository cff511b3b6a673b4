package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// PriceRestURL serves GET /api/v3/ticker/price?symbol=X. Empty disables the REST source.
	PriceRestURL string `envconfig:"PRICE_REST_URL" default:"https://api.binance.com"`
	// PriceStreamURL is a websocket emitting ticker frames. Empty disables streaming.
	PriceStreamURL    string        `envconfig:"PRICE_STREAM_URL"`
	PriceMaxStaleness time.Duration `envconfig:"PRICE_MAX_STALENESS" default:"30s"`
	KrakenFuturesURL  string        `envconfig:"KRAKEN_FUTURES_URL"`
	PriceTimeout      time.Duration `envconfig:"PRICE_TIMEOUT" default:"10s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
