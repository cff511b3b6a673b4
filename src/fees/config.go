package fees

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds the fee/spread table in basis points. Market orders pay the
// taker rate, limit orders the maker rate.
type Config struct {
	PhemexMakerBps  decimal.Decimal `envconfig:"FEE_PHEMEX_MAKER_BPS" default:"1"`
	PhemexTakerBps  decimal.Decimal `envconfig:"FEE_PHEMEX_TAKER_BPS" default:"6"`
	KrakenMakerBps  decimal.Decimal `envconfig:"FEE_KRAKEN_MAKER_BPS" default:"2"`
	KrakenTakerBps  decimal.Decimal `envconfig:"FEE_KRAKEN_TAKER_BPS" default:"5"`
	KucoinMakerBps  decimal.Decimal `envconfig:"FEE_KUCOIN_MAKER_BPS" default:"2"`
	KucoinTakerBps  decimal.Decimal `envconfig:"FEE_KUCOIN_TAKER_BPS" default:"6"`
	HydraMakerBps   decimal.Decimal `envconfig:"FEE_HYDRA_MAKER_BPS" default:"0"`
	HydraTakerBps   decimal.Decimal `envconfig:"FEE_HYDRA_TAKER_BPS" default:"0"`
	BinanceMakerBps decimal.Decimal `envconfig:"FEE_BINANCE_MAKER_BPS" default:"10"`
	BinanceTakerBps decimal.Decimal `envconfig:"FEE_BINANCE_TAKER_BPS" default:"10"`
	PaperMakerBps   decimal.Decimal `envconfig:"FEE_PAPER_MAKER_BPS" default:"10"`
	PaperTakerBps   decimal.Decimal `envconfig:"FEE_PAPER_TAKER_BPS" default:"10"`
	DefaultMakerBps decimal.Decimal `envconfig:"FEE_DEFAULT_MAKER_BPS" default:"10"`
	DefaultTakerBps decimal.Decimal `envconfig:"FEE_DEFAULT_TAKER_BPS" default:"10"`

	SpreadBTCUSDTBps decimal.Decimal `envconfig:"SPREAD_BTCUSDT_BPS" default:"1"`
	SpreadETHUSDTBps decimal.Decimal `envconfig:"SPREAD_ETHUSDT_BPS" default:"1.5"`
	SpreadSOLUSDTBps decimal.Decimal `envconfig:"SPREAD_SOLUSDT_BPS" default:"3"`
	SpreadDefaultBps decimal.Decimal `envconfig:"SPREAD_DEFAULT_BPS" default:"5"`

	SlippageMarketBps decimal.Decimal `envconfig:"SLIPPAGE_MARKET_BPS" default:"5"`
	SlippageLimitBps  decimal.Decimal `envconfig:"SLIPPAGE_LIMIT_BPS" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
