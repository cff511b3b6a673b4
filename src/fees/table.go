package fees

import (
	"tradeledger/src/model"

	"github.com/shopspring/decimal"
)

type VenueFees struct {
	MakerBps decimal.Decimal
	TakerBps decimal.Decimal
}

// Spreads holds the estimated half-spread per known symbol.
type Spreads struct {
	BTCUSDT decimal.Decimal
	ETHUSDT decimal.Decimal
	SOLUSDT decimal.Decimal
	Default decimal.Decimal
}

type SlippageBuffer struct {
	Market decimal.Decimal
	Limit  decimal.Decimal
}

// Table is the static cost table consulted by fee-coverage admission.
// Unknown venues and symbols fall back to Default.
type Table struct {
	Phemex  VenueFees
	Kraken  VenueFees
	Kucoin  VenueFees
	Hydra   VenueFees
	Binance VenueFees
	Paper   VenueFees
	Default VenueFees

	Spreads  Spreads
	Slippage SlippageBuffer
}

func NewTable(cfg Config) Table {
	return Table{
		Phemex:  VenueFees{MakerBps: cfg.PhemexMakerBps, TakerBps: cfg.PhemexTakerBps},
		Kraken:  VenueFees{MakerBps: cfg.KrakenMakerBps, TakerBps: cfg.KrakenTakerBps},
		Kucoin:  VenueFees{MakerBps: cfg.KucoinMakerBps, TakerBps: cfg.KucoinTakerBps},
		Hydra:   VenueFees{MakerBps: cfg.HydraMakerBps, TakerBps: cfg.HydraTakerBps},
		Binance: VenueFees{MakerBps: cfg.BinanceMakerBps, TakerBps: cfg.BinanceTakerBps},
		Paper:   VenueFees{MakerBps: cfg.PaperMakerBps, TakerBps: cfg.PaperTakerBps},
		Default: VenueFees{MakerBps: cfg.DefaultMakerBps, TakerBps: cfg.DefaultTakerBps},
		Spreads: Spreads{
			BTCUSDT: cfg.SpreadBTCUSDTBps,
			ETHUSDT: cfg.SpreadETHUSDTBps,
			SOLUSDT: cfg.SpreadSOLUSDTBps,
			Default: cfg.SpreadDefaultBps,
		},
		Slippage: SlippageBuffer{
			Market: cfg.SlippageMarketBps,
			Limit:  cfg.SlippageLimitBps,
		},
	}
}

func (t Table) venue(v model.Venue) VenueFees {
	switch v {
	case model.VenuePhemex:
		return t.Phemex
	case model.VenueKraken:
		return t.Kraken
	case model.VenueKucoin:
		return t.Kucoin
	case model.VenueHydra:
		return t.Hydra
	case model.VenueBinance:
		return t.Binance
	case model.VenuePaper:
		return t.Paper
	default:
		return t.Default
	}
}

// ExchangeFeeBps is the taker rate for market orders and the maker rate for limit orders.
func (t Table) ExchangeFeeBps(v model.Venue, orderType model.OrderType) decimal.Decimal {
	fees := t.venue(v)
	if orderType == model.OrderTypeLimit {
		return fees.MakerBps
	}
	return fees.TakerBps
}

func (t Table) EstimatedSpreadBps(symbol model.Symbol) decimal.Decimal {
	switch symbol {
	case model.SymbolBTCUSDT:
		return t.Spreads.BTCUSDT
	case model.SymbolETHUSDT:
		return t.Spreads.ETHUSDT
	case model.SymbolSOLUSDT:
		return t.Spreads.SOLUSDT
	default:
		return t.Spreads.Default
	}
}

func (t Table) SlippageBufferBps(orderType model.OrderType) decimal.Decimal {
	if orderType == model.OrderTypeLimit {
		return t.Slippage.Limit
	}
	return t.Slippage.Market
}
