package services

import (
	"tradeledger/src/auth"
	"tradeledger/src/connectors"
	"tradeledger/src/fees"
	"tradeledger/src/ledger"
	"tradeledger/src/model"
	"tradeledger/src/pipeline"
	"tradeledger/src/risk"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Services is the wired application graph shared by the subcommands.
type Services struct {
	DB       *gorm.DB
	Prices   connectors.PriceSource
	Stream   *connectors.StreamPriceCache
	Ledger   *ledger.Service
	Reports  *ledger.Service
	Breaker  *risk.CircuitBreaker
	Pipeline *pipeline.Pipeline
}

// New builds every service from its environment config on top of db.
// Reports read from reporting when given; the breaker and the pipeline
// always use db.
func New(db, reporting *gorm.DB) (*Services, error) {
	if reporting == nil {
		reporting = db
	}
	s := &Services{DB: db}

	priceConfig := connectors.GetConfig()
	var sources []connectors.PriceSource
	if priceConfig.PriceStreamURL != "" {
		s.Stream = connectors.NewStreamPriceCache(priceConfig.PriceStreamURL, priceConfig.PriceMaxStaleness)
		sources = append(sources, s.Stream)
	}
	if priceConfig.PriceRestURL != "" {
		sources = append(sources, connectors.NewRestPriceSource(priceConfig.PriceRestURL, priceConfig.PriceTimeout))
	}
	var fallback connectors.PriceSource
	if len(sources) > 0 {
		fallback = connectors.NewChainPriceSource(sources...)
	}
	if priceConfig.KrakenFuturesURL != "" {
		s.Prices = &connectors.VenuePriceSource{
			Venues: map[model.Venue]connectors.PriceSource{
				model.VenueKraken: connectors.NewKrakenPriceSource(priceConfig.KrakenFuturesURL, priceConfig.PriceTimeout),
			},
			Default: fallback,
		}
	} else if fallback != nil {
		s.Prices = fallback
	} else {
		logrus.Warn("No price source configured, unrealized PnL will be reported as unavailable")
	}

	ledgerConfig := ledger.GetConfig()
	s.Ledger = ledger.NewService(db, s.Prices, ledgerConfig)
	s.Reports = ledger.NewService(reporting, s.Prices, ledgerConfig)
	s.Breaker = risk.NewCircuitBreaker(db, s.Ledger, risk.GetConfig())

	pipelineConfig := pipeline.GetConfig()
	burst, err := pipeline.NewBurstCounter(pipelineConfig)
	if err != nil {
		return nil, err
	}
	s.Pipeline = pipeline.New(db, pipeline.Deps{
		Ledger:  s.Ledger,
		Breaker: s.Breaker,
		Fees:    fees.NewTable(fees.GetConfig()),
		Prices:  s.Prices,
		Burst:   burst,
	}, pipelineConfig)

	return s, nil
}

// Authenticator parses ADMIN_OPERATORS.
func Authenticator() (*auth.Authenticator, error) {
	return auth.ParseOperators(auth.GetConfig().Operators)
}
