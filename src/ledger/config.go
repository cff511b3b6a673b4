package ledger

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	// ReconcileTolerance is the absolute difference accepted between the
	// ledger balance and the legacy bot account balance.
	ReconcileTolerance decimal.Decimal `envconfig:"LEDGER_RECONCILE_TOLERANCE" default:"0.01"`
	// TimestampSkew is how far a fill timestamp may run ahead of its insert time.
	TimestampSkew time.Duration `envconfig:"LEDGER_TIMESTAMP_SKEW" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
