package risk

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds the trip thresholds. A zero threshold disables its check.
type Config struct {
	MaxDrawdownPct       decimal.Decimal `envconfig:"MAX_DRAWDOWN_PCT" default:"20"`
	MaxDailyLossPct      decimal.Decimal `envconfig:"MAX_DAILY_LOSS_PCT" default:"5"`
	MaxConsecutiveLosses int             `envconfig:"MAX_CONSECUTIVE_LOSSES" default:"5"`
	MaxErrorsPerHour     int64           `envconfig:"MAX_ERRORS_PER_HOUR" default:"10"`
	ErrorWindow          time.Duration   `envconfig:"ERROR_WINDOW" default:"1h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
