package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SweepPeriod time.Duration `envconfig:"SWEEP_PERIOD" default:"1m"`
	// Retention is how long expired and rejected orders are kept after expiry.
	Retention time.Duration `envconfig:"PENDING_ORDER_RETENTION" default:"168h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
