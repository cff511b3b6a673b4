package pipeline

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	BotDailyTradeCap  int64         `envconfig:"BOT_DAILY_TRADE_CAP" default:"50"`
	UserDailyTradeCap int64         `envconfig:"USER_DAILY_TRADE_CAP" default:"200"`
	BurstWindow       time.Duration `envconfig:"BURST_WINDOW" default:"10s"`
	BurstCap          int64         `envconfig:"BURST_CAP" default:"5"`

	PendingTTL             time.Duration   `envconfig:"PENDING_ORDER_TTL" default:"24h"`
	SafetyMarginBps        decimal.Decimal `envconfig:"SAFETY_MARGIN_BPS" default:"2"`
	DefaultExpectedEdgeBps decimal.Decimal `envconfig:"DEFAULT_EXPECTED_EDGE_BPS" default:"30"`
	IdempotencyBucket      time.Duration   `envconfig:"IDEMPOTENCY_BUCKET" default:"1m"`

	// BurstBackend selects the burst counter: "memory" or "redis".
	BurstBackend  string `envconfig:"BURST_BACKEND" default:"memory"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
