package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	DBPath    string `envconfig:"DB_PATH" default:"quotes.db"`
	Timezone  string `envconfig:"TIMEZONE" default:"Asia/Kolkata"`
	RulesFile string `envconfig:"RULES_FILE"`

	Log       LogConfig       `envconfig:"LOG"`
	Fetch     FetchConfig     `envconfig:"FETCH"`
	Match     MatchConfig     `envconfig:"MATCH"`
	Scheduler SchedulerConfig `envconfig:"SCHEDULER"`

	// FuturesPremium is the carry applied to the spot price when no futures
	// source answers.
	FuturesPremium decimal.Decimal `envconfig:"FUTURES_PREMIUM" default:"0.006"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

type FetchConfig struct {
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"15s"`
	RatePerHost  float64       `envconfig:"RATE_PER_HOST" default:"1"`
	Burst        int           `envconfig:"BURST" default:"2"`
	MaxBodyBytes int64         `envconfig:"MAX_BODY_BYTES" default:"4194304"`
	Browser      bool          `envconfig:"BROWSER" default:"false"`
}

type MatchConfig struct {
	Tolerance      decimal.Decimal `envconfig:"TOLERANCE" default:"0.1"`
	MaxChangeRatio decimal.Decimal `envconfig:"MAX_CHANGE_RATIO" default:"0.1"`
}

type SchedulerConfig struct {
	Enabled      bool          `envconfig:"ENABLED" default:"true"`
	CatchUp      bool          `envconfig:"CATCH_UP" default:"true"`
	CatchUpDelay time.Duration `envconfig:"CATCH_UP_DELAY" default:"30s"`
	JobTimeout   time.Duration `envconfig:"JOB_TIMEOUT" default:"2m"`

	PriceCron   string `envconfig:"PRICE_CRON" default:"0 11 * * *"`
	MarketsCron string `envconfig:"MARKETS_CRON" default:"30 16 * * 1-5"`
	BitcoinCron string `envconfig:"BITCOIN_CRON" default:"0 9 * * *"`
	FuturesCron string `envconfig:"FUTURES_CRON" default:"0 17 * * 1-5"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
