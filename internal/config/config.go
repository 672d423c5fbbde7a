package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mauv0809/splitadjust/internal/models"
)

// Config is the service configuration, read from the environment.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// NasdaqAPIKey enables the Data Link ingestion endpoints.
	NasdaqAPIKey string `envconfig:"NASDAQ_API_KEY"`
	PriceTable   string `envconfig:"DATALINK_PRICE_TABLE" default:"SPGLOBAL/PRICEVOLUME"`
	SplitTable   string `envconfig:"DATALINK_SPLIT_TABLE" default:"SPGLOBAL/SPLITINFO"`

	// AsOfDate is the default knowledge date. Empty means today.
	AsOfDate     string `envconfig:"ASOF_DATE"`
	Workers      int    `envconfig:"ADJUST_WORKERS" default:"4"`
	LegacyAnchor bool   `envconfig:"ADJUST_LEGACY_ANCHOR" default:"false"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if c.Workers < 1 {
		return errors.New("ADJUST_WORKERS must be >= 1")
	}
	if c.AsOfDate != "" {
		if _, err := models.ParseDate("ASOF_DATE", c.AsOfDate); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q must be one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// KnowledgeDate returns the configured default knowledge date, or today's
// date when none is set.
func (c *Config) KnowledgeDate(now time.Time) time.Time {
	if c.AsOfDate == "" {
		return models.Date(now)
	}
	// Validate has already checked the format.
	d, _ := models.ParseDate("ASOF_DATE", c.AsOfDate)
	return d
}
