// Package config loads process-level configuration for the client: which
// endpoint to dial when no transport is supplied, logging verbosity, and
// the optional bridge sinks. Priority: real environment variables > .env
// file > struct defaults.
package config

import (
	"fmt"

	"github.com/adred-codev/tradeapi-go/apierrors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config is the full set of environment-driven settings for the example
// binary and for any host application that wants the same defaults.
type Config struct {
	// Connection
	Endpoint string `env:"TRADEAPI_ENDPOINT" envDefault:"wss://ws.example-broker.test"`
	AppID    string `env:"TRADEAPI_APP_ID"`
	Lang     string `env:"TRADEAPI_LANG" envDefault:"EN"`
	Brand    string `env:"TRADEAPI_BRAND" envDefault:"tradeapi"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Bridge (optional; empty values disable the corresponding sink)
	NATSURL          string  `env:"TRADEAPI_NATS_URL"`
	KafkaBrokers     string  `env:"TRADEAPI_KAFKA_BROKERS"`
	KafkaTopic       string  `env:"TRADEAPI_KAFKA_TOPIC" envDefault:"tradeapi.events"`
	BridgeRatePerSec float64 `env:"TRADEAPI_BRIDGE_RATE" envDefault:"50"`
	BridgeBurst      int     `env:"TRADEAPI_BRIDGE_BURST" envDefault:"10"`

	// Metrics
	MetricsAddr string `env:"TRADEAPI_METRICS_ADDR" envDefault:":9090"`
}

// Load reads configuration from an optional .env file and the environment,
// then validates it. logger may be nil.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks fields that have no safe default.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return apierrors.NewConstructionError("TRADEAPI_ENDPOINT is required")
	}
	if c.AppID == "" {
		return apierrors.NewConstructionError("TRADEAPI_APP_ID is required when no transport is supplied")
	}
	if c.BridgeRatePerSec < 0 {
		return apierrors.NewConstructionError("TRADEAPI_BRIDGE_RATE must be >= 0, got %f", c.BridgeRatePerSec)
	}
	return nil
}
