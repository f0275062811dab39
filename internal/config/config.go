package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	App     AppConfig     `envPrefix:"APP_"`
	Session SessionConfig `envPrefix:"SESSION_"`
	Feed    FeedConfig    `envPrefix:"FEED_"`
	DB      DBConfig      `envPrefix:"DB_"`
	Rate    RateConfig    `envPrefix:"RATE_"`
}

// AppConfig represents the HTTP server configuration.
type AppConfig struct {
	Env      string `env:"ENV" envDefault:"development"`
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// SessionConfig controls wizard sessions and their tokens.
type SessionConfig struct {
	Secret        string        `env:"SECRET" envDefault:"orderpad-secret-key"`
	TTL           time.Duration `env:"TTL" envDefault:"30m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// FeedConfig describes the simulated price feed.
type FeedConfig struct {
	Symbol     string        `env:"SYMBOL" envDefault:"AAPL"`
	StartPrice float64       `env:"START_PRICE" envDefault:"175.50"`
	Interval   time.Duration `env:"INTERVAL" envDefault:"3s"`
	MaxDelta   float64       `env:"MAX_DELTA" envDefault:"1.0"`
}

// DBConfig points at the receipt store. The default keeps it in memory.
type DBConfig struct {
	DSN string `env:"DSN" envDefault:"file::memory:?cache=shared"`
}

// RateConfig holds per-minute request budgets per client.
type RateConfig struct {
	SessionPerMinute float64 `env:"SESSION_PER_MINUTE" envDefault:"10"`
	TicketPerMinute  float64 `env:"TICKET_PER_MINUTE" envDefault:"600"`
}

// Addr renders the listen address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf(":%d", a.Port)
}

// IsProduction reports whether console logging should be turned off.
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the feed or sessions cannot run with.
func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return errors.New("SESSION_SECRET must not be empty")
	}
	if c.Session.TTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.Feed.Interval <= 0 {
		return errors.New("FEED_INTERVAL must be positive")
	}
	if !finite(c.Feed.StartPrice) || c.Feed.StartPrice <= 0 {
		return errors.New("FEED_START_PRICE must be a positive number")
	}
	if !finite(c.Feed.MaxDelta) || c.Feed.MaxDelta < 0 {
		return errors.New("FEED_MAX_DELTA must be a finite, non-negative number")
	}
	if c.Feed.Symbol == "" {
		return errors.New("FEED_SYMBOL must not be empty")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
