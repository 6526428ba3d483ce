// Package config loads process configuration from the environment, with an
// optional .env file layered underneath.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	BadgerDir    string `env:"BADGER_DIR"`

	// DATABASE_URL wins over the individual DB_* parts when set.
	DatabaseURL string `env:"DATABASE_URL"`
	DBUser      string `env:"DB_USER"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBHost      string `env:"DB_HOST" envDefault:"localhost"`
	DBPort      string `env:"DB_PORT" envDefault:"5432"`
	DBName      string `env:"DB_NAME"`

	// Empty AMQP_URL keeps events and release jobs in process.
	AMQPURL          string `env:"AMQP_URL"`
	EventsQueue      string `env:"EVENTS_QUEUE" envDefault:"escrow_events"`
	ReleaseQueue     string `env:"RELEASE_QUEUE" envDefault:"payment_releases"`
	WorkerMaxRetries int    `env:"WORKER_MAX_RETRIES" envDefault:"3"`

	RequireSignatures bool          `env:"REQUIRE_SIGNATURES" envDefault:"true"`
	SignatureWindow   time.Duration `env:"SIGNATURE_WINDOW" envDefault:"5m"`
	EnableFaucet      bool          `env:"ENABLE_FAUCET" envDefault:"false"`
	Debug             bool          `env:"DEBUG" envDefault:"false"`
}

// Load reads .env (if present) and then the process environment.
// Variables already set in the environment take precedence over .env.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreBadger:
	case StorePostgres:
		if c.DatabaseURL == "" && c.DBName == "" {
			return errors.New("postgres store requires DATABASE_URL or DB_NAME")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.RequireSignatures && c.SignatureWindow <= 0 {
		return errors.New("SIGNATURE_WINDOW must be positive")
	}
	if c.WorkerMaxRetries < 0 {
		return errors.New("WORKER_MAX_RETRIES must not be negative")
	}
	if c.EventsQueue == "" || c.ReleaseQueue == "" {
		return errors.New("EVENTS_QUEUE and RELEASE_QUEUE must be set")
	}
	return nil
}

// PostgresDSN builds the connection string for lib/pq.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
