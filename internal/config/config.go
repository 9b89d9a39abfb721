package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Redis   RedisConfig
	Parking ParkingConfig
	Ledger  LedgerConfig
	Log     LogConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host        string `envconfig:"DB_HOST" default:"localhost"`
	Port        int    `envconfig:"DB_PORT" default:"5432"`
	User        string `envconfig:"DB_USER" default:"postgres"`
	Password    string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name        string `envconfig:"DB_NAME" default:"parking_db"`
	SSLMode     string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns    int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns    int    `envconfig:"DB_MIN_CONNS" default:"5"`
	MaxRetries  int    `envconfig:"DB_MAX_RETRIES" default:"5"`
	AutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// RedisConfig holds the open ticket cache configuration.
// An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string        `envconfig:"REDIS_ADDR" default:""`
	Password string        `envconfig:"REDIS_PASSWORD" default:""`
	TTL      time.Duration `envconfig:"REDIS_TTL" default:"12h"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// ParkingConfig holds tariff and polling settings.
type ParkingConfig struct {
	RatePerMinute   string        `envconfig:"PARKING_RATE_PER_MINUTE" default:"0.12"`
	RefreshInterval time.Duration `envconfig:"PARKING_REFRESH_INTERVAL" default:"10s"`
}

// DefaultRate parses RatePerMinute.
func (c ParkingConfig) DefaultRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.RatePerMinute)
	if err != nil {
		return decimal.Zero, fmt.Errorf("PARKING_RATE_PER_MINUTE %q: %w", c.RatePerMinute, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("PARKING_RATE_PER_MINUTE %q: must not be negative", c.RatePerMinute)
	}
	return rate, nil
}

// LedgerConfig holds the settings of the HTTP ledger client.
// UserID is the account the attendant CLI acts for when -user is not given.
type LedgerConfig struct {
	URL     string        `envconfig:"LEDGER_URL" default:"http://localhost:3000"`
	Timeout time.Duration `envconfig:"LEDGER_TIMEOUT" default:"10s"`
	UserID  string        `envconfig:"LEDGER_USER_ID" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.Parking.DefaultRate(); err != nil {
		return nil, err
	}
	if cfg.Parking.RefreshInterval <= 0 {
		return nil, fmt.Errorf("PARKING_REFRESH_INTERVAL must be positive, got %s", cfg.Parking.RefreshInterval)
	}
	return &cfg, nil
}
