package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime settings for the API process. Everything is
// sourced from the environment; defaults are tuned for local development.
type Config struct {
	Addr      string `env:"OPSDESK_ADDR" envDefault:":8080"`
	PGDSN     string `env:"OPSDESK_PG_DSN"`
	RedisAddr string `env:"OPSDESK_REDIS_ADDR"`

	AuthSecret string        `env:"OPSDESK_AUTH_SECRET"`
	Issuer     string        `env:"OPSDESK_ISSUER" envDefault:"opsdesk"`
	TokenTTL   time.Duration `env:"OPSDESK_TOKEN_TTL" envDefault:"1h"`
	ResetTTL   time.Duration `env:"OPSDESK_RESET_TTL" envDefault:"1h"`

	MaxLoginAttempts   int           `env:"OPSDESK_MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginAttemptWindow time.Duration `env:"OPSDESK_LOGIN_ATTEMPT_WINDOW" envDefault:"15m"`

	PasswordMinLength int      `env:"OPSDESK_PASSWORD_MIN_LENGTH" envDefault:"8"`
	ManagementRoles   []string `env:"OPSDESK_MANAGEMENT_ROLES" envDefault:"Admin,Manager"`

	StoreTimeout time.Duration `env:"OPSDESK_STORE_TIMEOUT" envDefault:"5s"`

	RateBurst  int `env:"OPSDESK_RATE_BURST" envDefault:"20"`
	RatePerSec int `env:"OPSDESK_RATE_PER_SEC" envDefault:"10"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("config: OPSDESK_AUTH_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: token TTL must be positive")
	}
	if c.ResetTTL <= 0 {
		return errors.New("config: reset TTL must be positive")
	}
	if c.MaxLoginAttempts <= 0 {
		return errors.New("config: max login attempts must be positive")
	}
	if c.LoginAttemptWindow <= 0 {
		return errors.New("config: login attempt window must be positive")
	}
	if c.PasswordMinLength < 4 {
		return errors.New("config: password minimum length too small")
	}
	return nil
}
