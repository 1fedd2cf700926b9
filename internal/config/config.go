// Package config loads application configuration from the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3000"

	// DefaultPollInterval is how often each worker polls for new plays.
	DefaultPollInterval = 3 * time.Minute
)

// ErrMissingCredentials is returned when SPOTIFY_ID or SPOTIFY_SECRET is not set.
var ErrMissingCredentials = errors.New("missing SPOTIFY_ID or SPOTIFY_SECRET environment variable")

// Config holds all runtime configuration.
type Config struct {
	Addr         string
	RedirectURL  string
	DatabaseURL  string
	ClientID     string
	ClientSecret string
	JWTSecret    string
	TokenKey     []byte // 32-byte key for token-at-rest encryption
	PollInterval time.Duration
	LogLevel     string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:         getenv("ADDR", DefaultAddr),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		ClientID:     os.Getenv("SPOTIFY_ID"),
		ClientSecret: os.Getenv("SPOTIFY_SECRET"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		PollInterval: DefaultPollInterval,
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}

	cfg.RedirectURL = getenv("REDIRECT_URL", fmt.Sprintf("http://%s/callback", cfg.Addr))

	key, err := hex.DecodeString(os.Getenv("TOKEN_KEY"))
	if err != nil {
		return nil, fmt.Errorf("parsing TOKEN_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("TOKEN_KEY must be 32 bytes of hex")
	}
	cfg.TokenKey = key

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parsing POLL_INTERVAL: %w", err)
		}
		if d <= 0 {
			return nil, errors.New("POLL_INTERVAL must be positive")
		}
		cfg.PollInterval = d
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
