package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var hexKey = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

type Config struct {
	Port        int      `env:"PORT" envDefault:"8080"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	ClientName  string   `env:"CLIENT_NAME" envDefault:"remote-signer-go"`
	RelayURLs   []string `env:"RELAY_URLS" envSeparator:","`
	RedisURL    string   `env:"REDIS_URL"`
	DatabaseURL string   `env:"DATABASE_URL"`
	BoltPath    string   `env:"BOLT_PATH" envDefault:"./sessions.db"`

	EncryptionKey          string `env:"ENCRYPTION_KEY"`
	StorageMaxBytes        int64  `env:"STORAGE_MAX_BYTES" envDefault:"0"`
	StorageCooldownSeconds int    `env:"STORAGE_COOLDOWN_SECONDS" envDefault:"60"`
	PersistDebounceMS      int    `env:"PERSIST_DEBOUNCE_MS" envDefault:"250"`

	RequestTimeoutSeconds    int `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	ReconnectIntervalSeconds int `env:"RECONNECT_INTERVAL_SECONDS" envDefault:"10"`
	ReconnectCooldownSeconds int `env:"RECONNECT_COOLDOWN_SECONDS" envDefault:"60"`
	RecencyWindowSeconds     int `env:"RECENCY_WINDOW_SECONDS" envDefault:"60"`
	SignRateLimitPerMin      int `env:"SIGN_RATE_LIMIT_PER_MIN" envDefault:"10"`

	APITokenHash       string `env:"API_TOKEN_HASH"`
	APIRateLimitPerMin int    `env:"API_RATE_LIMIT_PER_MIN" envDefault:"120"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) StorageCooldown() time.Duration {
	return time.Duration(c.StorageCooldownSeconds) * time.Second
}

func (c *Config) PersistDebounce() time.Duration {
	return time.Duration(c.PersistDebounceMS) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalSeconds) * time.Second
}

func (c *Config) ReconnectCooldown() time.Duration {
	return time.Duration(c.ReconnectCooldownSeconds) * time.Second
}

func (c *Config) RecencyWindow() time.Duration {
	return time.Duration(c.RecencyWindowSeconds) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if len(c.RelayURLs) == 0 && c.RedisURL == "" {
		return fmt.Errorf("at least one of RELAY_URLS or REDIS_URL must be set")
	}
	for _, u := range c.RelayURLs {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("RELAY_URLS entry %q must use ws:// or wss://", u)
		}
	}

	if c.EncryptionKey != "" && !hexKey.MatchString(c.EncryptionKey) {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes (64 hex chars)")
	}

	if c.APITokenHash != "" {
		if !strings.HasPrefix(c.APITokenHash, "$2a$") &&
			!strings.HasPrefix(c.APITokenHash, "$2b$") &&
			!strings.HasPrefix(c.APITokenHash, "$2y$") {
			return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-token.go <token>)")
		}
	}

	for name, v := range map[string]int{
		"REQUEST_TIMEOUT_SECONDS":    c.RequestTimeoutSeconds,
		"RECONNECT_INTERVAL_SECONDS": c.ReconnectIntervalSeconds,
		"RECONNECT_COOLDOWN_SECONDS": c.ReconnectCooldownSeconds,
		"SIGN_RATE_LIMIT_PER_MIN":    c.SignRateLimitPerMin,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if isProduction {
		if c.APITokenHash == "" {
			return fmt.Errorf("API_TOKEN_HASH is required in production")
		}
		for _, u := range c.RelayURLs {
			if strings.HasPrefix(u, "ws://") {
				log.Warn().Str("relay", u).Msg("relay uses ws:// (not TLS) in production: consider wss://")
			}
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.EncryptionKey == "" && c.DatabaseURL == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: session key material will not be encrypted at rest")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
