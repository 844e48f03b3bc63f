package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("durations convert from configured units", func(t *testing.T) {
		cfg := &Config{
			StorageCooldownSeconds:   60,
			PersistDebounceMS:        250,
			RequestTimeoutSeconds:    30,
			ReconnectIntervalSeconds: 10,
			ReconnectCooldownSeconds: 45,
			RecencyWindowSeconds:     90,
		}
		assert.Equal(t, 60*time.Second, cfg.StorageCooldown())
		assert.Equal(t, 250*time.Millisecond, cfg.PersistDebounce())
		assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
		assert.Equal(t, 10*time.Second, cfg.ReconnectInterval())
		assert.Equal(t, 45*time.Second, cfg.ReconnectCooldown())
		assert.Equal(t, 90*time.Second, cfg.RecencyWindow())
	})
}

func validConfig() *Config {
	return &Config{
		RelayURLs:                []string{"wss://relay.example.com"},
		RequestTimeoutSeconds:    30,
		ReconnectIntervalSeconds: 10,
		ReconnectCooldownSeconds: 60,
		SignRateLimitPerMin:      10,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(c *Config)
		isProduction bool
		wantErr      bool
	}{
		{"valid defaults", func(c *Config) {}, false, false},
		{"redis only", func(c *Config) { c.RelayURLs = nil; c.RedisURL = "redis://localhost:6379" }, false, false},
		{"no transport", func(c *Config) { c.RelayURLs = nil }, false, true},
		{"http relay", func(c *Config) { c.RelayURLs = []string{"https://relay"} }, false, true},
		{"short encryption key", func(c *Config) { c.EncryptionKey = "abcd" }, false, true},
		{"plain token hash", func(c *Config) { c.APITokenHash = "plaintext" }, false, true},
		{"bcrypt token hash", func(c *Config) { c.APITokenHash = "$2a$12$abcdefghijklmnopqrstuv" }, false, false},
		{"zero timeout", func(c *Config) { c.RequestTimeoutSeconds = 0 }, false, true},
		{"production without token", func(c *Config) {}, true, true},
		{"production with token", func(c *Config) { c.APITokenHash = "$2b$12$abcdefghijklmnopqrstuv" }, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate(tc.isProduction)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "RELAY_URLS", "REDIS_URL", "REQUEST_TIMEOUT_SECONDS",
		"RECENCY_WINDOW_SECONDS", "LOG_LEVEL", "STORAGE_MAX_BYTES",
	}
	originalEnv := map[string]string{}
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		for _, k := range keys {
			os.Unsetenv(k)
		}

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Empty(t, cfg.RelayURLs)
		assert.Equal(t, "./sessions.db", cfg.BoltPath)
		assert.Equal(t, 30, cfg.RequestTimeoutSeconds)
		assert.Equal(t, 60, cfg.ReconnectCooldownSeconds)
		assert.Equal(t, 60, cfg.RecencyWindowSeconds)
		assert.Equal(t, 10, cfg.SignRateLimitPerMin)
		assert.Equal(t, int64(0), cfg.StorageMaxBytes)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("PORT", "3000")
		os.Setenv("RELAY_URLS", "wss://a.example.com,wss://b.example.com")
		os.Setenv("REQUEST_TIMEOUT_SECONDS", "5")
		os.Setenv("STORAGE_MAX_BYTES", "1048576")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, []string{"wss://a.example.com", "wss://b.example.com"}, cfg.RelayURLs)
		assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
		assert.Equal(t, int64(1048576), cfg.StorageMaxBytes)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails on malformed number", func(t *testing.T) {
		os.Setenv("PORT", "not-a-number")

		_, err := Load()
		assert.Error(t, err)
	})
}
