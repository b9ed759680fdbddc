package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite::memory:")
	t.Setenv("API_KEYS", " key-a, ,key-b ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.APIKeys)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 20, cfg.QRWaitAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.QRWaitInterval)
	assert.True(t, cfg.AutoRestore)
	assert.Equal(t, ".", cfg.LegacyAuthDir)
	assert.Equal(t, "62", cfg.DefaultCountryCode)
	assert.Equal(t, "ws://localhost:3001", cfg.BridgeURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gw")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9000")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "5")
	t.Setenv("RECONNECT_DELAY", "2500")
	t.Setenv("QR_WAIT_INTERVAL", "1s")
	t.Setenv("AUTO_RESTORE", "false")
	t.Setenv("LEGACY_AUTH_DIR", "")
	t.Setenv("DEFAULT_COUNTRY_CODE", "+49")
	t.Setenv("LOG_FORMAT", "Console")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 2500*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, time.Second, cfg.QRWaitInterval)
	assert.False(t, cfg.AutoRestore)
	assert.Empty(t, cfg.LegacyAuthDir)
	assert.Equal(t, "49", cfg.DefaultCountryCode)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "sqlite::memory:")
	t.Setenv("API_KEYS", "")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	assert.ErrorContains(t, err, "API_KEYS")

	t.Setenv("DEV_MODE", "true")
	_, err = Load()
	assert.NoError(t, err)

	t.Setenv("RECONNECT_DELAY", "soon")
	_, err = Load()
	assert.ErrorContains(t, err, "RECONNECT_DELAY")
	t.Setenv("RECONNECT_DELAY", "")

	t.Setenv("QR_WAIT_ATTEMPTS", "-1")
	_, err = Load()
	assert.ErrorContains(t, err, "QR_WAIT_ATTEMPTS")
}
