package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string

	// APIKeys authorize operator requests via X-API-Key or a bearer key.
	APIKeys []string
	// JWTSecret, when set, also accepts HS256 operator tokens.
	JWTSecret string

	BridgeURL   string
	BridgeToken string

	LogLevel  string
	LogFormat string

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	QRWaitAttempts       int
	QRWaitInterval       time.Duration
	AutoRestore          bool
	LegacyAuthDir        string
	DefaultCountryCode   string

	// SendRateLimit caps messages per tenant per SendRateWindow; 0 disables it.
	SendRateLimit  int
	SendRateWindow time.Duration

	DevMode bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 "8080", // default port
		BridgeURL:            "ws://localhost:3001",
		LogLevel:             "info",
		LogFormat:            "json",
		MaxReconnectAttempts: 3,
		ReconnectDelay:       5 * time.Second,
		QRWaitAttempts:       20,
		QRWaitInterval:       500 * time.Millisecond,
		AutoRestore:          true,
		LegacyAuthDir:        ".",
		DefaultCountryCode:   "62",
		SendRateLimit:        60,
		SendRateWindow:       time.Minute,
	}

	// Load DATABASE_URL (required)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	// Load PORT (optional, defaults to 8080)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Load DEV_MODE (optional, defaults to false)
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	cfg.APIKeys = splitList(os.Getenv("API_KEYS"))
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if len(cfg.APIKeys) == 0 && cfg.JWTSecret == "" && !cfg.DevMode {
		return nil, fmt.Errorf("API_KEYS or JWT_SECRET environment variable is required")
	}

	if v := os.Getenv("BRIDGE_URL"); v != "" {
		cfg.BridgeURL = v
	}
	cfg.BridgeToken = os.Getenv("BRIDGE_TOKEN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
		if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
			return nil, fmt.Errorf("LOG_FORMAT must be json or console, got %q", v)
		}
	}

	var err error
	if cfg.MaxReconnectAttempts, err = intEnv("RECONNECT_MAX_ATTEMPTS", cfg.MaxReconnectAttempts); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay, err = durationEnv("RECONNECT_DELAY", cfg.ReconnectDelay); err != nil {
		return nil, err
	}
	if cfg.QRWaitAttempts, err = intEnv("QR_WAIT_ATTEMPTS", cfg.QRWaitAttempts); err != nil {
		return nil, err
	}
	if cfg.QRWaitInterval, err = durationEnv("QR_WAIT_INTERVAL", cfg.QRWaitInterval); err != nil {
		return nil, err
	}
	if cfg.SendRateLimit, err = intEnv("SEND_RATE_LIMIT", cfg.SendRateLimit); err != nil {
		return nil, err
	}
	if cfg.SendRateWindow, err = durationEnv("SEND_RATE_WINDOW", cfg.SendRateWindow); err != nil {
		return nil, err
	}

	// Load AUTO_RESTORE (optional, defaults to true)
	if v := os.Getenv("AUTO_RESTORE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("AUTO_RESTORE: %w", err)
		}
		cfg.AutoRestore = b
	}

	// LEGACY_AUTH_DIR may be set to "" to disable the cleanup.
	if v, ok := os.LookupEnv("LEGACY_AUTH_DIR"); ok {
		cfg.LegacyAuthDir = v
	}
	if v := os.Getenv("DEFAULT_COUNTRY_CODE"); v != "" {
		cfg.DefaultCountryCode = strings.TrimPrefix(v, "+")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, v)
	}
	return n, nil
}

// durationEnv accepts Go durations ("5s") or plain milliseconds ("500").
func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a duration like 5s or milliseconds, got %q", name, v)
	}
	return d, nil
}
