// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL      string        `env:"DATABASE_URL,notEmpty"`
	DBConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
	DBMaxOpenConns   int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns   int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,notEmpty"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"` // 未指定時はBaseURL + /auth/google/callback

	// Session
	CookieKey              string        `env:"COOKIE_KEY,notEmpty"`
	SessionMaxAge          time.Duration `env:"SESSION_MAX_AGE" envDefault:"720h"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"24h"`

	// Timeouts
	VerifyTimeout   time.Duration `env:"VERIFY_TIMEOUT" envDefault:"8s"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"8s"`
	CallbackTimeout time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"25s"`

	// Server
	Port      string `env:"PORT" envDefault:"5000"`
	BaseURL   string `env:"BASE_URL" envDefault:"http://localhost:5000"`
	ClientURL string `env:"CLIENT_URL" envDefault:"http://localhost:5173"`

	// Cookie
	CookieSecure bool   // BaseURLがhttpsの場合にtrue
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"` // 未指定時はClientURL

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.ClientURL = strings.TrimRight(cfg.ClientURL, "/")
	if cfg.GoogleRedirectURL == "" {
		cfg.GoogleRedirectURL = cfg.BaseURL + "/auth/google/callback"
	}
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = cfg.ClientURL
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証する。
// 個々の外部呼び出しのタイムアウトはコールバック全体のタイムアウトより短くなければならない。
func (c *Config) Validate() error {
	var errs []error

	durations := []struct {
		key string
		val time.Duration
	}{
		{"SESSION_MAX_AGE", c.SessionMaxAge},
		{"SESSION_CLEANUP_INTERVAL", c.SessionCleanupInterval},
		{"VERIFY_TIMEOUT", c.VerifyTimeout},
		{"STORE_TIMEOUT", c.StoreTimeout},
		{"CALLBACK_TIMEOUT", c.CallbackTimeout},
		{"DB_CONNECT_TIMEOUT", c.DBConnectTimeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
		}
	}

	if c.VerifyTimeout >= c.CallbackTimeout {
		errs = append(errs, fmt.Errorf("VERIFY_TIMEOUT (%s) must be shorter than CALLBACK_TIMEOUT (%s)", c.VerifyTimeout, c.CallbackTimeout))
	}
	if c.StoreTimeout >= c.CallbackTimeout {
		errs = append(errs, fmt.Errorf("STORE_TIMEOUT (%s) must be shorter than CALLBACK_TIMEOUT (%s)", c.StoreTimeout, c.CallbackTimeout))
	}
	if c.DBMaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must be positive"))
	}
	if c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
