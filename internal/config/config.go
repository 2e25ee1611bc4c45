// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// minSessionSecretLength はセッションCookie署名鍵の最小バイト数。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Session
	SessionSecret          string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge          int           `env:"SESSION_MAX_AGE" envDefault:"86400"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// 2FA
	Require2FA bool   `env:"REQUIRE_2FA" envDefault:"false"`
	MFAStrict  bool   `env:"MFA_STRICT" envDefault:"false"`
	TOTPIssuer string `env:"TOTP_ISSUER" envDefault:"BookMarket"`

	// Lockout
	LoginMaxFailedAttempts int           `env:"LOGIN_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LoginLockDuration      time.Duration `env:"LOGIN_LOCK_DURATION" envDefault:"3m"`

	// OAuth
	OAuthHTTPTimeout   time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`
	GitHubClientID     string        `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `env:"GITHUB_CLIENT_SECRET"`
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`

	// Rate Limit（リクエスト/分）
	RateLimitLogin int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`
	RateLimitTOTP  int `env:"RATE_LIMIT_TOTP" envDefault:"10"`
	RateLimitMFA   int `env:"RATE_LIMIT_MFA" envDefault:"5"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をすべて含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}
	if err := cfg.validatePositive(); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// validatePositive は回数、期間、レート制限が正の値であることを検証する。
func (c *Config) validatePositive() error {
	ints := []struct {
		name  string
		value int
	}{
		{"LOGIN_MAX_FAILED_ATTEMPTS", c.LoginMaxFailedAttempts},
		{"SESSION_MAX_AGE", c.SessionMaxAge},
		{"RATE_LIMIT_LOGIN", c.RateLimitLogin},
		{"RATE_LIMIT_TOTP", c.RateLimitTOTP},
		{"RATE_LIMIT_MFA", c.RateLimitMFA},
	}
	for _, v := range ints {
		if v.value < 1 {
			return fmt.Errorf("%s must be positive", v.name)
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"LOGIN_LOCK_DURATION", c.LoginLockDuration},
		{"OAUTH_HTTP_TIMEOUT", c.OAuthHTTPTimeout},
		{"SESSION_CLEANUP_INTERVAL", c.SessionCleanupInterval},
	}
	for _, v := range durations {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive", v.name)
		}
	}
	return nil
}
