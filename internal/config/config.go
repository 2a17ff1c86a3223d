// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/hitoshi/scholarly/internal/logger"
)

// セッションキャッシュの種別。
const (
	SessionCacheNone   = "none"
	SessionCacheMemory = "memory"
	SessionCacheRedis  = "redis"
)

// maxHistoryLimit は履歴取得件数の上限。
const maxHistoryLimit = 1000

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// OAuth
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	RedirectURI        string        `env:"REDIRECT_URI,required,notEmpty"`
	OAuthHTTPTimeout   time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`

	// Session
	SessionTTL           time.Duration `env:"SESSION_TTL"            envDefault:"168h"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1h"`
	SessionCache         string        `env:"SESSION_CACHE"`
	RedisURL             string        `env:"REDIS_URL"`

	// Chat
	HistoryDefaultLimit int `env:"HISTORY_DEFAULT_LIMIT" envDefault:"100"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT"`
	Port       string `env:"PORT"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`
	AppURL     string `env:"APP_URL"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 既に設定されている環境変数は.envの値で上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv は環境変数のみからConfigを読み込む。
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Derived fields
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AppURL == "" {
		cfg.AppURL = cfg.BaseURL + "/app"
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = cfg.Port
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "5000"
	}
	if cfg.SessionCache == "" {
		cfg.SessionCache = SessionCacheMemory
		if cfg.RedisURL != "" {
			cfg.SessionCache = SessionCacheRedis
		}
	}
	cfg.SessionCache = strings.ToLower(cfg.SessionCache)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は値の組み合わせを検証する。
func (c *Config) validate() error {
	var errs []error

	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
	}
	if c.SessionSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive, got %s", c.SessionSweepInterval))
	}
	if c.OAuthHTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("OAUTH_HTTP_TIMEOUT must be positive, got %s", c.OAuthHTTPTimeout))
	}
	switch c.SessionCache {
	case SessionCacheNone, SessionCacheMemory:
	case SessionCacheRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when SESSION_CACHE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_CACHE must be one of none, memory, redis, got %q", c.SessionCache))
	}
	if c.HistoryDefaultLimit <= 0 || c.HistoryDefaultLimit > maxHistoryLimit {
		errs = append(errs, fmt.Errorf("HISTORY_DEFAULT_LIMIT must be between 1 and %d, got %d", maxHistoryLimit, c.HistoryDefaultLimit))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
