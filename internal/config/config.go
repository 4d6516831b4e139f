// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// maxFetchPerPage はマーケットプレイスが受け付けるページサイズの上限。
const maxFetchPerPage = 96

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Marketplace
	MarketplaceBaseURL string
	MarketplaceLocale  string

	// Fetch
	FetchTimeout   time.Duration
	FetchDelay     time.Duration
	FetchPerPage   int
	FetchOrder     string
	FetchMaxSize   int64
	FetchSSRFGuard bool

	// Worker
	RefreshInterval time.Duration

	// Rate Limit（req/min/IP）
	RateLimitGeneral int
	RateLimitFetch   int

	// Server
	ServerPort string
	LogLevel   string

	// CORS
	CORSAllowedOrigin string
}

// Load はカレントディレクトリの.envを読み込んだうえで環境変数からConfigを読み込む。
// .envが存在しない場合は環境変数のみを使う。
func Load() (*Config, error) {
	return LoadWithEnvFile(".env")
}

// LoadWithEnvFile は指定された.envファイルを読み込んだうえでConfigを読み込む。
// 既に設定されている環境変数は.envの値で上書きしない。
func LoadWithEnvFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.MarketplaceBaseURL = getEnvString("MARKETPLACE_BASE_URL", "https://www.vinted.fr")
	if err := validateBaseURL(cfg.MarketplaceBaseURL); err != nil {
		return nil, err
	}
	cfg.MarketplaceLocale = getEnvStringAllowEmpty("MARKETPLACE_LOCALE", "fr")

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchDelay = getEnvDuration("FETCH_DELAY", 1*time.Second)
	cfg.FetchPerPage = clamp(getEnvInt("FETCH_PER_PAGE", 20), 1, maxFetchPerPage)
	cfg.FetchOrder = getEnvString("FETCH_ORDER", "newest_first")
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchSSRFGuard = getEnvBool("FETCH_SSRF_GUARD", true)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitFetch = getEnvInt("RATE_LIMIT_FETCH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("MARKETPLACE_BASE_URL must be an absolute http(s) URL: %q", raw)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvStringAllowEmpty は環境変数が空文字で設定されている場合は空文字を返す。
func getEnvStringAllowEmpty(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
