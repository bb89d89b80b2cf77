package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// トークン保存先の種別
const (
	TokenStoreFile     = "file"
	TokenStoreRedis    = "redis"
	TokenStorePostgres = "postgres"
)

// 決済プロバイダーの種別
const (
	PaymentProviderReference = "reference"
	PaymentProviderStripe    = "stripe"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// API
	APIBaseURL      string
	RequestTimeout  time.Duration
	APIRateLimit    float64
	APIRateBurst    int
	OrderCreatePath string

	// Token
	TokenStore    string
	TokenSlot     string
	TokenFile     string
	RedisAddr     string
	RedisPassword string
	DatabaseURL   string

	// Payment
	PaymentProvider     string
	StripeSecretKey     string
	StripePaymentMethod string
	PaymentCurrency     string

	// Checkout
	CheckoutPollInterval  time.Duration
	CheckoutSettleTimeout time.Duration

	// View server
	ViewPort          string
	ViewAllowedOrigin string

	// Download
	DownloadDir     string
	DownloadTimeout time.Duration
	DownloadMaxSize int64
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = os.Getenv("STOREFRONT_API_URL")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "STOREFRONT_API_URL")
	}

	// migrateコマンドはTOKEN_STOREに関わらずDATABASE_URLを使う
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.TokenStore = getEnvString("TOKEN_STORE", TokenStoreFile)
	switch cfg.TokenStore {
	case TokenStoreFile:
	case TokenStoreRedis:
		if cfg.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	case TokenStorePostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported TOKEN_STORE: %q (allowed: file, redis, postgres)", cfg.TokenStore)
	}

	cfg.PaymentProvider = getEnvString("PAYMENT_PROVIDER", PaymentProviderReference)
	switch cfg.PaymentProvider {
	case PaymentProviderReference:
	case PaymentProviderStripe:
		cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
		if cfg.StripeSecretKey == "" {
			missing = append(missing, "STRIPE_SECRET_KEY")
		}
	default:
		return nil, fmt.Errorf("unsupported PAYMENT_PROVIDER: %q (allowed: reference, stripe)", cfg.PaymentProvider)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 15*time.Second)
	cfg.APIRateLimit = getEnvFloat("API_RATE_LIMIT", 10)
	cfg.APIRateBurst = getEnvInt("API_RATE_BURST", 20)
	cfg.OrderCreatePath = getEnvString("ORDER_CREATE_PATH", "/api/orders")
	cfg.TokenSlot = getEnvString("TOKEN_SLOT", "storefront_access_token")
	cfg.TokenFile = getEnvString("TOKEN_FILE", ".storefront/token.json")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.StripePaymentMethod = getEnvString("STRIPE_PAYMENT_METHOD", "pm_card_visa")
	cfg.PaymentCurrency = getEnvString("PAYMENT_CURRENCY", "usd")
	cfg.CheckoutPollInterval = getEnvDuration("CHECKOUT_POLL_INTERVAL", 2*time.Second)
	cfg.CheckoutSettleTimeout = getEnvDuration("CHECKOUT_SETTLE_TIMEOUT", 60*time.Second)
	cfg.ViewPort = getEnvString("VIEW_PORT", "8081")
	cfg.ViewAllowedOrigin = getEnvString("VIEW_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.DownloadDir = getEnvString("DOWNLOAD_DIR", "downloads")
	cfg.DownloadTimeout = getEnvDuration("DOWNLOAD_TIMEOUT", 5*time.Minute)
	cfg.DownloadMaxSize = getEnvInt64("DOWNLOAD_MAX_SIZE", 104857600)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
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
