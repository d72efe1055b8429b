package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）与订单事件 Topic
	KafkaBrokers []string
	KafkaTopic   string

	// Redis Stream outbox（状态变更入流，Relay 异步转 Kafka）
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	// Razorpay 凭证。KeySecret 同时用于支付签名校验；WebhookSecret 是独立的 webhook 签名密钥。
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	GatewayTimeout        time.Duration

	JWTSecret string

	// 计价：币种与税率（税率是配置项，不写死在代码里）
	Currency string
	TaxRate  decimal.Decimal

	// 下单/验签接口限流与幂等键缓存策略
	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration
	IdempotencyTTL     time.Duration

	// 待支付订单超时取消；PendingOrderTTL 为 0 表示关闭
	PendingOrderTTL time.Duration
	ExpiryInterval  time.Duration
}

// Load 读取并校验配置，缺失时使用默认值。
// 工作目录下存在 .env 时先加载它，已存在的环境变量优先。
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DBPath:                getEnv("DB_PATH", "storefront.db"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:               0,
		KafkaBrokers:          splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "storefront-order-events"),
		OrderEventStream:      getEnv("ORDER_EVENT_STREAM", "storefront:order_events"),
		OrderEventGroup:       getEnv("ORDER_EVENT_GROUP", "storefront-relay-group"),
		OrderEventConsumer:    getEnv("ORDER_EVENT_CONSUMER", "storefront-relay-1"),
		RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		GatewayTimeout:        10 * time.Second,
		JWTSecret:             getEnv("JWT_SECRET", ""),
		Currency:              strings.ToUpper(getEnv("CURRENCY", "INR")),
		CheckoutRateLimit:     20,
		CheckoutRateWindow:    time.Minute,
		IdempotencyTTL:        24 * time.Hour,
		PendingOrderTTL:       0,
		ExpiryInterval:        time.Minute,
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	taxRate, err := decimal.NewFromString(getEnv("TAX_RATE", "0.18"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid TAX_RATE: %w", err)
	}
	if taxRate.IsNegative() || taxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return AppConfig{}, fmt.Errorf("TAX_RATE must be in [0, 1)")
	}
	cfg.TaxRate = taxRate

	timeoutSec, err := getEnvInt("GATEWAY_TIMEOUT_SEC", int(cfg.GatewayTimeout.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid GATEWAY_TIMEOUT_SEC: %w", err)
	}
	if timeoutSec <= 0 {
		return AppConfig{}, fmt.Errorf("GATEWAY_TIMEOUT_SEC must be > 0")
	}
	cfg.GatewayTimeout = time.Duration(timeoutSec) * time.Second

	rateLimit, err := getEnvInt("CHECKOUT_RATE_LIMIT", cfg.CheckoutRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("CHECKOUT_RATE_LIMIT must be > 0")
	}
	cfg.CheckoutRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("CHECKOUT_RATE_WINDOW_SEC", int(cfg.CheckoutRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("CHECKOUT_RATE_WINDOW_SEC must be > 0")
	}
	cfg.CheckoutRateWindow = time.Duration(rateWindowSec) * time.Second

	idemTTLHour, err := getEnvInt("IDEMPOTENCY_TTL_HOUR", int(cfg.IdempotencyTTL.Hours()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid IDEMPOTENCY_TTL_HOUR: %w", err)
	}
	if idemTTLHour <= 0 {
		return AppConfig{}, fmt.Errorf("IDEMPOTENCY_TTL_HOUR must be > 0")
	}
	cfg.IdempotencyTTL = time.Duration(idemTTLHour) * time.Hour

	pendingTTLMin, err := getEnvInt("PENDING_ORDER_TTL_MIN", int(cfg.PendingOrderTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PENDING_ORDER_TTL_MIN: %w", err)
	}
	if pendingTTLMin < 0 {
		return AppConfig{}, fmt.Errorf("PENDING_ORDER_TTL_MIN must be >= 0")
	}
	cfg.PendingOrderTTL = time.Duration(pendingTTLMin) * time.Minute

	expirySec, err := getEnvInt("EXPIRY_INTERVAL_SEC", int(cfg.ExpiryInterval.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid EXPIRY_INTERVAL_SEC: %w", err)
	}
	if expirySec <= 0 {
		return AppConfig{}, fmt.Errorf("EXPIRY_INTERVAL_SEC must be > 0")
	}
	cfg.ExpiryInterval = time.Duration(expirySec) * time.Second

	if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
		return AppConfig{}, fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET must be set")
	}
	if cfg.JWTSecret == "" {
		return AppConfig{}, fmt.Errorf("JWT_SECRET must be set")
	}
	if len(cfg.Currency) != 3 {
		return AppConfig{}, fmt.Errorf("CURRENCY must be an ISO 4217 code")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.OrderEventStream == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM must not be empty")
	}
	if cfg.OrderEventGroup == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_GROUP must not be empty")
	}
	if cfg.OrderEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
