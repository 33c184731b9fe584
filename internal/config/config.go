package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string

	// DBDriver 取值 sqlite / postgres
	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisDB       int
	RedisPassword string

	// 每次 Redis / DB 调用的超时
	StoreTimeout time.Duration
	// 库存账本与用户锁 TTL = (结束时间 - now) + KeySafetyMargin
	KeySafetyMargin time.Duration
	// 商品缓存 TTL = (结束时间 - now) + ItemCacheMargin
	ItemCacheMargin time.Duration
	// 列表查询把刚结束 ListingGrace 内的商品也带上
	ListingGrace time.Duration

	// 购买接口限流
	BuyRateLimit  int
	BuyRateWindow time.Duration

	// 创建秒杀商品的管理员令牌（demo 级别保护）
	AdminToken string

	// Kafka 集群地址（逗号分隔）；为空时不启动订单事件 relay
	KafkaBrokers []string
	KafkaTopic   string

	// Redis Stream outbox（下单后入流，Relay 异步转 Kafka）
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	// 库存对账周期，0 表示关闭
	ReconcileInterval time.Duration

	SeedDemo bool

	LogLevel  string
	LogFormat string
}

// EventsEnabled 是否配置了 Kafka。
func (c AppConfig) EventsEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:              getEnv("DB_DSN", "flash_sale.db"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		AdminToken:         getEnv("ADMIN_TOKEN", "dev-admin-token"),
		KafkaBrokers:       splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "flash-sale-orders"),
		OrderEventStream:   getEnv("ORDER_EVENT_STREAM", "flash_sale:order_events"),
		OrderEventGroup:    getEnv("ORDER_EVENT_GROUP", "flash-sale-relay-group"),
		OrderEventConsumer: getEnv("ORDER_EVENT_CONSUMER", "flash-sale-relay-1"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	storeTimeoutMS, err := getEnvInt("STORE_TIMEOUT_MS", 2000)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid STORE_TIMEOUT_MS: %w", err)
	}
	if storeTimeoutMS <= 0 {
		return AppConfig{}, fmt.Errorf("STORE_TIMEOUT_MS must be > 0")
	}
	cfg.StoreTimeout = time.Duration(storeTimeoutMS) * time.Millisecond

	// key 必须比秒杀结束活得更久，否则结束前用户锁/账本可能先过期。
	marginMin, err := getEnvInt("KEY_SAFETY_MARGIN_MIN", 60)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid KEY_SAFETY_MARGIN_MIN: %w", err)
	}
	if marginMin <= 0 {
		return AppConfig{}, fmt.Errorf("KEY_SAFETY_MARGIN_MIN must be > 0")
	}
	cfg.KeySafetyMargin = time.Duration(marginMin) * time.Minute

	cacheHour, err := getEnvInt("ITEM_CACHE_MARGIN_HOUR", 6)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ITEM_CACHE_MARGIN_HOUR: %w", err)
	}
	if cacheHour <= 0 {
		return AppConfig{}, fmt.Errorf("ITEM_CACHE_MARGIN_HOUR must be > 0")
	}
	cfg.ItemCacheMargin = time.Duration(cacheHour) * time.Hour

	graceSec, err := getEnvInt("LISTING_GRACE_SEC", 1)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid LISTING_GRACE_SEC: %w", err)
	}
	if graceSec < 0 {
		return AppConfig{}, fmt.Errorf("LISTING_GRACE_SEC must be >= 0")
	}
	cfg.ListingGrace = time.Duration(graceSec) * time.Second

	rateLimit, err := getEnvInt("BUY_RATE_LIMIT", 1000)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	cfg.BuyRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("BUY_RATE_WINDOW_SEC", 1)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_WINDOW_SEC must be > 0")
	}
	cfg.BuyRateWindow = time.Duration(rateWindowSec) * time.Second

	reconcileSec, err := getEnvInt("RECONCILE_INTERVAL_SEC", 30)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RECONCILE_INTERVAL_SEC: %w", err)
	}
	if reconcileSec < 0 {
		return AppConfig{}, fmt.Errorf("RECONCILE_INTERVAL_SEC must be >= 0")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSec) * time.Second

	seedDemo, err := getEnvBool("SEED_DEMO", false)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SEED_DEMO: %w", err)
	}
	cfg.SeedDemo = seedDemo

	if cfg.AdminToken == "" {
		return AppConfig{}, fmt.Errorf("ADMIN_TOKEN must not be empty")
	}
	if cfg.EventsEnabled() {
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if cfg.OrderEventGroup == "" {
			return AppConfig{}, fmt.Errorf("ORDER_EVENT_GROUP must not be empty")
		}
		if cfg.OrderEventConsumer == "" {
			return AppConfig{}, fmt.Errorf("ORDER_EVENT_CONSUMER must not be empty")
		}
	}
	if cfg.OrderEventStream == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM must not be empty")
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

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
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
