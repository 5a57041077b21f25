package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 血库核心服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 库存配置
	Inventory struct {
		LowStockThreshold int // 低库存阈值（可用单元数），默认 50
		ExpiryWarningDays int // 到期预警窗口（天），默认 3
		SummaryCacheTTL   time.Duration // 库存摘要缓存 TTL，默认 5 分钟
		CacheKeyPrefix    string // 摘要缓存键前缀，如 "blood-inventory:summary:"
	}

	// 预留配置
	Reservation struct {
		TTL time.Duration // 预留保持时间，默认 2 小时
	}

	// 后台清扫配置
	Sweep struct {
		ReservationInterval time.Duration // 预留超时清扫间隔，默认 5 分钟
		PhysicalInterval    time.Duration // 物理过期清扫间隔，默认 24 小时
	}

	// 通知配置
	Notify struct {
		Stream     string // Redis Streams 流名称
		WebhookURL string // 可选的 Webhook 地址（为空则禁用）
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（从环境变量，带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "bloodcore")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Inventory.LowStockThreshold = getEnvInt("INVENTORY_LOW_STOCK_THRESHOLD", 50)
	cfg.Inventory.ExpiryWarningDays = getEnvInt("INVENTORY_EXPIRY_WARNING_DAYS", 3)
	cfg.Inventory.SummaryCacheTTL = getEnvDuration("INVENTORY_SUMMARY_CACHE_TTL", 5*time.Minute)
	cfg.Inventory.CacheKeyPrefix = getEnv("INVENTORY_CACHE_PREFIX", "blood-inventory:summary:")

	cfg.Reservation.TTL = getEnvDuration("RESERVATION_TTL", 2*time.Hour)

	cfg.Sweep.ReservationInterval = getEnvDuration("SWEEP_RESERVATION_INTERVAL", 5*time.Minute)
	cfg.Sweep.PhysicalInterval = getEnvDuration("SWEEP_PHYSICAL_INTERVAL", 24*time.Hour)

	cfg.Notify.Stream = getEnv("NOTIFY_STREAM", "bloodcore:notifications")
	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
