package config

import (
	"fmt"
	"os"
	"strings"
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

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Config 遥测管道服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 状态缓存配置
	Cache struct {
		MaxSize          int           // 容量上限，默认 1000
		OnlineVariantTTL time.Duration // 变体协议在线条目 TTL，默认 10分钟
		OfflineHotTTL    time.Duration // 近期离线条目 TTL，默认 30分钟
		OfflineColdTTL   time.Duration // 长期离线条目 TTL，默认 5分钟
	}

	// 接入配置
	Ingest struct {
		Quarantine       time.Duration // 去重键隔离窗口，默认 10秒
		VariantProtocols []string      // 需要周期性重验证的协议族
	}

	// 引擎配置
	Engine struct {
		RuleRefreshInterval time.Duration // 规则缓存全量刷新间隔，默认 60秒
		AlarmStream         string        // 新报警投递的 Redis Stream
		WebhookURL          string        // 可选的报警 Webhook 地址
	}

	HTTP struct {
		Addr string // 健康检查/指标端口
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "dtu")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "dtu-telemetry")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "dtu/telemetry/decoded")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.OnlineVariantTTL = time.Duration(getEnvInt("CACHE_ONLINE_VARIANT_TTL_SECONDS", 600)) * time.Second
	cfg.Cache.OfflineHotTTL = time.Duration(getEnvInt("CACHE_OFFLINE_HOT_TTL_SECONDS", 1800)) * time.Second
	cfg.Cache.OfflineColdTTL = time.Duration(getEnvInt("CACHE_OFFLINE_COLD_TTL_SECONDS", 300)) * time.Second

	cfg.Ingest.Quarantine = time.Duration(getEnvInt("INGEST_QUARANTINE_SECONDS", 10)) * time.Second
	cfg.Ingest.VariantProtocols = splitList(getEnv("INGEST_VARIANT_PROTOCOLS", "modbus-ascii"))

	cfg.Engine.RuleRefreshInterval = time.Duration(getEnvInt("RULE_REFRESH_INTERVAL_SECONDS", 60)) * time.Second
	cfg.Engine.AlarmStream = getEnv("ALARM_STREAM", "dtu:alarms")
	cfg.Engine.WebhookURL = getEnv("ALARM_WEBHOOK_URL", "")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

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
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var n int
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
		return defaultValue
	}
	return n
}

// splitList 解析逗号分隔的列表，去除空项
func splitList(value string) []string {
	var items []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			items = append(items, p)
		}
	}
	return items
}
