package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "dtu", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "dtu/telemetry/decoded", cfg.MQTT.Topic)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 10*time.Minute, cfg.Cache.OnlineVariantTTL)
	assert.Equal(t, 30*time.Minute, cfg.Cache.OfflineHotTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.OfflineColdTTL)

	assert.Equal(t, 10*time.Second, cfg.Ingest.Quarantine)
	assert.Equal(t, []string{"modbus-ascii"}, cfg.Ingest.VariantProtocols)

	assert.Equal(t, 60*time.Second, cfg.Engine.RuleRefreshInterval)
	assert.Equal(t, "dtu:alarms", cfg.Engine.AlarmStream)
	assert.Equal(t, "", cfg.Engine.WebhookURL)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("CACHE_MAX_SIZE", "50")
	os.Setenv("INGEST_QUARANTINE_SECONDS", "3")
	os.Setenv("INGEST_VARIANT_PROTOCOLS", "modbus-ascii, dlt645")
	os.Setenv("ALARM_WEBHOOK_URL", "http://localhost:9000/hook")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证环境变量覆盖
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-db", cfg.Database.Database)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 50, cfg.Cache.MaxSize)
	assert.Equal(t, 3*time.Second, cfg.Ingest.Quarantine)
	assert.Equal(t, []string{"modbus-ascii", "dlt645"}, cfg.Ingest.VariantProtocols)
	assert.Equal(t, "http://localhost:9000/hook", cfg.Engine.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 清理环境变量
	os.Clearenv()
}

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "u",
		Password: "p",
		Database: "dtu",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=dtu sslmode=disable", cfg.GetDSN())
}

func TestGetEnvInt(t *testing.T) {
	os.Clearenv()
	assert.Equal(t, 42, getEnvInt("TEST_INT", 42))

	os.Setenv("TEST_INT", "7")
	assert.Equal(t, 7, getEnvInt("TEST_INT", 42))

	os.Setenv("TEST_INT", "not-a-number")
	assert.Equal(t, 42, getEnvInt("TEST_INT", 42))

	os.Unsetenv("TEST_INT")
}
