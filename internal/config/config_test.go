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
	assert.Equal(t, "reportes", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, 64, cfg.Rounds.SlotCount)
	assert.Equal(t, 12*time.Hour, cfg.Rounds.ShiftDuration)
	assert.Equal(t, 0, cfg.Rounds.MinCameras)
	assert.Equal(t, 20, cfg.Rounds.MaxTandas)
	assert.Equal(t, 2, cfg.Rounds.PlanSubjects)
	assert.False(t, cfg.Rounds.PauseAware)
	assert.Equal(t, 30*time.Second, cfg.Rounds.AutosaveEvery)

	assert.Equal(t, "rondin:index:", cfg.Cache.IndexKeyPrefix)
	assert.Equal(t, "rondin:events:index", cfg.Cache.IndexStream)
	assert.Equal(t, "rondin:events:notations", cfg.Cache.NotationStream)
	assert.Equal(t, "rondin:events:rounds", cfg.Cache.RoundStream)
	assert.Equal(t, "rondin:events:slots", cfg.Cache.SlotStream)
	assert.Equal(t, "rondin-resolver", cfg.Cache.ConsumerGroup)

	// MQTT 未配置时不启用通知
	assert.False(t, cfg.Notify.Enabled)
	assert.Equal(t, "rondin", cfg.Notify.TopicPrefix)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("ROUNDS_SLOT_COUNT", "32")
	os.Setenv("ROUNDS_SHIFT_HOURS", "8")
	os.Setenv("ROUNDS_MIN_CAMERAS", "5")
	os.Setenv("ROUNDS_PAUSE_AWARE_SLOTS", "true")
	os.Setenv("MQTT_BROKER", "tcp://broker:1883")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-db", cfg.Database.Database)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)

	assert.Equal(t, 32, cfg.Rounds.SlotCount)
	assert.Equal(t, 8*time.Hour, cfg.Rounds.ShiftDuration)
	assert.Equal(t, 5, cfg.Rounds.MinCameras)
	assert.True(t, cfg.Rounds.PauseAware)

	// 配置了 broker 即启用通知
	assert.True(t, cfg.Notify.Enabled)

	assert.Equal(t, "debug", cfg.Log.Level)

	os.Clearenv()
}

func TestGetEnvInt_Invalid(t *testing.T) {
	os.Setenv("TEST_INT", "not-a-number")
	defer os.Unsetenv("TEST_INT")

	// 非法值回退到默认
	assert.Equal(t, 42, getEnvInt("TEST_INT", 42))
}
