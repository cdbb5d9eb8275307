package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BBrian11/reportes-sub000/common/config"
)

// Config 巡检轮次引擎配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 轮次引擎特定配置
	Rounds struct {
		SlotCount     int           // 班次切分的时段数，默认 64
		ShiftDuration time.Duration // 班次时长，默认 12 小时
		MinCameras    int           // 完成轮次所需的最少已确认摄像头数，默认 0
		MaxTandas     int           // 单轮次最大客户组数，默认 20
		PlanSubjects  int           // 自动规划时抽取的客户数，默认 2
		PauseAware    bool          // 时段提醒是否随暂停顺延，默认 false（跟随墙钟）
		AutosaveEvery time.Duration // 轮次快照自动保存间隔，默认 30 秒
	}

	// Redis 缓存/流配置
	Cache struct {
		IndexKeyPrefix string // 历史状态索引键前缀，如 "rondin:index:"
		IndexStream    string // 索引更新事件流
		NotationStream string // 人工记录事件流
		RoundStream    string // 轮次完成事件流
		SlotStream     string // 时段到期通知流
		ConsumerGroup  string // 消费者组名称
	}

	// MQTT 通知配置
	Notify struct {
		Enabled     bool   // 是否启用 MQTT 通知
		TopicPrefix string // 通知主题前缀，如 "rondin"
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
	cfg.Database.Database = getEnv("DB_NAME", "reportes")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "rondin-engine")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	// 轮次引擎配置
	cfg.Rounds.SlotCount = getEnvInt("ROUNDS_SLOT_COUNT", 64)
	cfg.Rounds.ShiftDuration = time.Duration(getEnvInt("ROUNDS_SHIFT_HOURS", 12)) * time.Hour
	cfg.Rounds.MinCameras = getEnvInt("ROUNDS_MIN_CAMERAS", 0)
	cfg.Rounds.MaxTandas = getEnvInt("ROUNDS_MAX_TANDAS", 20)
	cfg.Rounds.PlanSubjects = getEnvInt("ROUNDS_PLAN_SUBJECTS", 2)
	cfg.Rounds.PauseAware = getEnvBool("ROUNDS_PAUSE_AWARE_SLOTS", false)
	cfg.Rounds.AutosaveEvery = time.Duration(getEnvInt("ROUNDS_AUTOSAVE_SECONDS", 30)) * time.Second

	cfg.Cache.IndexKeyPrefix = getEnv("CACHE_INDEX_PREFIX", "rondin:index:")
	cfg.Cache.IndexStream = getEnv("STREAM_INDEX", "rondin:events:index")
	cfg.Cache.NotationStream = getEnv("STREAM_NOTATIONS", "rondin:events:notations")
	cfg.Cache.RoundStream = getEnv("STREAM_ROUNDS", "rondin:events:rounds")
	cfg.Cache.SlotStream = getEnv("STREAM_SLOTS", "rondin:events:slots")
	cfg.Cache.ConsumerGroup = getEnv("STREAM_CONSUMER_GROUP", "rondin-resolver")

	cfg.Notify.Enabled = cfg.MQTT.Broker != ""
	cfg.Notify.TopicPrefix = getEnv("NOTIFY_TOPIC_PREFIX", "rondin")

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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
