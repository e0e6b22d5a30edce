package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	commoncfg "github.com/stemlab-dev/idonat/common/config"
)

// SufficiencyPolicy 决定哪些匹配记录计入“已满足数量”
type SufficiencyPolicy string

const (
	// SufficiencyPositive 献血者同意（response=positive）即计入
	SufficiencyPositive SufficiencyPolicy = "positive"
	// SufficiencyDonated 只有实际完成献血（donated=true）才计入
	SufficiencyDonated SufficiencyPolicy = "donated"
)

// Config 匹配服务配置
type Config struct {
	Database commoncfg.DatabaseConfig
	Redis    commoncfg.RedisConfig
	MQTT     commoncfg.MQTTConfig
	SMS      commoncfg.SMSConfig

	HTTP struct {
		Addr string
	}

	Matching struct {
		Interval      time.Duration     // 匹配周期，默认 30 分钟
		NotifyTimeout time.Duration     // 单个献血者通知超时
		Sufficiency   SufficiencyPolicy // positive | donated
	}

	Shortage struct {
		Interval time.Duration // 短缺巡检周期，默认 6 小时
	}

	Schedule struct {
		BaseURL string // 医院排程系统地址，空表示不接入
	}

	Lock struct {
		KeyPrefix string
		TTL       time.Duration
	}

	Alerts struct {
		Stream    string
		LatestKey string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 默认值，环境变量覆盖
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "idonat",
		SSLMode:  "disable",
	}
	cfg.Database.LoadFromEnv("DB")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)

	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = commoncfg.MQTTConfig{
		Broker:      "tcp://localhost:1883",
		ClientID:    "idonat-matcher",
		TopicPrefix: "idonat/hospitals",
		QoS:         1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.SMS = commoncfg.SMSConfig{BaseURL: "https://api.africastalking.com"}
	cfg.SMS.LoadFromEnv("SMS")
	if cfg.SMS.Enabled && (cfg.SMS.Username == "" || cfg.SMS.APIKey == "") {
		return nil, fmt.Errorf("SMS_USERNAME and SMS_API_KEY are required when SMS_ENABLED=true")
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	var err error
	if cfg.Matching.Interval, err = parseDuration("MATCH_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Matching.NotifyTimeout, err = parseDuration("MATCH_NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	cfg.Matching.Sufficiency = SufficiencyPolicy(getEnv("MATCH_SUFFICIENCY", string(SufficiencyPositive)))
	if cfg.Matching.Sufficiency != SufficiencyPositive && cfg.Matching.Sufficiency != SufficiencyDonated {
		return nil, fmt.Errorf("invalid MATCH_SUFFICIENCY %q: want positive or donated", cfg.Matching.Sufficiency)
	}

	if cfg.Shortage.Interval, err = parseDuration("SHORTAGE_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}

	cfg.Schedule.BaseURL = getEnv("SCHEDULE_BASE_URL", "")

	cfg.Lock.KeyPrefix = getEnv("LOCK_KEY_PREFIX", "idonat:lock:")
	if cfg.Lock.TTL, err = parseDuration("LOCK_TTL", 25*time.Minute); err != nil {
		return nil, err
	}

	cfg.Alerts.Stream = getEnv("ALERT_STREAM", "idonat:shortage:alerts")
	cfg.Alerts.LatestKey = getEnv("ALERT_LATEST_KEY", "idonat:shortage:latest")

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

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
