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

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "idonat", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "", cfg.Redis.Password)

	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "idonat/hospitals", cfg.MQTT.TopicPrefix)
	assert.False(t, cfg.SMS.Enabled)
	assert.Equal(t, "https://api.africastalking.com", cfg.SMS.BaseURL)

	assert.Equal(t, 30*time.Minute, cfg.Matching.Interval)
	assert.Equal(t, 10*time.Second, cfg.Matching.NotifyTimeout)
	assert.Equal(t, SufficiencyPositive, cfg.Matching.Sufficiency)
	assert.Equal(t, 6*time.Hour, cfg.Shortage.Interval)
	assert.Equal(t, 25*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, "idonat:shortage:alerts", cfg.Alerts.Stream)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "6543")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("MATCH_INTERVAL", "5m")
	os.Setenv("MATCH_SUFFICIENCY", "donated")
	os.Setenv("SHORTAGE_INTERVAL", "1h")
	os.Setenv("SMS_ENABLED", "true")
	os.Setenv("SMS_USERNAME", "sandbox")
	os.Setenv("SMS_API_KEY", "key")
	os.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Matching.Interval)
	assert.Equal(t, SufficiencyDonated, cfg.Matching.Sufficiency)
	assert.Equal(t, time.Hour, cfg.Shortage.Interval)
	assert.True(t, cfg.SMS.Enabled)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_InvalidValues(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("MATCH_INTERVAL", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCH_INTERVAL")

	os.Clearenv()
	os.Setenv("MATCH_SUFFICIENCY", "maybe")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCH_SUFFICIENCY")

	os.Clearenv()
	os.Setenv("SMS_ENABLED", "true")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMS_API_KEY")
}

func TestGetEnv(t *testing.T) {
	os.Clearenv()
	assert.Equal(t, "default-value", getEnv("TEST_KEY", "default-value"))

	os.Setenv("TEST_KEY", "env-value")
	assert.Equal(t, "env-value", getEnv("TEST_KEY", "default-value"))

	os.Unsetenv("TEST_KEY")
}
