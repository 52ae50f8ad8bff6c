package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("LOG_DEV", "")
	t.Setenv("APP_URL", "https://comunidade.example.com/")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "https://comunidade.example.com", cfg.AppURL)
	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Database.UseSSL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_SSL", "true")
	t.Setenv("MQ_BACKEND", "RabbitMQ")
	t.Setenv("HOTMART_WEBHOOK_SECRET", "  hottok  ")
	t.Setenv("LOG_DEV", "1")
	t.Setenv("LOG_LEVEL", "")

	cfg := LoadConfig()

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, "rabbitmq", cfg.MQ.Backend)
	assert.Equal(t, "hottok", cfg.Hotmart.WebhookSecret)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestGetEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SMTP_PORT", "not-a-number")
	assert.Equal(t, 25, getEnvInt("SMTP_PORT", 25))
}
