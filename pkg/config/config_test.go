package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "data.db", cfg.Database.SQLitePath)
	assert.Equal(t, SyncModeDatabase, cfg.Sync.Mode)
	assert.Equal(t, 1, cfg.Sync.Workers)
	assert.True(t, cfg.Webhook.NotifyOnNew)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Empty(t, cfg.CORS.AllowedOrigins)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("DB_DRIVER", "POSTGRES")
	v.Set("SYNC_WORKERS", 0)
	v.Set("WEBHOOK_TIMEOUT", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	v.Set("NOTIFY_ON_NEW", false)

	cfg := fromViper(v)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 1, cfg.Sync.Workers)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.Webhook.NotifyOnNew)
}
