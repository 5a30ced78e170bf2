package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Equal(t, "@every 1m", cfg.IdleSweepSchedule)
	assert.Equal(t, 5.0, cfg.WSMessageRate)
	assert.Equal(t, 10, cfg.WSMessageBurst)
	assert.Equal(t, "pt-BR", cfg.Locale)
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("IDLE_TIMEOUT", "30m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_ADMIN_CHAT_ID", "-100123")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, int64(-100123), cfg.TelegramAdminChatID)
	assert.True(t, cfg.TelegramEnabled())
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := &Config{JWTSecret: "s", StoreDriver: "mongo", WSMessageRate: 1, WSMessageBurst: 1}
	assert.Error(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	dev, err := NewLogger("development")
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zap.DebugLevel))

	prod, err := NewLogger("production")
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zap.DebugLevel))
	assert.Same(t, prod, zap.L())
}
