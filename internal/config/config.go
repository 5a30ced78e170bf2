package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds the service settings, read from the environment (and .env).
type Config struct {
	Env      string
	HTTPAddr string

	StoreDriver    string
	DatabaseDSN    string
	PersistTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	IdleTimeout       time.Duration
	IdleSweepSchedule string

	WSMessageRate  float64
	WSMessageBurst int

	TelegramBotToken    string
	TelegramAdminChatID int64
	Locale              string
}

func defaults(v *viper.Viper) {
	v.SetDefault("ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("DATABASE_DSN", "host=localhost user=user password=password dbname=supportchat port=5432 sslmode=disable")
	v.SetDefault("PERSIST_TIMEOUT", "5s")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("IDLE_TIMEOUT", "0s")
	v.SetDefault("IDLE_SWEEP_SCHEDULE", "@every 1m")
	v.SetDefault("WS_MESSAGE_RATE", 5)
	v.SetDefault("WS_MESSAGE_BURST", 10)
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_ADMIN_CHAT_ID", 0)
	v.SetDefault("LOCALE", "pt-BR")
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		zap.S().Warnw("no .env file loaded", "error", err)
	}

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Env:                 v.GetString("ENV"),
		HTTPAddr:            v.GetString("HTTP_ADDR"),
		StoreDriver:         v.GetString("STORE_DRIVER"),
		DatabaseDSN:         v.GetString("DATABASE_DSN"),
		PersistTimeout:      v.GetDuration("PERSIST_TIMEOUT"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		IdleTimeout:         v.GetDuration("IDLE_TIMEOUT"),
		IdleSweepSchedule:   v.GetString("IDLE_SWEEP_SCHEDULE"),
		WSMessageRate:       v.GetFloat64("WS_MESSAGE_RATE"),
		WSMessageBurst:      v.GetInt("WS_MESSAGE_BURST"),
		TelegramBotToken:    v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramAdminChatID: v.GetInt64("TELEGRAM_ADMIN_CHAT_ID"),
		Locale:              v.GetString("LOCALE"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("DATABASE_DSN is required for the postgres store")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.IdleTimeout < 0 {
		return errors.New("IDLE_TIMEOUT must not be negative")
	}
	if c.WSMessageRate <= 0 || c.WSMessageBurst <= 0 {
		return errors.New("WS_MESSAGE_RATE and WS_MESSAGE_BURST must be positive")
	}
	return nil
}

// TelegramEnabled reports whether admin notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramAdminChatID != 0
}

// NewLogger builds the zap logger for env and installs it globally.
func NewLogger(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
