package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"supportchat/backend/internal/api/handler"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/metrics"
	"supportchat/backend/internal/rooms"
	"supportchat/backend/internal/storage"
	"supportchat/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type dependencies struct {
	store    storage.Storage
	presence storage.Presence
	rdb      *redis.Client
}

func setupDependencies(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
	}

	if cfg.StoreDriver == config.StoreDriverMemory {
		zap.S().Warn("using the in-memory store, transcripts are lost on restart")
		mem := storage.NewMemoryStore()
		deps := &dependencies{store: mem, presence: mem, rdb: rdb}
		if rdb != nil {
			deps.presence = storage.NewStorageService(nil, rdb)
		}
		return deps, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	s := storage.NewStorageService(db, rdb)
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	zap.S().Infow("database ready", "redis", rdb != nil)
	return &dependencies{store: s, presence: s, rdb: rdb}, nil
}

func newBus(ctx context.Context, rdb *redis.Client) (chathub.EventBus, error) {
	if rdb == nil {
		return chathub.NewLocalBus(1024), nil
	}
	return chathub.NewRedisBus(ctx, rdb, chathub.DefaultEventChannel)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := setupDependencies(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect storage", zap.Error(err))
	}

	// Subscribe before recovering so changes other instances make meanwhile
	// are not missed.
	bus, err := newBus(ctx, deps.rdb)
	if err != nil {
		logger.Fatal("failed to subscribe to the event bus", zap.Error(err))
	}
	defer bus.Close()

	registry := rooms.NewRegistry(deps.store, rooms.WithPersistTimeout(cfg.PersistTimeout))
	recovered, err := registry.Recover(ctx)
	if err != nil {
		logger.Fatal("failed to recover open rooms", zap.Error(err))
	}
	logger.Info("open rooms recovered", zap.Int("count", recovered))

	m := metrics.New(registry.Counts)

	hub := chathub.NewManagerService(bus, deps.presence, m)
	listing := chathub.NewPresenceService(registry, deps.store, deps.presence)
	opts := []chathub.ControllerOption{chathub.WithMetrics(m)}

	if cfg.TelegramEnabled() {
		notifier, err := startTelegram(ctx, cfg, listing)
		if err != nil {
			logger.Error("telegram notifications disabled", zap.Error(err))
		} else {
			opts = append(opts, chathub.WithNotifier(notifier))
		}
	}

	ctrl := chathub.NewController(hub, registry, listing, opts...)
	go hub.Run(ctx)

	if cfg.IdleTimeout > 0 {
		sweeper := chathub.NewIdleSweeper(ctrl, cfg.IdleTimeout)
		if err := sweeper.Start(cfg.IdleSweepSchedule); err != nil {
			logger.Fatal("invalid IDLE_SWEEP_SCHEDULE", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	h := handler.NewHandler(ctrl, registry, listing, auth.NewJWTAuthenticator(cfg.JWTSecret))
	h.Metrics = m
	h.MessageRate = rate.Limit(cfg.WSMessageRate)
	h.MessageBurst = cfg.WSMessageBurst
	h.Routes(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func startTelegram(ctx context.Context, cfg *config.Config, listing *chathub.PresenceService) (*telegram.Notifier, error) {
	loc, err := localization.New()
	if err != nil {
		return nil, err
	}
	bot, err := telegram.Connect(cfg.TelegramBotToken)
	if err != nil {
		return nil, err
	}
	notifier := telegram.NewNotifier(bot, cfg.TelegramAdminChatID, loc, cfg.Locale)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)
	go func() {
		telegram.NewCommands(notifier, listing).Run(ctx, updates)
		bot.StopReceivingUpdates()
	}()

	zap.S().Infow("telegram notifications enabled", "chat_id", cfg.TelegramAdminChatID)
	return notifier, nil
}
