package main

import (
	"context"
	"errors"
	"os"
	"time"

	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openStore(cfg *config.Config) (storage.Storage, error) {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return nil, errors.New("the admin CLI reads transcripts from postgres, set STORE_DRIVER=postgres")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return storage.NewStorageService(db, nil), nil // No redis needed for admin CLI
}

// openBus publishes on the servers' event channel when they share redis.
func openBus(cfg *config.Config) (chathub.Publisher, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return chathub.NewRedisPublisher(rdb, chathub.DefaultEventChannel), nil
}

func main() {
	root := newRootCmd(os.Stdout, config.Load, openStore, openBus)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
