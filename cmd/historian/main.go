// cmd/historian/main.go is an asynchronous historian service that pops match
// results from a Redis queue and persists them to a PostgreSQL database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/multibomb/arena/internal/cache"
	"github.com/multibomb/arena/internal/config"
	"github.com/multibomb/arena/internal/database"
	"github.com/multibomb/arena/internal/historian"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	cfg := config.Load(logger)
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RedisAddr == "" || cfg.DatabaseURL == "" {
		logger.Fatal("historian needs REDIS_ADDR and DATABASE_URL")
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, 0)
	if err != nil {
		logger.WithError(err).Fatal("redis unavailable")
	}
	defer rdb.Close()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("database unavailable")
	}
	defer pool.Close()

	store := database.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("schema setup failed")
	}

	svc := historian.NewService(cache.NewMatchQueue(rdb, cfg.QueueName), store, historian.Options{
		BatchSize:  cfg.HistorianBatchSize,
		FlushDelay: cfg.HistorianFlushDelay,
		Logger:     logger,
	})
	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Error("historian stopped")
	}
}
