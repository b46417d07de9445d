package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/config"
	"toker/token-portal/token-portal-backend/internal/reconcile"
	"toker/token-portal/token-portal-backend/pkg/chain"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chainClient, err := chain.NewGethClient(ctx, cfg.Chain)
	if err != nil {
		logger.Fatal("failed to connect to chain node", zap.Error(err))
	}
	defer chainClient.Close()

	job := reconcile.NewJob(db, chainClient, logger, cfg.Reconciler.BatchSize)

	c := cron.New()
	if _, err := c.AddFunc(cfg.Reconciler.Schedule, func() { job.Run(ctx) }); err != nil {
		logger.Fatal("invalid reconciler schedule",
			zap.String("schedule", cfg.Reconciler.Schedule), zap.Error(err))
	}

	logger.Info("reconciler running", zap.String("schedule", cfg.Reconciler.Schedule))

	// Run one pass immediately so a restart doesn't wait a full period.
	job.Run(ctx)
	c.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("reconciler shutting down")
	cancel()
	<-c.Stop().Done()
}
