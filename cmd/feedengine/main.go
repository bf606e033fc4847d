package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/config"
	"github.com/d60-Lab/socialfeed/internal/notify"
	"github.com/d60-Lab/socialfeed/internal/service"
	"github.com/d60-Lab/socialfeed/pkg/database"
	"github.com/d60-Lab/socialfeed/pkg/errtrack"
	"github.com/d60-Lab/socialfeed/pkg/logger"
	"github.com/d60-Lab/socialfeed/pkg/tracing"
)

// feedengine 运行后台任务：outbox 扇出、告警外发与未激活账号清理
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := errtrack.Init(cfg.Sentry); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer errtrack.Flush(2 * time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Fatal("init database", zap.Error(err))
	}
	rdb, err := database.InitRedis(ctx, cfg)
	if err != nil {
		logger.Fatal("init redis", zap.Error(err))
	}
	defer rdb.Close()

	notifier := notify.New(cfg.Dispatch.KafkaBrokers, cfg.Dispatch.KafkaTopic)
	defer notifier.Close()

	engine := service.NewEngine(cfg, db, rdb, notifier, nil)
	stop := engine.Start()
	go engine.PurgeLoop(ctx)

	logger.Info("feed engine started",
		zap.String("db", cfg.Database.Driver),
		zap.String("redis", cfg.Redis.Addr),
		zap.Int("fanout_workers", cfg.Feed.Workers),
		zap.Int("dispatch_workers", cfg.Dispatch.Workers))

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := stop(stopCtx); err != nil {
		logger.Error("stop workers", zap.Error(err))
	}
	if err := shutdownTracing(stopCtx); err != nil {
		logger.Error("shutdown tracing", zap.Error(err))
	}
}
