package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	config "cpdispatch/configs"
	"cpdispatch/pkg/api"
	"cpdispatch/pkg/app"
	"cpdispatch/pkg/coordination"
	"cpdispatch/pkg/coordination/etcd"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadConfig()

	logger, err := app.Logger(cfg, "api")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := app.Tracing(ctx, cfg, "cpdispatch-api")
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	runs, closeRuns, err := app.OpenRunStore(cfg)
	if err != nil {
		logger.Fatal("failed to open run store", zap.String("backend", cfg.RunStore), zap.Error(err))
	}
	defer closeRuns()

	logs, err := app.OpenLogStore(cfg)
	if err != nil {
		logger.Fatal("failed to open log archive", zap.Error(err))
	}

	queue, err := app.OpenQueue(cfg)
	if err != nil {
		logger.Fatal("failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()

	// The leader endpoint is optional; the API serves runs without etcd.
	var coord coordination.Coordinator
	if etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL); err != nil {
		logger.Warn("etcd unavailable, leader endpoint disabled", zap.Error(err))
	} else {
		defer etcdCoord.Close()
		coord = etcdCoord
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(api.Config{
		Port:        cfg.APIPort,
		RunStore:    runs,
		Queue:       queue,
		LogStore:    logs,
		Coordinator: coord,
		Logger:      logger,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	_ = tp.Shutdown(shutdownCtx)
	logger.Info("api shutdown complete")
}
