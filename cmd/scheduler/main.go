package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	config "cpdispatch/configs"
	"cpdispatch/pkg/app"
	"cpdispatch/pkg/coordination/etcd"
	"cpdispatch/pkg/scheduler"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadConfig()

	logger, err := app.Logger(cfg, "scheduler")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manifests, err := scheduler.LoadManifests(cfg.ScheduleManifests, logger)
	if err != nil {
		logger.Fatal("failed to load manifests", zap.Error(err))
	}
	if len(manifests) == 0 {
		logger.Warn("no scheduled manifests configured, set SCHEDULE_MANIFESTS")
	}

	runs, closeRuns, err := app.OpenRunStore(cfg)
	if err != nil {
		logger.Fatal("failed to open run store", zap.String("backend", cfg.RunStore), zap.Error(err))
	}
	defer closeRuns()

	queue, err := app.OpenQueue(cfg)
	if err != nil {
		logger.Fatal("failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		logger.Fatal("failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()

	core := scheduler.NewCore(queue, runs, manifests, logger)
	if err := core.Register(ctx); err != nil {
		logger.Fatal("invalid schedule", zap.Error(err))
	}

	identity, err := os.Hostname()
	if err != nil {
		identity = "scheduler"
	}
	identity += "-" + uuid.NewString()[:8]
	election := etcdCoord.NewElection(scheduler.ElectionName)

	runErr := core.Run(ctx, etcdCoord, election, identity)

	// Resign so a standby scheduler takes over without waiting for the lease.
	resignCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := election.Resign(resignCtx); err != nil {
		logger.Warn("failed to resign leadership", zap.Error(err))
	}

	if runErr != nil {
		logger.Fatal("scheduler stopped", zap.Error(runErr))
	}
	logger.Info("scheduler shutdown complete")
}
