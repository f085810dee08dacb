package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	config "cpdispatch/configs"
	"cpdispatch/pkg/app"
	"cpdispatch/pkg/executor"
	"cpdispatch/pkg/executor/runner"
	"cpdispatch/pkg/validator"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadConfig()

	logger, err := app.Logger(cfg, "executor")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := app.Tracing(ctx, cfg, "cpdispatch-executor")
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	runs, closeRuns, err := app.OpenRunStore(cfg)
	if err != nil {
		logger.Fatal("failed to open run store", zap.String("backend", cfg.RunStore), zap.Error(err))
	}
	defer closeRuns()

	logs, err := app.OpenLogStore(cfg)
	if err != nil {
		logger.Fatal("failed to open log archive", zap.Error(err))
	}

	notifier, err := app.OpenNotifier(cfg)
	if err != nil {
		logger.Fatal("failed to connect to nats", zap.Error(err))
	}
	defer notifier.Close()

	queue, err := app.OpenQueue(cfg)
	if err != nil {
		logger.Fatal("failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()

	processor := executor.NewProcessor(executor.ProcessorConfig{
		LogDir:    cfg.LogDir,
		Validator: validator.New(validator.WithLogger(logger)),
		Dispatcher: executor.NewDispatcher(runner.NewShellRunner(),
			executor.WithMaxWorkers(cfg.MaxWorkers),
			executor.WithDispatcherLogger(logger),
		),
		RunStore: runs,
		LogStore: logs,
		Notifier: notifier,
		Report:   os.Stdout,
		Logger:   logger,
	})

	worker := executor.NewWorker(queue, processor, cfg.ExecutorGroup, logger)
	if err := worker.Start(ctx); err != nil {
		logger.Fatal("executor stopped", zap.Error(err))
	}
	logger.Info("executor shutdown complete")
}
