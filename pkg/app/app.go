// Package app builds the backends shared by the cpdispatch services from
// their environment configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	config "cpdispatch/configs"
	"cpdispatch/pkg/logger"
	"cpdispatch/pkg/notify"
	tracing "cpdispatch/pkg/observability"
	"cpdispatch/pkg/resilience"
	"cpdispatch/pkg/storage"
	"cpdispatch/pkg/storage/postgres"
	"cpdispatch/pkg/storage/redis"
	"cpdispatch/pkg/storage/sqlite"
)

// Logger initializes the global service logger.
func Logger(cfg *config.Config, service string) (*zap.Logger, error) {
	lc := logger.DefaultConfig(service)
	lc.Level = cfg.LogLevel
	lc.Encoding = cfg.LogEncoding
	return logger.Init(lc)
}

// Tracing installs the OTLP exporter when OTEL_ENABLED is set.
func Tracing(ctx context.Context, cfg *config.Config, service string) (*tracing.Provider, error) {
	tc := tracing.DefaultConfig(service)
	tc.Enabled = cfg.OTelEnabled
	tc.Endpoint = cfg.OTelEndpoint
	return tracing.Init(ctx, tc)
}

func noClose() error { return nil }

// OpenRunStore selects the run history backend named by RUN_STORE.
func OpenRunStore(cfg *config.Config) (storage.RunStore, func() error, error) {
	switch cfg.RunStore {
	case "postgres":
		s, err := postgres.NewPostgresStore(cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "", "none":
		return storage.NopRunStore{}, noClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown run store %q", cfg.RunStore)
	}
}

// OpenQueue connects to the Redis batch stream.
func OpenQueue(cfg *config.Config) (*redis.RedisQueue, error) {
	qc := redis.DefaultRedisQueueConfig(cfg.RedisAddr())
	qc.Password = cfg.RedisPassword
	return redis.NewRedisQueueWithConfig(qc)
}

// OpenLogStore returns the S3 archive behind a circuit breaker, or nil when
// S3_BUCKET is unset.
func OpenLogStore(cfg *config.Config) (storage.LogStore, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	s, err := storage.NewS3LogStore(storage.S3LogStoreConfig{
		Bucket:          cfg.S3Bucket,
		Prefix:          cfg.S3Prefix,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewGuardedLogStore(s, resilience.NewCircuitBreaker("s3-archive", resilience.DefaultCircuitBreakerConfig())), nil
}

// OpenNotifier returns a NATS publisher, or a no-op when NATS_URL is unset.
func OpenNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.NATSURL == "" {
		return notify.Noop{}, nil
	}
	n, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, err
	}
	return n, nil
}
