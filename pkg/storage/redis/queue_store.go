package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cpdispatch/pkg/models"
	"cpdispatch/pkg/storage"

	"github.com/redis/go-redis/v9"
)

const (
	StreamKeyPending = "cpdispatch:batches:pending"
)

type RedisQueue struct {
	client *redis.Client
	block  time.Duration
}

// RedisQueueConfig holds Redis connection configuration
type RedisQueueConfig struct {
	Addr         string
	Password     string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	// Block is how long Pop waits for a message.
	Block time.Duration
}

// DefaultRedisQueueConfig returns defaults sized for a handful of executors.
func DefaultRedisQueueConfig(addr string) RedisQueueConfig {
	return RedisQueueConfig{
		Addr:         addr,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		Block:        2 * time.Second,
	}
}

// NewRedisQueue initializes a new Redis client with default config.
func NewRedisQueue(addr string) (*RedisQueue, error) {
	return NewRedisQueueWithConfig(DefaultRedisQueueConfig(addr))
}

// NewRedisQueueWithConfig initializes a new Redis client with custom config.
func NewRedisQueueWithConfig(cfg RedisQueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	block := cfg.Block
	if block <= 0 {
		block = 2 * time.Second
	}
	return &RedisQueue{client: client, block: block}, nil
}

func (r *RedisQueue) Close() error {
	return r.client.Close()
}

// Push adds a batch request to the pending stream.
func (r *RedisQueue) Push(ctx context.Context, req *models.BatchRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	// XADD cpdispatch:batches:pending * payload {json}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKeyPending,
		Values: map[string]interface{}{
			"payload":  payload,
			"run_id":   req.RunID.String(),
			"run_name": req.RunName,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push to queue: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (r *RedisQueue) EnsureGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, StreamKeyPending, group, "0").Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Pop retrieves one batch for a consumer group, blocking briefly.
func (r *RedisQueue) Pop(ctx context.Context, group string, consumer string) (string, *models.BatchRequest, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{StreamKeyPending, ">"},
		Count:    1,
		Block:    r.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return "", nil, nil
	}

	msg := streams[0].Messages[0]
	payloadStr, ok := msg.Values["payload"].(string)
	if !ok {
		return msg.ID, nil, fmt.Errorf("invalid payload format")
	}

	var req models.BatchRequest
	if err := json.Unmarshal([]byte(payloadStr), &req); err != nil {
		return msg.ID, nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	return msg.ID, &req, nil
}

// Ack acknowledges a batch as processed.
func (r *RedisQueue) Ack(ctx context.Context, group string, msgID string) error {
	return r.client.XAck(ctx, StreamKeyPending, group, msgID).Err()
}

var _ storage.BatchQueue = (*RedisQueue)(nil)
