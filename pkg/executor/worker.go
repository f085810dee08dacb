package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"cpdispatch/pkg/storage"
)

// Worker pulls batches off the queue and processes them one at a time.
// Parallelism lives inside a batch, so a worker never runs two batches at once.
type Worker struct {
	ID       string
	Hostname string

	queue     storage.BatchQueue
	processor *Processor
	group     string
	logger    *zap.Logger
	idle      time.Duration
}

func NewWorker(queue storage.BatchQueue, processor *Processor, group string, logger *zap.Logger) *Worker {
	hostname, _ := os.Hostname()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		ID:        fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		Hostname:  hostname,
		queue:     queue,
		processor: processor,
		group:     group,
		logger:    logger,
		idle:      time.Second,
	}
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return v.Total / 1024 / 1024
}

// Start consumes until ctx is cancelled. A batch already in progress runs to
// completion before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("executor starting",
		zap.String("id", w.ID),
		zap.Int("cpus", w.processor.dispatcher.cpuCount()),
		zap.Uint64("memory_mb", detectTotalMemory()),
	)

	if err := w.queue.EnsureGroup(ctx, w.group); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	w.logger.Info("waiting for batches", zap.String("group", w.group))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			w.consumeOne(ctx)
		}
	}
}

func (w *Worker) consumeOne(ctx context.Context) {
	msgID, req, err := w.queue.Pop(ctx, w.group, w.ID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("failed to pop batch", zap.Error(err))
		// A malformed payload still has an id; ack it so it is not redelivered forever.
		if msgID != "" {
			w.ack(msgID)
		}
		w.sleep(ctx)
		return
	}
	if req == nil {
		w.sleep(ctx)
		return
	}

	w.logger.Info("received batch",
		zap.String("run_id", req.RunID.String()),
		zap.String("run_name", req.RunName),
		zap.Int("jobs", len(req.Jobs)),
	)

	// Jobs are never interrupted, so processing ignores shutdown.
	summary, err := w.processor.Process(context.WithoutCancel(ctx), *req)
	if err != nil {
		w.logger.Warn("batch did not complete", zap.String("run_id", req.RunID.String()), zap.Error(err))
	} else {
		w.logger.Info("batch completed",
			zap.String("run_id", summary.RunID.String()),
			zap.Int("failed", len(summary.Failed)),
		)
	}
	w.ack(msgID)
}

func (w *Worker) ack(msgID string) {
	if err := w.queue.Ack(context.Background(), w.group, msgID); err != nil {
		w.logger.Error("failed to ack batch", zap.String("msg_id", msgID), zap.Error(err))
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.idle):
	}
}
