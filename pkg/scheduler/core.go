package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cpdispatch/pkg/coordination"
	"cpdispatch/pkg/manifest"
	"cpdispatch/pkg/metrics"
	"cpdispatch/pkg/models"
	"cpdispatch/pkg/storage"
)

// ErrNotLeader is returned when a tick fires on an instance that no longer
// holds leadership.
var ErrNotLeader = errors.New("scheduler is not the leader")

// ElectionName is the campaign schedulers compete in.
const ElectionName = "cpdispatch-scheduler"

// Core enqueues scheduled manifest runs. Only the elected leader enqueues.
type Core struct {
	queue     storage.BatchQueue
	runs      storage.RunStore
	manifests []*manifest.Manifest
	cron      *cron.Cron
	logger    *zap.Logger

	mu       sync.Mutex
	election coordination.Election
	identity string
}

func NewCore(queue storage.BatchQueue, runs storage.RunStore, manifests []*manifest.Manifest, logger *zap.Logger) *Core {
	if runs == nil {
		runs = storage.NopRunStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Core{
		queue:     queue,
		runs:      runs,
		manifests: manifests,
		cron:      cron.New(),
		logger:    logger,
	}
}

// LoadManifests reads each path and keeps the manifests that carry a schedule.
func LoadManifests(paths []string, logger *zap.Logger) ([]*manifest.Manifest, error) {
	var out []*manifest.Manifest
	for _, p := range paths {
		m, err := manifest.Load(p)
		if err != nil {
			return nil, err
		}
		if m.Schedule == "" {
			logger.Warn("manifest has no schedule, skipping", zap.String("path", p))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Register adds one cron entry per manifest. Entries fire only after Start.
func (c *Core) Register(ctx context.Context) error {
	for _, m := range c.manifests {
		m := m
		sched, err := manifest.ParseSchedule(m.Schedule)
		if err != nil {
			return fmt.Errorf("manifest %q: %w", m.RunName, err)
		}
		c.cron.Schedule(sched, cron.FuncJob(func() {
			if _, err := c.Enqueue(ctx, m); err != nil {
				c.logger.Error("scheduled enqueue failed", zap.String("run_name", m.RunName), zap.Error(err))
			}
		}))
		c.logger.Info("registered schedule", zap.String("run_name", m.RunName), zap.String("schedule", m.Schedule))
	}
	return nil
}

// Entries reports how many schedules are registered.
func (c *Core) Entries() int { return len(c.cron.Entries()) }

// Enqueue records a PENDING run for the manifest and pushes it to the queue.
func (c *Core) Enqueue(ctx context.Context, m *manifest.Manifest) (*models.BatchRequest, error) {
	if err := c.checkLeader(ctx); err != nil {
		return nil, err
	}

	req := m.Request()
	names := make([]string, 0, len(req.Jobs))
	for _, j := range req.Jobs {
		names = append(names, j.Name)
	}
	run := &models.Run{ID: req.RunID, Name: req.RunName, Status: models.RunPending, JobCount: len(req.Jobs)}
	if err := c.runs.CreateRun(ctx, run, names); err != nil {
		c.logger.Warn("failed to record scheduled run", zap.String("run_id", req.RunID.String()), zap.Error(err))
	}

	if err := c.queue.Push(ctx, &req); err != nil {
		return nil, fmt.Errorf("failed to push batch: %w", err)
	}
	metrics.BatchesEnqueued.WithLabelValues("scheduler").Inc()
	c.logger.Info("enqueued scheduled run", zap.String("run_id", req.RunID.String()), zap.String("run_name", req.RunName))
	return &req, nil
}

func (c *Core) checkLeader(ctx context.Context) error {
	c.mu.Lock()
	election, identity := c.election, c.identity
	c.mu.Unlock()
	if election == nil {
		return nil
	}
	leader, err := election.Leader(ctx)
	if err != nil {
		return fmt.Errorf("failed to check leadership: %w", err)
	}
	if leader != identity {
		return ErrNotLeader
	}
	return nil
}

// Run campaigns for leadership, then fires schedules until ctx is cancelled
// or leadership is lost with the coordinator session.
func (c *Core) Run(ctx context.Context, coord coordination.Coordinator, election coordination.Election, identity string) error {
	c.mu.Lock()
	c.election, c.identity = election, identity
	c.mu.Unlock()

	c.logger.Info("requesting leadership", zap.String("identity", identity))
	if err := election.Campaign(ctx, identity); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("election campaign failed: %w", err)
	}
	c.logger.Info("acquired leadership", zap.Int("schedules", c.Entries()))

	c.cron.Start()
	defer func() { <-c.cron.Stop().Done() }()

	select {
	case <-ctx.Done():
		return nil
	case <-coord.Done():
		return errors.New("coordinator session lost")
	}
}
