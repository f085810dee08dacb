package executor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cpdispatch/pkg/executor/runner"
	"cpdispatch/pkg/metrics"
	"cpdispatch/pkg/models"
	"cpdispatch/pkg/validator"
)

// LaunchError reports a job whose program could not be started.
// It is a hard failure of the whole dispatch.
type LaunchError struct {
	Job     string
	Program string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("job %q: failed to launch %q: %v", e.Job, e.Program, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// StateHook observes job state transitions. It may be called from several
// goroutines at once.
type StateHook func(job string, state models.JobState)

// Dispatcher runs every job of a batch as its own subprocess on a fixed-size pool.
type Dispatcher struct {
	runner     runner.JobRunner
	maxWorkers int
	cpuCount   func() int
	logger     *zap.Logger
	tracer     trace.Tracer
}

type DispatcherOption func(*Dispatcher)

// WithMaxWorkers caps the pool below the CPU count. Zero or less means no extra cap.
func WithMaxWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxWorkers = n }
}

// WithCPUCount overrides logical CPU detection.
func WithCPUCount(fn func() int) DispatcherOption {
	return func(d *Dispatcher) { d.cpuCount = fn }
}

func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(r runner.JobRunner, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		runner:   r,
		cpuCount: logicalCPUs,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("cpdispatch/executor"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func logicalCPUs() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// PoolSize returns min(jobs, logical CPUs), further capped by WithMaxWorkers.
func (d *Dispatcher) PoolSize(jobs int) int {
	w := jobs
	if cpus := d.cpuCount(); cpus < w {
		w = cpus
	}
	if d.maxWorkers > 0 && d.maxWorkers < w {
		w = d.maxWorkers
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Dispatch runs the batch and blocks until every job has terminated.
func (d *Dispatcher) Dispatch(ctx context.Context, batch *models.Batch) ([]models.Outcome, error) {
	return d.DispatchWithHook(ctx, batch, nil)
}

// DispatchWithHook is Dispatch with a state observer.
//
// Outcomes come back in batch insertion order. A non-zero exit is an outcome,
// not an error. If any job fails to launch, the remaining jobs still run to
// completion. The launched jobs' outcomes are returned together with the
// first LaunchError in batch order.
//
// Cancelling ctx does not stop running jobs. ctx only carries trace context.
func (d *Dispatcher) DispatchWithHook(ctx context.Context, batch *models.Batch, hook StateHook) ([]models.Outcome, error) {
	if batch == nil || batch.Len() == 0 {
		return nil, validator.ErrEmptyBatch
	}
	batch.Seal()
	jobs := batch.Jobs()

	workers := d.PoolSize(len(jobs))
	metrics.PoolSize.Set(float64(workers))

	ctx, span := d.tracer.Start(ctx, "dispatch.batch", trace.WithAttributes(
		attribute.Int("batch.size", len(jobs)),
		attribute.Int("batch.workers", workers),
	))
	defer span.End()

	d.logger.Info("dispatching batch", zap.Int("jobs", len(jobs)), zap.Int("workers", workers))

	runCtx := context.WithoutCancel(ctx)
	outcomes := make([]models.Outcome, len(jobs))
	launchErrs := make([]error, len(jobs))

	for _, job := range jobs {
		emitState(hook, job.Name, models.JobSubmitted)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			out, err := d.runJob(runCtx, job, hook)
			if err != nil {
				launchErrs[i] = err
				return nil
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	collected := make([]models.Outcome, 0, len(jobs))
	for i := range jobs {
		if launchErrs[i] != nil {
			if firstErr == nil {
				firstErr = launchErrs[i]
			}
			continue
		}
		collected = append(collected, outcomes[i])
	}

	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, "launch failure")
		return collected, firstErr
	}
	return collected, nil
}

func (d *Dispatcher) runJob(ctx context.Context, job models.JobDescriptor, hook StateHook) (models.Outcome, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.job", trace.WithAttributes(
		attribute.String("job.name", job.Name),
		attribute.String("job.program", job.Program),
	))
	defer span.End()

	emitState(hook, job.Name, models.JobRunning)
	metrics.JobsRunning.Inc()
	res := d.runner.Run(ctx, job.Program, job.Argv())
	metrics.JobsRunning.Dec()

	if res.LaunchErr != nil {
		metrics.LaunchFailures.Inc()
		span.RecordError(res.LaunchErr)
		span.SetStatus(codes.Error, "launch failure")
		d.logger.Error("job failed to launch", zap.String("job", job.Name), zap.String("program", job.Program), zap.Error(res.LaunchErr))
		emitState(hook, job.Name, models.JobTerminated)
		return models.Outcome{}, &LaunchError{Job: job.Name, Program: job.Program, Err: res.LaunchErr}
	}

	out := models.Outcome{
		JobName:    job.Name,
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		Pid:        res.Pid,
		StartedAt:  res.StartedAt,
		FinishedAt: res.StartedAt.Add(res.Duration),
		Duration:   res.Duration,
	}
	span.SetAttributes(attribute.Int("job.exit_code", res.ExitCode), attribute.Int("job.pid", res.Pid))
	emitState(hook, job.Name, models.JobTerminated)

	d.logger.Info("job terminated",
		zap.String("job", job.Name),
		zap.Int("exit_code", res.ExitCode),
		zap.Int("pid", res.Pid),
		zap.Duration("duration", res.Duration.Round(time.Millisecond)),
	)
	return out, nil
}

func emitState(hook StateHook, job string, state models.JobState) {
	if hook != nil {
		hook(job, state)
	}
}
