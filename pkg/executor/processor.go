package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cpdispatch/pkg/metrics"
	"cpdispatch/pkg/models"
	"cpdispatch/pkg/notify"
	"cpdispatch/pkg/runlog"
	"cpdispatch/pkg/storage"
	"cpdispatch/pkg/validator"
)

// ProcessorConfig wires a Processor. Only LogDir and Dispatcher are required.
type ProcessorConfig struct {
	LogDir     string
	Validator  *validator.Validator
	Dispatcher *Dispatcher
	RunStore   storage.RunStore
	LogStore   storage.LogStore // nil disables archiving
	Notifier   notify.Notifier
	Report     io.Writer // console report, defaults to stdout
	Logger     *zap.Logger
	LogOptions []runlog.WriterOption
}

// Processor takes one batch from submission to its final report.
type Processor struct {
	logDir     string
	validator  *validator.Validator
	dispatcher *Dispatcher
	runs       storage.RunStore
	logs       storage.LogStore
	notifier   notify.Notifier
	report     io.Writer
	logger     *zap.Logger
	logOpts    []runlog.WriterOption
	tracer     trace.Tracer
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		logDir:     cfg.LogDir,
		validator:  cfg.Validator,
		dispatcher: cfg.Dispatcher,
		runs:       cfg.RunStore,
		logs:       cfg.LogStore,
		notifier:   cfg.Notifier,
		report:     cfg.Report,
		logger:     cfg.Logger,
		logOpts:    cfg.LogOptions,
		tracer:     otel.Tracer("cpdispatch/executor"),
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.validator == nil {
		p.validator = validator.New(validator.WithLogger(p.logger))
	}
	if p.runs == nil {
		p.runs = storage.NopRunStore{}
	}
	if p.notifier == nil {
		p.notifier = notify.Noop{}
	}
	if p.report == nil {
		p.report = os.Stdout
	}
	return p
}

// Process validates, dispatches and logs one batch.
//
// The summary is always returned. The error is non-nil when the run ends
// REJECTED (precondition failure) or FAILED (launch or log failure). Jobs
// exiting non-zero do not make Process fail. A request without a run name is
// rejected before anything is recorded.
func (p *Processor) Process(ctx context.Context, req models.BatchRequest) (*models.RunSummary, error) {
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	if req.RunName == "" {
		err := fmt.Errorf("run name: %w", validator.ErrMissingField)
		return &models.RunSummary{
			RunID:  req.RunID,
			Status: models.RunRejected,
			Total:  len(req.Jobs),
			Error:  err.Error(),
		}, err
	}

	ctx, span := p.tracer.Start(ctx, "process.batch", trace.WithAttributes(
		attribute.String("run.id", req.RunID.String()),
		attribute.String("run.name", req.RunName),
	))
	defer span.End()

	log := p.logger.With(zap.String("run_id", req.RunID.String()), zap.String("run_name", req.RunName))
	summary := &models.RunSummary{RunID: req.RunID, RunName: req.RunName, Total: len(req.Jobs)}

	names := make([]string, 0, len(req.Jobs))
	for _, j := range req.Jobs {
		names = append(names, j.Name)
	}
	run := &models.Run{ID: req.RunID, Name: req.RunName, Status: models.RunPending, JobCount: len(req.Jobs)}
	if err := p.runs.CreateRun(ctx, run, names); err != nil && !errors.Is(err, storage.ErrConflict) {
		log.Warn("failed to record run", zap.Error(err))
	}

	batch, err := models.BatchFromJobs(req.Jobs)
	if err == nil {
		err = p.validator.Validate(batch)
	}
	if err != nil {
		log.Warn("batch rejected", zap.Error(err))
		return p.finish(ctx, span, summary, models.RunRejected, err)
	}

	if err := p.runs.SetRunStatus(ctx, req.RunID, models.RunRunning); err != nil {
		log.Warn("failed to mark run running", zap.Error(err))
	}

	hook := func(job string, state models.JobState) {
		if err := p.runs.UpdateJobState(ctx, req.RunID, job, state); err != nil {
			log.Warn("failed to record job state", zap.String("job", job), zap.String("state", string(state)), zap.Error(err))
		}
	}
	outcomes, dispatchErr := p.dispatcher.DispatchWithHook(ctx, batch, hook)

	writer, err := runlog.NewWriter(p.logDir, req.RunName, p.logOpts...)
	if err != nil {
		return p.finish(ctx, span, summary, models.RunFailed, err)
	}
	paths, logErr := writer.WriteAll(outcomes)
	summary.LogPaths = paths
	if logErr != nil {
		log.Error("failed to write run logs", zap.Error(logErr))
	}
	written := make(map[string]bool, len(paths))
	for _, path := range paths {
		written[path] = true
	}

	for _, o := range outcomes {
		metrics.RecordOutcome(req.RunName, o.Failed(), o.Duration.Seconds())
		uri := ""
		if path := writer.Path(o.JobName); written[path] {
			uri = p.archive(ctx, log, req.RunID, path)
		}
		if err := p.runs.RecordOutcome(ctx, req.RunID, o, uri); err != nil {
			log.Warn("failed to record outcome", zap.String("job", o.JobName), zap.Error(err))
		}
	}

	summary.Failed = runlog.Report(p.report, outcomes)
	if err := errors.Join(dispatchErr, logErr); err != nil {
		return p.finish(ctx, span, summary, models.RunFailed, err)
	}
	runlog.Summary(p.report, len(outcomes), len(summary.Failed), writer.Dir())

	log.Info("batch processed", zap.Int("jobs", len(outcomes)), zap.Int("failed", len(summary.Failed)))
	return p.finish(ctx, span, summary, models.RunCompleted, nil)
}

// archive copies a run log into the LogStore and returns its reference. The
// local path is the reference when archiving is off or fails.
func (p *Processor) archive(ctx context.Context, log *zap.Logger, runID uuid.UUID, path string) string {
	if p.logs == nil {
		return path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("failed to read run log for archiving", zap.String("path", path), zap.Error(err))
		return path
	}
	ref, err := p.logs.Store(ctx, storage.ArchiveKey(runID.String(), path), data)
	if err != nil {
		log.Warn("failed to archive run log", zap.String("path", path), zap.Error(err))
		return path
	}
	return ref
}

func (p *Processor) finish(ctx context.Context, span trace.Span, summary *models.RunSummary, status models.RunStatus, cause error) (*models.RunSummary, error) {
	summary.Status = status
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
		summary.Error = errMsg
		span.RecordError(cause)
		span.SetStatus(codes.Error, string(status))
	}
	span.SetAttributes(attribute.String("run.status", string(status)))

	if err := p.runs.CompleteRun(ctx, summary.RunID, status, len(summary.Failed), errMsg); err != nil {
		p.logger.Warn("failed to complete run", zap.String("run_id", summary.RunID.String()), zap.Error(err))
	}
	metrics.BatchesTotal.WithLabelValues(string(status)).Inc()

	if err := p.notifier.Notify(ctx, summary); err != nil {
		p.logger.Warn("failed to publish run summary", zap.String("run_id", summary.RunID.String()), zap.Error(err))
	}
	return summary, cause
}
