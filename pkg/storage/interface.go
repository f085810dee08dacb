package storage

import (
	"context"
	"errors"

	"cpdispatch/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// RunStore defines the data access layer for run history.
type RunStore interface {
	// CreateRun persists a run and one SUBMITTED row per job.
	// Returns ErrConflict if the run id is already taken.
	CreateRun(ctx context.Context, run *models.Run, jobNames []string) error

	// SetRunStatus moves a run to a new status. RUNNING stamps started_at.
	SetRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus) error

	// UpdateJobState records a job state transition.
	UpdateJobState(ctx context.Context, runID uuid.UUID, job string, state models.JobState) error

	// RecordOutcome stores a terminated job's result and marks it LOGGED.
	RecordOutcome(ctx context.Context, runID uuid.UUID, outcome models.Outcome, logURI string) error

	// CompleteRun marks a run finished with its final status.
	CompleteRun(ctx context.Context, id uuid.UUID, status models.RunStatus, failedCount int, errMsg string) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)

	// ListRunJobs returns the per-job rows of a run ordered by job name.
	ListRunJobs(ctx context.Context, id uuid.UUID) ([]models.RunJob, error)
}

// BatchQueue hands batch requests from producers to executors.
type BatchQueue interface {
	// Push adds a batch to the pending queue.
	Push(ctx context.Context, req *models.BatchRequest) error

	// Pop retrieves a batch for a specific consumer group. A nil request with
	// a nil error means nothing was available.
	Pop(ctx context.Context, group string, consumer string) (string, *models.BatchRequest, error)

	// Ack acknowledges a batch as processed.
	Ack(ctx context.Context, group string, msgID string) error

	// EnsureGroup ensures the consumer group exists.
	EnsureGroup(ctx context.Context, group string) error
}

// NopRunStore discards everything. Used when no run history is configured.
type NopRunStore struct{}

func (NopRunStore) CreateRun(context.Context, *models.Run, []string) error { return nil }

func (NopRunStore) SetRunStatus(context.Context, uuid.UUID, models.RunStatus) error { return nil }

func (NopRunStore) UpdateJobState(context.Context, uuid.UUID, string, models.JobState) error {
	return nil
}

func (NopRunStore) RecordOutcome(context.Context, uuid.UUID, models.Outcome, string) error {
	return nil
}

func (NopRunStore) CompleteRun(context.Context, uuid.UUID, models.RunStatus, int, string) error {
	return nil
}

func (NopRunStore) GetRun(context.Context, uuid.UUID) (*models.Run, error) { return nil, ErrNotFound }

func (NopRunStore) ListRunJobs(context.Context, uuid.UUID) ([]models.RunJob, error) {
	return nil, ErrNotFound
}
