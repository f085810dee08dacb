package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"cpdispatch/pkg/models"
	"cpdispatch/pkg/storage"
)

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore initializes GORM connection and AutoMigrates schemas.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Run{}, &models.RunJob{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun inserts the run and its job rows in one transaction.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run, jobNames []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(run)
		if result.Error != nil {
			return fmt.Errorf("failed to create run: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return storage.ErrConflict
		}
		if len(jobNames) == 0 {
			return nil
		}

		rows := make([]models.RunJob, 0, len(jobNames))
		for _, name := range jobNames {
			rows = append(rows, models.RunJob{RunID: run.ID, JobName: name, State: models.JobSubmitted})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to create run jobs: %w", err)
		}
		return nil
	})
}

// SetRunStatus updates the run status.
func (s *PostgresStore) SetRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == models.RunRunning {
		updates["started_at"] = time.Now()
	}
	return s.updateRun(ctx, id, updates)
}

// UpdateJobState records a job state transition.
func (s *PostgresStore) UpdateJobState(ctx context.Context, runID uuid.UUID, job string, state models.JobState) error {
	updates := map[string]interface{}{"state": state}
	if state == models.JobRunning {
		updates["started_at"] = time.Now()
	}
	result := s.db.WithContext(ctx).
		Model(&models.RunJob{}).
		Where("run_id = ? AND job_name = ?", runID, job).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update job state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordOutcome stores the job result and marks it LOGGED.
func (s *PostgresStore) RecordOutcome(ctx context.Context, runID uuid.UUID, outcome models.Outcome, logURI string) error {
	result := s.db.WithContext(ctx).
		Model(&models.RunJob{}).
		Where("run_id = ? AND job_name = ?", runID, outcome.JobName).
		Updates(map[string]interface{}{
			"state":       models.JobLogged,
			"exit_code":   outcome.ExitCode,
			"pid":         outcome.Pid,
			"log_uri":     logURI,
			"started_at":  outcome.StartedAt,
			"finished_at": outcome.FinishedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record outcome: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CompleteRun marks the run finished.
func (s *PostgresStore) CompleteRun(ctx context.Context, id uuid.UUID, status models.RunStatus, failedCount int, errMsg string) error {
	return s.updateRun(ctx, id, map[string]interface{}{
		"status":       status,
		"failed_count": failedCount,
		"error":        errMsg,
		"completed_at": time.Now(),
	})
}

func (s *PostgresStore) updateRun(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	result := s.db.WithContext(ctx).First(&run, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

// ListRunJobs returns a run's job rows.
func (s *PostgresStore) ListRunJobs(ctx context.Context, id uuid.UUID) ([]models.RunJob, error) {
	var jobs []models.RunJob
	result := s.db.WithContext(ctx).
		Where("run_id = ?", id).
		Order("job_name asc").
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list run jobs: %w", result.Error)
	}
	return jobs, nil
}

var _ storage.RunStore = (*PostgresStore)(nil)
