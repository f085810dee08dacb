package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunStatus represents the state of a whole batch run.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED" // every job terminated, some may have failed
	RunRejected  RunStatus = "REJECTED"  // precondition check failed, nothing launched
	RunFailed    RunStatus = "FAILED"    // a job could not be launched
)

// Run is the persisted record of one submitted batch.
type Run struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string     `json:"name" gorm:"not null;index"`
	Status      RunStatus  `json:"status" gorm:"type:varchar(20);default:'PENDING'"`
	JobCount    int        `json:"job_count"`
	FailedCount int        `json:"failed_count"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (r *Run) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// RunJob is the per-job row of a run.
type RunJob struct {
	RunID      uuid.UUID  `json:"run_id" gorm:"type:uuid;primaryKey"`
	JobName    string     `json:"job_name" gorm:"primaryKey"`
	State      JobState   `json:"state" gorm:"type:varchar(20);not null"`
	ExitCode   *int       `json:"exit_code"`
	Pid        int        `json:"pid"`
	LogURI     string     `json:"log_uri"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Run *Run `json:"-" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// BatchRequest is the unit handed from the API or scheduler to an executor.
type BatchRequest struct {
	RunID   uuid.UUID       `json:"run_id"`
	RunName string          `json:"run_name"`
	Jobs    []JobDescriptor `json:"jobs"`
}

// RunSummary is what a processed batch reports back.
type RunSummary struct {
	RunID    uuid.UUID `json:"run_id"`
	RunName  string    `json:"run_name"`
	Status   RunStatus `json:"status"`
	Total    int       `json:"total"`
	Failed   []string  `json:"failed"`
	LogPaths []string  `json:"log_paths"`
	Error    string    `json:"error,omitempty"`
}
