package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cpdispatch/pkg/api/middleware"
	"cpdispatch/pkg/manifest"
	"cpdispatch/pkg/metrics"
	"cpdispatch/pkg/models"
	"cpdispatch/pkg/storage"
	"cpdispatch/pkg/validator"
)

// SubmitRunRequest is the payload for submitting a batch.
type SubmitRunRequest struct {
	RunName string                 `json:"run_name" binding:"required"`
	Jobs    []models.JobDescriptor `json:"jobs" binding:"required"`
	// Schedule is checked and echoed back with its next fire time. Recurring
	// runs are configured through scheduler manifests, not the API.
	Schedule string `json:"schedule"`
}

// SubmitRunResponse is returned for an accepted batch.
type SubmitRunResponse struct {
	RunID     uuid.UUID        `json:"run_id"`
	RunName   string           `json:"run_name"`
	Status    models.RunStatus `json:"status"`
	JobCount  int              `json:"job_count"`
	NextRunAt *time.Time       `json:"next_run_at,omitempty"`
}

// RunResponse is a run together with its per-job rows.
type RunResponse struct {
	models.Run
	Jobs []models.RunJob `json:"jobs"`
}

// submitRun handles POST /api/v1/runs
//
// Only structural checks happen here. Filesystem preconditions are checked
// by the executor that owns the paths.
func (s *Server) submitRun(c *gin.Context) {
	if s.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "batch queue is not configured"})
		return
	}

	var req SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch, err := models.BatchFromJobs(req.Jobs)
	if err == nil {
		err = validator.CheckFields(batch)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := SubmitRunResponse{
		RunID:    uuid.New(),
		RunName:  req.RunName,
		Status:   models.RunPending,
		JobCount: batch.Len(),
	}

	if req.Schedule != "" {
		sched, err := manifest.ParseSchedule(req.Schedule)
		if err != nil {
			c.JSON(http.StatusBadRequest, middleware.ValidationError{Field: "schedule", Message: err.Error()})
			return
		}
		next := sched.Next(s.now()).UTC()
		resp.NextRunAt = &next
	}

	ctx := c.Request.Context()
	log := s.logger.With(zap.String("run_id", resp.RunID.String()), zap.String("run_name", req.RunName))

	run := &models.Run{ID: resp.RunID, Name: req.RunName, Status: models.RunPending, JobCount: batch.Len()}
	if err := s.runs.CreateRun(ctx, run, batch.Names()); err != nil {
		log.Error("failed to record run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record run"})
		return
	}

	if err := s.queue.Push(ctx, &models.BatchRequest{RunID: resp.RunID, RunName: req.RunName, Jobs: batch.Jobs()}); err != nil {
		log.Error("failed to enqueue batch", zap.Error(err))
		if cerr := s.runs.CompleteRun(ctx, resp.RunID, models.RunFailed, 0, "enqueue failed: "+err.Error()); cerr != nil {
			log.Warn("failed to mark run failed", zap.Error(cerr))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue batch"})
		return
	}

	metrics.BatchesEnqueued.WithLabelValues("api").Inc()
	log.Info("batch submitted", zap.Int("jobs", batch.Len()))
	c.JSON(http.StatusAccepted, resp)
}

// getRun handles GET /api/v1/runs/:id
func (s *Server) getRun(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		s.storeError(c, err, "run not found")
		return
	}
	jobs, err := s.runs.ListRunJobs(ctx, id)
	if err != nil {
		s.storeError(c, err, "run not found")
		return
	}

	c.JSON(http.StatusOK, RunResponse{Run: *run, Jobs: jobs})
}

// getJobLog handles GET /api/v1/runs/:id/jobs/:name/log
func (s *Server) getJobLog(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	if s.logs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "log archive is not configured"})
		return
	}

	ctx := c.Request.Context()
	jobs, err := s.runs.ListRunJobs(ctx, id)
	if err != nil {
		s.storeError(c, err, "run not found")
		return
	}

	name := c.Param("name")
	for _, j := range jobs {
		if j.JobName != name {
			continue
		}
		if j.State != models.JobLogged || j.LogURI == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "log not written yet", "state": j.State})
			return
		}
		data, err := s.logs.Retrieve(ctx, j.LogURI)
		if err != nil {
			s.storeError(c, err, "log not found")
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "job not found in run"})
}

func parseRunID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) storeError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return
	}
	s.logger.Error("store request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
