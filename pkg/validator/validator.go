// Package validator checks a batch's filesystem preconditions before anything is launched.
package validator

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"cpdispatch/pkg/models"
)

var (
	ErrEmptyBatch       = errors.New("batch has no jobs")
	ErrMissingField     = errors.New("required field is missing")
	ErrProgramNotFound  = errors.New("program not found")
	ErrPipelineNotFound = errors.New("pipeline file does not exist")
	ErrInputDirMissing  = errors.New("input directory does not exist")
	ErrNotADirectory    = errors.New("path is not a directory")
	// ErrInvalidJobName marks a name that cannot be used as a log file name.
	ErrInvalidJobName = errors.New("job name must be a plain file name")
)

// PreconditionError identifies the job and path that failed validation.
type PreconditionError struct {
	Job   string
	Field string
	Path  string
	Err   error
}

func (e *PreconditionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("job %q: %s: %v", e.Job, e.Field, e.Err)
	}
	return fmt.Sprintf("job %q: %s %q: %v", e.Job, e.Field, e.Path, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// Validator checks job descriptors and prepares their output directories.
type Validator struct {
	lookPath func(string) (string, error)
	logger   *zap.Logger
}

type Option func(*Validator)

// WithLookPath replaces exec.LookPath, mostly for tests.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(v *Validator) { v.lookPath = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

func New(opts ...Option) *Validator {
	v := &Validator{
		lookPath: exec.LookPath,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CheckFields runs the structural checks only. It never touches the filesystem.
func CheckFields(batch *models.Batch) error {
	if batch == nil || batch.Len() == 0 {
		return ErrEmptyBatch
	}
	for _, d := range batch.Jobs() {
		if err := checkRequired(d); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every descriptor in insertion order and stops at the first
// violation. Output directories are created only once the whole batch has
// passed, so a rejected batch leaves the filesystem untouched.
func (v *Validator) Validate(batch *models.Batch) error {
	if err := CheckFields(batch); err != nil {
		return err
	}

	for _, d := range batch.Jobs() {
		if err := v.checkPaths(d); err != nil {
			v.logger.Warn("batch rejected", zap.String("job", d.Name), zap.Error(err))
			return err
		}
	}

	for _, d := range batch.Jobs() {
		if err := os.MkdirAll(d.OutputDir, 0o755); err != nil {
			return &PreconditionError{Job: d.Name, Field: "output_dir", Path: d.OutputDir, Err: err}
		}
	}

	v.logger.Debug("batch validated", zap.Int("jobs", batch.Len()))
	return nil
}

func checkRequired(d models.JobDescriptor) error {
	required := []struct {
		field, value string
	}{
		{"name", d.Name},
		{"program", d.Program},
		{"input_dir", d.InputDir},
		{"output_dir", d.OutputDir},
	}
	for _, r := range required {
		if r.value == "" {
			return &PreconditionError{Job: d.Name, Field: r.field, Err: ErrMissingField}
		}
	}
	if !validJobName(d.Name) {
		return &PreconditionError{Job: d.Name, Field: "name", Err: ErrInvalidJobName}
	}
	return nil
}

// validJobName reports whether name stays inside the log directory when
// used as part of a file name.
func validJobName(name string) bool {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name
}

func (v *Validator) checkPaths(d models.JobDescriptor) error {
	if _, err := v.lookPath(d.Program); err != nil {
		return &PreconditionError{Job: d.Name, Field: "program", Path: d.Program, Err: fmt.Errorf("%w: %v", ErrProgramNotFound, err)}
	}

	if d.PipelinePath != "" {
		info, err := os.Stat(d.PipelinePath)
		if err != nil {
			return &PreconditionError{Job: d.Name, Field: "pipeline", Path: d.PipelinePath, Err: ErrPipelineNotFound}
		}
		if info.IsDir() {
			return &PreconditionError{Job: d.Name, Field: "pipeline", Path: d.PipelinePath, Err: ErrPipelineNotFound}
		}
	}

	if err := requireDir(d.InputDir, ErrInputDirMissing); err != nil {
		return &PreconditionError{Job: d.Name, Field: "input_dir", Path: d.InputDir, Err: err}
	}

	if d.PluginsDir != nil {
		if err := requireDir(*d.PluginsDir, ErrNotADirectory); err != nil {
			return &PreconditionError{Job: d.Name, Field: "plugins_dir", Path: *d.PluginsDir, Err: err}
		}
	}
	return nil
}

func requireDir(path string, missing error) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return missing
		}
		return err
	}
	if !info.IsDir() {
		return ErrNotADirectory
	}
	return nil
}
