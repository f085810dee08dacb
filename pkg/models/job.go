package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateJob = errors.New("duplicate job name in batch")
	ErrEmptyJobName = errors.New("job name is empty")
	ErrBatchSealed  = errors.New("batch already submitted")
)

// JobDescriptor describes one invocation of the external analysis tool.
type JobDescriptor struct {
	Name         string   `json:"name" yaml:"name"`
	Program      string   `json:"program" yaml:"program"`
	PipelinePath string   `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	InputDir     string   `json:"input_dir" yaml:"input_dir"`
	OutputDir    string   `json:"output_dir" yaml:"output_dir"`
	PluginsDir   *string  `json:"plugins_dir,omitempty" yaml:"plugins_dir,omitempty"`
	ExtraArgs    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// Argv builds the argument vector following the tool's command-line grammar:
//
//	-c -r [-p <pipeline>] -o <output-dir> -i <input-dir> [--plugins-directory <path>] [extra...]
func (d JobDescriptor) Argv() []string {
	args := []string{"-c", "-r"}
	if d.PipelinePath != "" {
		args = append(args, "-p", d.PipelinePath)
	}
	args = append(args, "-o", d.OutputDir, "-i", d.InputDir)
	if d.PluginsDir != nil {
		args = append(args, "--plugins-directory", *d.PluginsDir)
	}
	return append(args, d.ExtraArgs...)
}

// Batch is an insertion-ordered set of job descriptors keyed by name.
// A batch is sealed when it is handed to the dispatcher and cannot change afterwards.
type Batch struct {
	names  []string
	jobs   map[string]JobDescriptor
	sealed bool
}

func NewBatch() *Batch {
	return &Batch{jobs: make(map[string]JobDescriptor)}
}

// Add appends a descriptor. Names must be unique within the batch.
func (b *Batch) Add(d JobDescriptor) error {
	if b.sealed {
		return ErrBatchSealed
	}
	if d.Name == "" {
		return ErrEmptyJobName
	}
	if _, exists := b.jobs[d.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateJob, d.Name)
	}
	b.names = append(b.names, d.Name)
	b.jobs[d.Name] = d
	return nil
}

// Seal freezes the batch. It is safe to call more than once.
func (b *Batch) Seal() { b.sealed = true }

func (b *Batch) Sealed() bool { return b.sealed }

func (b *Batch) Len() int { return len(b.names) }

func (b *Batch) Get(name string) (JobDescriptor, bool) {
	d, ok := b.jobs[name]
	return d, ok
}

// Names returns job names in insertion order.
func (b *Batch) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Jobs returns descriptors in insertion order.
func (b *Batch) Jobs() []JobDescriptor {
	out := make([]JobDescriptor, 0, len(b.names))
	for _, name := range b.names {
		out = append(out, b.jobs[name])
	}
	return out
}

// BatchFromJobs builds a batch from an ordered descriptor list.
func BatchFromJobs(jobs []JobDescriptor) (*Batch, error) {
	b := NewBatch()
	for _, d := range jobs {
		if err := b.Add(d); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// JobState is the lifecycle of a single job inside a run.
type JobState string

const (
	JobSubmitted  JobState = "SUBMITTED"
	JobRunning    JobState = "RUNNING"
	JobTerminated JobState = "TERMINATED"
	JobLogged     JobState = "LOGGED"
)

// Outcome is the result of one terminated subprocess.
type Outcome struct {
	JobName    string        `json:"job_name"`
	ExitCode   int           `json:"exit_code"`
	Stdout     []byte        `json:"stdout,omitempty"`
	Stderr     []byte        `json:"stderr,omitempty"`
	Pid        int           `json:"pid"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

func (o Outcome) Failed() bool { return o.ExitCode != 0 }
