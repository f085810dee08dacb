package runner

import (
	"context"
	"time"
)

// Result captures the outcome of one subprocess.
type Result struct {
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	Pid       int
	StartedAt time.Time
	Duration  time.Duration

	// LaunchErr is set when the process could not be started at all.
	// A non-zero exit is not a launch error.
	LaunchErr error
}

// JobRunner executes a single program to completion.
type JobRunner interface {
	// Run starts program with args and blocks until it exits.
	// Both output streams are captured in full.
	Run(ctx context.Context, program string, args []string) Result
}
