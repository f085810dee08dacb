package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

type ShellRunner struct {
	// Dir is the working directory for every process. Empty means inherit.
	Dir string
}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

func (s *ShellRunner) Run(ctx context.Context, program string, args []string) Result {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = s.Dir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	// Own process group so a tool's helper processes stay with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{
			ExitCode:  -1,
			StartedAt: start,
			LaunchErr: err,
		}
	}
	pid := cmd.Process.Pid

	err := cmd.Wait()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// -1 when the process was killed by a signal
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return Result{
		ExitCode:  exitCode,
		Stdout:    stdoutBuf.Bytes(),
		Stderr:    stderrBuf.Bytes(),
		Pid:       pid,
		StartedAt: start,
		Duration:  duration,
	}
}
