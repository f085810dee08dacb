package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpdispatch/pkg/executor/runner"
)

func TestShellRunner_Success(t *testing.T) {
	res := runner.NewShellRunner().Run(context.Background(), "sh", []string{"-c", "echo hello"})

	require.NoError(t, res.LaunchErr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Positive(t, res.Pid)
}

func TestShellRunner_CapturesStderrAndExitCode(t *testing.T) {
	res := runner.NewShellRunner().Run(context.Background(), "sh", []string{"-c", "echo boom >&2; exit 3"})

	require.NoError(t, res.LaunchErr)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom\n", string(res.Stderr))
	assert.Empty(t, res.Stdout)
}

func TestShellRunner_FalseIsNotALaunchError(t *testing.T) {
	res := runner.NewShellRunner().Run(context.Background(), "false", nil)

	assert.NoError(t, res.LaunchErr)
	assert.Equal(t, 1, res.ExitCode)
}

func TestShellRunner_MissingProgramIsLaunchError(t *testing.T) {
	res := runner.NewShellRunner().Run(context.Background(), "/nonexistent/cellprofiler", []string{"-c"})

	assert.Error(t, res.LaunchErr)
	assert.Equal(t, -1, res.ExitCode)
	assert.Zero(t, res.Pid)
}

func TestShellRunner_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	r := &runner.ShellRunner{Dir: dir}

	res := r.Run(context.Background(), "pwd", nil)

	require.NoError(t, res.LaunchErr)
	assert.Contains(t, string(res.Stdout), dir)
}
