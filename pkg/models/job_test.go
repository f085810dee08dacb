package models_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "cpdispatch/pkg/models"
)

func TestJobDescriptor_Argv(t *testing.T) {
	plugins := "/opt/plugins"
	d := JobDescriptor{
		Name:         "plate1",
		Program:      "cellprofiler",
		PipelinePath: "/p/analysis.cppipe",
		InputDir:     "/in",
		OutputDir:    "/out",
		PluginsDir:   &plugins,
	}

	assert.Equal(t,
		[]string{"-c", "-r", "-p", "/p/analysis.cppipe", "-o", "/out", "-i", "/in", "--plugins-directory", "/opt/plugins"},
		d.Argv())
}

func TestJobDescriptor_ArgvWithoutOptionalParts(t *testing.T) {
	d := JobDescriptor{Name: "job1", Program: "true", InputDir: "/in", OutputDir: "/out", ExtraArgs: []string{"--done"}}

	assert.Equal(t, []string{"-c", "-r", "-o", "/out", "-i", "/in", "--done"}, d.Argv())
}

func TestBatch_PreservesInsertionOrder(t *testing.T) {
	b := NewBatch()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, b.Add(JobDescriptor{Name: name}))
	}

	assert.Equal(t, []string{"c", "a", "b"}, b.Names())
	jobs := b.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "c", jobs[0].Name)
	assert.Equal(t, 3, b.Len())
}

func TestBatch_RejectsDuplicateNames(t *testing.T) {
	b := NewBatch()
	require.NoError(t, b.Add(JobDescriptor{Name: "job1"}))

	err := b.Add(JobDescriptor{Name: "job1"})
	assert.True(t, errors.Is(err, ErrDuplicateJob))
	assert.Equal(t, 1, b.Len())
}

func TestBatch_RejectsEmptyName(t *testing.T) {
	assert.ErrorIs(t, NewBatch().Add(JobDescriptor{}), ErrEmptyJobName)
}

func TestBatch_SealedBatchIsImmutable(t *testing.T) {
	b := NewBatch()
	require.NoError(t, b.Add(JobDescriptor{Name: "job1"}))
	b.Seal()

	assert.ErrorIs(t, b.Add(JobDescriptor{Name: "job2"}), ErrBatchSealed)
	assert.True(t, b.Sealed())
}

func TestBatch_NamesReturnsCopy(t *testing.T) {
	b := NewBatch()
	require.NoError(t, b.Add(JobDescriptor{Name: "job1"}))

	names := b.Names()
	names[0] = "mutated"

	_, ok := b.Get("job1")
	assert.True(t, ok)
	assert.Equal(t, []string{"job1"}, b.Names())
}

func TestBatchFromJobs_Duplicate(t *testing.T) {
	_, err := BatchFromJobs([]JobDescriptor{{Name: "x"}, {Name: "x"}})
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestOutcome_Failed(t *testing.T) {
	assert.False(t, Outcome{ExitCode: 0}.Failed())
	assert.True(t, Outcome{ExitCode: 1}.Failed())
	assert.True(t, Outcome{ExitCode: -1}.Failed())
}
