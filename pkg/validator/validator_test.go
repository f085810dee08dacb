package validator_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpdispatch/pkg/models"
	"cpdispatch/pkg/validator"
)

func alwaysFound(name string) (string, error) { return "/usr/bin/" + name, nil }

func newBatch(t *testing.T, jobs ...models.JobDescriptor) *models.Batch {
	t.Helper()
	b, err := models.BatchFromJobs(jobs)
	require.NoError(t, err)
	return b
}

func TestValidate_CreatesOutputDirs(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "a")
	require.NoError(t, os.Mkdir(in, 0o755))
	out1 := filepath.Join(root, "nested", "out1")
	out2 := filepath.Join(root, "out2")

	b := newBatch(t,
		models.JobDescriptor{Name: "job1", Program: "true", InputDir: in, OutputDir: out1},
		models.JobDescriptor{Name: "job2", Program: "false", InputDir: in, OutputDir: out2},
	)

	v := validator.New(validator.WithLookPath(alwaysFound))
	require.NoError(t, v.Validate(b))

	assert.DirExists(t, out1)
	assert.DirExists(t, out2)
}

func TestValidate_MissingInputDirFailsBeforeAnyMutation(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "a")
	require.NoError(t, os.Mkdir(in, 0o755))
	missing := filepath.Join(root, "does-not-exist")
	out1 := filepath.Join(root, "out1")
	out2 := filepath.Join(root, "out2")

	b := newBatch(t,
		models.JobDescriptor{Name: "job1", Program: "true", InputDir: in, OutputDir: out1},
		models.JobDescriptor{Name: "job2", Program: "true", InputDir: missing, OutputDir: out2},
	)

	err := validator.New(validator.WithLookPath(alwaysFound)).Validate(b)
	require.Error(t, err)

	var pe *validator.PreconditionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "job2", pe.Job)
	assert.Equal(t, missing, pe.Path)
	assert.ErrorIs(t, err, validator.ErrInputDirMissing)
	assert.Contains(t, err.Error(), missing)

	assert.NoDirExists(t, out1)
	assert.NoDirExists(t, out2)
}

func TestValidate_InputIsAFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "image.tiff")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	b := newBatch(t, models.JobDescriptor{Name: "job1", Program: "true", InputDir: file, OutputDir: filepath.Join(root, "out")})

	err := validator.New(validator.WithLookPath(alwaysFound)).Validate(b)
	assert.ErrorIs(t, err, validator.ErrNotADirectory)
}

func TestValidate_MissingPipeline(t *testing.T) {
	root := t.TempDir()
	b := newBatch(t, models.JobDescriptor{
		Name:         "job1",
		Program:      "cellprofiler",
		PipelinePath: filepath.Join(root, "illum.cppipe"),
		InputDir:     root,
		OutputDir:    filepath.Join(root, "out"),
	})

	err := validator.New(validator.WithLookPath(alwaysFound)).Validate(b)
	assert.ErrorIs(t, err, validator.ErrPipelineNotFound)
}

func TestValidate_ProgramNotFound(t *testing.T) {
	root := t.TempDir()
	b := newBatch(t, models.JobDescriptor{Name: "job1", Program: "definitely-not-a-real-binary-xyz", InputDir: root, OutputDir: filepath.Join(root, "out")})

	err := validator.New().Validate(b)
	assert.ErrorIs(t, err, validator.ErrProgramNotFound)
}

func TestValidate_PluginsDirMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	plugins := filepath.Join(root, "plugins")

	b := newBatch(t, models.JobDescriptor{Name: "job1", Program: "true", InputDir: root, OutputDir: filepath.Join(root, "out"), PluginsDir: &plugins})

	err := validator.New(validator.WithLookPath(alwaysFound)).Validate(b)
	var pe *validator.PreconditionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "plugins_dir", pe.Field)
}

func TestValidate_EmptyBatch(t *testing.T) {
	assert.ErrorIs(t, validator.New().Validate(models.NewBatch()), validator.ErrEmptyBatch)
}

func TestCheckFields_MissingField(t *testing.T) {
	b := newBatch(t, models.JobDescriptor{Name: "job1", Program: "true", InputDir: "/in"})

	err := validator.CheckFields(b)
	var pe *validator.PreconditionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "output_dir", pe.Field)
	assert.ErrorIs(t, err, validator.ErrMissingField)
}

func TestCheckFields_RejectsPathLikeNames(t *testing.T) {
	for _, name := range []string{"../escaped", "plate/A1", ".", "..", `plate\A1`} {
		t.Run(name, func(t *testing.T) {
			b := newBatch(t, models.JobDescriptor{Name: name, Program: "true", InputDir: "/in", OutputDir: "/out"})

			err := validator.CheckFields(b)
			var pe *validator.PreconditionError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "name", pe.Field)
			assert.ErrorIs(t, err, validator.ErrInvalidJobName)
		})
	}
}

func TestValidate_InvalidNameCreatesNothing(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	b := newBatch(t,
		models.JobDescriptor{Name: "ok", Program: "true", InputDir: root, OutputDir: filepath.Join(out, "ok")},
		models.JobDescriptor{Name: "../x", Program: "true", InputDir: root, OutputDir: filepath.Join(out, "x")},
	)

	err := validator.New(validator.WithLookPath(alwaysFound)).Validate(b)
	assert.ErrorIs(t, err, validator.ErrInvalidJobName)
	assert.NoDirExists(t, out)
}

func TestCheckFields_AcceptsPlateNames(t *testing.T) {
	b := newBatch(t, models.JobDescriptor{Name: "NF0014_C2-1..zmax", Program: "true", InputDir: "/in", OutputDir: "/out"})
	assert.NoError(t, validator.CheckFields(b))
}
