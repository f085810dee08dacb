package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLogStore_StoreAndRetrieve(t *testing.T) {
	base := filepath.Join(t.TempDir(), "archive")
	store, err := NewLocalLogStore(base)
	require.NoError(t, err)

	ctx := context.Background()
	key := ArchiveKey("run-1", "/var/logs/job1_test_run.log")
	assert.Equal(t, "run-1/job1_test_run.log", key)

	ref, err := store.Store(ctx, key, []byte("Job Name: job1\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "run-1", "job1_test_run.log"), ref)

	data, err := store.Retrieve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "Job Name: job1\n", string(data))
}

func TestLocalLogStore_RejectsEscapingKey(t *testing.T) {
	store, err := NewLocalLogStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Store(context.Background(), "../outside.log", []byte("x"))
	assert.Error(t, err)
}

func TestLocalLogStore_MissingIsNotFound(t *testing.T) {
	store, err := NewLocalLogStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Retrieve(context.Background(), filepath.Join(os.TempDir(), "does-not-exist.log"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtractKey(t *testing.T) {
	assert.Equal(t, "logs/runs/2024/01/02/r/a.log", extractKey("s3://bucket/logs/runs/2024/01/02/r/a.log"))
	assert.Equal(t, "plain/key.log", extractKey("plain/key.log"))
	assert.Equal(t, "bucket", extractKey("s3://bucket"))
}
