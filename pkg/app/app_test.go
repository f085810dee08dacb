package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "cpdispatch/configs"
	"cpdispatch/pkg/models"
	"cpdispatch/pkg/notify"
	"cpdispatch/pkg/storage"
)

func TestOpenRunStore(t *testing.T) {
	cfg := &config.Config{RunStore: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "runs.db")}
	store, closeStore, err := OpenRunStore(cfg)
	require.NoError(t, err)
	defer closeStore()

	id := uuid.New()
	require.NoError(t, store.CreateRun(context.Background(), &models.Run{ID: id, Name: "r", Status: models.RunPending}, []string{"a"}))
	run, err := store.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "r", run.Name)

	store, closeStore, err = OpenRunStore(&config.Config{RunStore: "none"})
	require.NoError(t, err)
	assert.IsType(t, storage.NopRunStore{}, store)
	assert.NoError(t, closeStore())

	_, _, err = OpenRunStore(&config.Config{RunStore: "mongo"})
	assert.Error(t, err)
}

func TestOptionalBackendsOff(t *testing.T) {
	cfg := &config.Config{}

	logs, err := OpenLogStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, logs)

	n, err := OpenNotifier(cfg)
	require.NoError(t, err)
	assert.IsType(t, notify.Noop{}, n)
}

func TestLoggerAndTracing(t *testing.T) {
	cfg := &config.Config{LogLevel: "debug", LogEncoding: "console"}
	l, err := Logger(cfg, "test")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = Logger(&config.Config{LogLevel: "chatty"}, "test")
	assert.Error(t, err)

	p, err := Tracing(context.Background(), cfg, "test")
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}
