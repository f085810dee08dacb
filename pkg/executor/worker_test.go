package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpdispatch/pkg/executor/runner"
	"cpdispatch/pkg/models"
)

type memQueue struct {
	mu      sync.Mutex
	pending []*models.BatchRequest
	popErr  error
	acked   []string
	done    chan struct{}
	want    int
}

func (q *memQueue) Push(_ context.Context, req *models.BatchRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, req)
	return nil
}

func (q *memQueue) Pop(context.Context, string, string) (string, *models.BatchRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.popErr != nil {
		err := q.popErr
		q.popErr = nil
		return "bad-1", nil, err
	}
	if len(q.pending) == 0 {
		return "", nil, nil
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	return "msg-" + req.RunName, req, nil
}

func (q *memQueue) Ack(_ context.Context, _ string, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msgID)
	if len(q.acked) == q.want {
		close(q.done)
	}
	return nil
}

func (q *memQueue) EnsureGroup(context.Context, string) error { return nil }

func TestWorker_ProcessesAndAcksEachBatch(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "in")
	require.NoError(t, os.Mkdir(in, 0o755))

	q := &memQueue{done: make(chan struct{}), want: 3, popErr: errors.New("invalid payload format")}
	for _, name := range []string{"first", "second"} {
		require.NoError(t, q.Push(context.Background(), &models.BatchRequest{
			RunID:   uuid.New(),
			RunName: name,
			Jobs: []models.JobDescriptor{{
				Name: "job1", Program: "true", InputDir: in, OutputDir: filepath.Join(root, name),
			}},
		}))
	}

	p := NewProcessor(ProcessorConfig{
		LogDir:     filepath.Join(root, "logs"),
		Dispatcher: NewDispatcher(runner.NewShellRunner()),
		Report:     &bytes.Buffer{},
	})
	w := NewWorker(q, p, "test-group", nil)
	w.idle = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	select {
	case <-q.done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not ack all batches")
	}
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"bad-1", "msg-first", "msg-second"}, q.acked)
	assert.FileExists(t, filepath.Join(root, "logs", "job1_first_run.log"))
	assert.FileExists(t, filepath.Join(root, "logs", "job1_second_run.log"))
}
