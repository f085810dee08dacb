package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpdispatch/pkg/coordination"
	"cpdispatch/pkg/manifest"
	"cpdispatch/pkg/models"
)

type memQueue struct {
	mu     sync.Mutex
	pushed []*models.BatchRequest
}

func (q *memQueue) Push(_ context.Context, req *models.BatchRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushed = append(q.pushed, req)
	return nil
}

func (q *memQueue) Pop(context.Context, string, string) (string, *models.BatchRequest, error) {
	return "", nil, nil
}

func (q *memQueue) Ack(context.Context, string, string) error { return nil }

func (q *memQueue) EnsureGroup(context.Context, string) error { return nil }

type fakeElection struct {
	leader string
	err    error
}

func (e *fakeElection) Campaign(context.Context, string) error { return nil }
func (e *fakeElection) Resign(context.Context) error           { return nil }
func (e *fakeElection) Leader(context.Context) (string, error) { return e.leader, e.err }

type fakeCoordinator struct {
	election *fakeElection
	done     chan struct{}
}

func (c *fakeCoordinator) NewElection(string) coordination.Election { return c.election }
func (c *fakeCoordinator) Done() <-chan struct{}                    { return c.done }
func (c *fakeCoordinator) Close() error                             { return nil }

func mustManifest(t *testing.T, doc string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(doc), "/data")
	require.NoError(t, err)
	return m
}

const nightly = `
run_name: nightly
schedule: "0 2 * * *"
defaults:
  program: cellprofiler
jobs:
  - name: a
    input_dir: in/a
    output_dir: out/a
`

func TestEnqueue_PushesFreshRun(t *testing.T) {
	q := &memQueue{}
	c := NewCore(q, nil, nil, nil)
	m := mustManifest(t, nightly)

	first, err := c.Enqueue(context.Background(), m)
	require.NoError(t, err)
	second, err := c.Enqueue(context.Background(), m)
	require.NoError(t, err)

	require.Len(t, q.pushed, 2)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, "nightly", q.pushed[0].RunName)
	assert.Equal(t, "/data/in/a", q.pushed[0].Jobs[0].InputDir)
}

func TestEnqueue_NonLeaderNeverEnqueues(t *testing.T) {
	q := &memQueue{}
	c := NewCore(q, nil, nil, nil)
	c.election, c.identity = &fakeElection{leader: "other-host"}, "this-host"

	_, err := c.Enqueue(context.Background(), mustManifest(t, nightly))
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Empty(t, q.pushed)

	c.election = &fakeElection{err: errors.New("etcd unavailable")}
	_, err = c.Enqueue(context.Background(), mustManifest(t, nightly))
	assert.Error(t, err)
	assert.Empty(t, q.pushed)
}

func TestEnqueue_LeaderEnqueues(t *testing.T) {
	q := &memQueue{}
	c := NewCore(q, nil, nil, nil)
	c.election, c.identity = &fakeElection{leader: "this-host"}, "this-host"

	_, err := c.Enqueue(context.Background(), mustManifest(t, nightly))
	require.NoError(t, err)
	assert.Len(t, q.pushed, 1)
}

func TestRegister_OneEntryPerManifest(t *testing.T) {
	m1 := mustManifest(t, nightly)
	m2 := mustManifest(t, "run_name: hourly\nschedule: \"@hourly\"\njobs:\n  - name: b\n")

	c := NewCore(&memQueue{}, nil, []*manifest.Manifest{m1, m2}, nil)
	require.NoError(t, c.Register(context.Background()))
	assert.Equal(t, 2, c.Entries())
}

func TestRun_StopsOnCancel(t *testing.T) {
	coord := &fakeCoordinator{election: &fakeElection{leader: "me"}, done: make(chan struct{})}
	c := NewCore(&memQueue{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, coord, coord.election, "me") }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_SessionLoss(t *testing.T) {
	coord := &fakeCoordinator{election: &fakeElection{leader: "me"}, done: make(chan struct{})}
	c := NewCore(&memQueue{}, nil, nil, nil)
	close(coord.done)

	err := c.Run(context.Background(), coord, coord.election, "me")
	assert.Error(t, err)
}
