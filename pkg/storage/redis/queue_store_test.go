package redis_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpdispatch/pkg/models"
	"cpdispatch/pkg/storage/redis"
)

func newQueue(t *testing.T) *redis.RedisQueue {
	t.Helper()
	if testing.Short() || os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		t.Skip("Skipping integration tests")
	}
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	q, err := redis.NewRedisQueue(addr)
	if err != nil {
		t.Skipf("Skipping integration tests: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestRedisQueue_PushPopAck(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	group := "test-" + uuid.NewString()
	require.NoError(t, q.EnsureGroup(ctx, group))
	require.NoError(t, q.EnsureGroup(ctx, group), "second EnsureGroup is a no-op")

	req := &models.BatchRequest{
		RunID:   uuid.New(),
		RunName: "illum",
		Jobs:    []models.JobDescriptor{{Name: "job1", Program: "true", InputDir: "/in", OutputDir: "/out"}},
	}
	require.NoError(t, q.Push(ctx, req))

	// The group reads from the start of the stream, so drain until ours appears.
	for i := 0; i < 1000; i++ {
		msgID, popped, err := q.Pop(ctx, group, "consumer-1")
		require.NoError(t, err)
		require.NotNil(t, popped, fmt.Sprintf("batch %s never arrived", req.RunID))
		require.NoError(t, q.Ack(ctx, group, msgID))
		if popped.RunID == req.RunID {
			assert.Equal(t, "illum", popped.RunName)
			require.Len(t, popped.Jobs, 1)
			assert.Equal(t, "job1", popped.Jobs[0].Name)
			return
		}
	}
	t.Fatal("batch not found in stream")
}
