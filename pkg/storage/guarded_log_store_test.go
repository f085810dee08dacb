package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpdispatch/pkg/resilience"
)

type flakyLogStore struct {
	calls int
	err   error
}

func (f *flakyLogStore) Store(_ context.Context, key string, _ []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "mem://" + key, nil
}

func (f *flakyLogStore) Retrieve(context.Context, string) ([]byte, error) { return nil, ErrNotFound }

func TestGuardedLogStore_FailsFastWhenOpen(t *testing.T) {
	inner := &flakyLogStore{err: errors.New("s3 unreachable")}
	g := NewGuardedLogStore(inner, resilience.NewCircuitBreaker("archive", resilience.CircuitBreakerConfig{
		FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Hour, MaxTrials: 1,
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Store(ctx, "run/a.log", nil)
		require.Error(t, err)
	}
	_, err := g.Store(ctx, "run/a.log", nil)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls)

	_, err = g.Retrieve(ctx, "anything")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGuardedLogStore_PassesThrough(t *testing.T) {
	g := NewGuardedLogStore(&flakyLogStore{}, resilience.NewCircuitBreaker("archive", resilience.DefaultCircuitBreakerConfig()))
	ref, err := g.Store(context.Background(), "run/a.log", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "mem://run/a.log", ref)
}
