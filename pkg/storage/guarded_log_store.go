package storage

import (
	"context"

	"cpdispatch/pkg/resilience"
)

// GuardedLogStore stops calling an archive that keeps failing. While the
// circuit is open Store returns resilience.ErrCircuitOpen immediately and
// the caller keeps the local log path.
type GuardedLogStore struct {
	inner   LogStore
	breaker *resilience.CircuitBreaker
}

func NewGuardedLogStore(inner LogStore, breaker *resilience.CircuitBreaker) *GuardedLogStore {
	return &GuardedLogStore{inner: inner, breaker: breaker}
}

func (g *GuardedLogStore) Store(ctx context.Context, key string, logs []byte) (string, error) {
	var ref string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		ref, err = g.inner.Store(ctx, key, logs)
		return err
	})
	return ref, err
}

// Retrieve is not guarded: reads come from API callers who should see the
// backend's own error.
func (g *GuardedLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return g.inner.Retrieve(ctx, reference)
}
