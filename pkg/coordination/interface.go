package coordination

import (
	"context"
)

// Coordinator handles distributed coordination tasks.
type Coordinator interface {
	// NewElection creates a new election instance for a given campaign name.
	NewElection(name string) Election

	// Done is closed when the coordinator's session expires. Any leadership
	// held through it is gone at that point.
	Done() <-chan struct{}

	// Close terminates the coordinator connection.
	Close() error
}

// Election represents a single leader election campaign.
type Election interface {
	// Campaign blocks until leadership is acquired or ctx ends.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value (if any).
	Leader(ctx context.Context) (string, error)
}
