// Package notify announces finished runs to other systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"cpdispatch/pkg/models"
)

// Notifier publishes a run summary once a batch is processed.
type Notifier interface {
	Notify(ctx context.Context, summary *models.RunSummary) error
	Close()
}

// Noop drops every summary.
type Noop struct{}

func (Noop) Notify(context.Context, *models.RunSummary) error { return nil }

func (Noop) Close() {}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes summaries as JSON on a NATS subject.
type NATSNotifier struct {
	nc      *nats.Conn
	pub     publisher
	subject string
}

// NewNATSNotifier connects to url and keeps reconnecting for as long as the
// process lives.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("cpdispatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSNotifier{nc: nc, pub: nc, subject: subject}, nil
}

func (n *NATSNotifier) Notify(ctx context.Context, summary *models.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := n.pub.Publish(n.subject, b); err != nil {
		return fmt.Errorf("failed to publish run summary: %w", err)
	}
	return nil
}

func (n *NATSNotifier) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
	}
}
