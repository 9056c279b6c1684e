// Package transport delivers device snapshots to a Sink. Every transport
// normalizes payloads at this boundary and reports failures only through
// logs: a failed fetch simply produces no snapshot.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"laundry-display-sync/config"
	"laundry-display-sync/internal/engine"
)

// Sink receives normalized snapshots.
type Sink interface {
	OnSnapshot(s engine.Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(s engine.Snapshot)

// OnSnapshot calls f(s).
func (f SinkFunc) OnSnapshot(s engine.Snapshot) { f(s) }

// Transport runs until ctx is cancelled.
type Transport interface {
	Run(ctx context.Context)
}

// New builds the transport configured for a device. The NATS connection is
// only required for nats transports and may be nil otherwise.
func New(deviceID string, cfg config.TransportConfig, sink Sink, clock clockwork.Clock, nc Subscriber) (Transport, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}

	switch cfg.Kind {
	case config.TransportPoll, "":
		return NewPoller(deviceID, cfg, sink, clock, loc), nil
	case config.TransportStream:
		return NewStreamClient(deviceID, cfg, sink, clock, loc), nil
	case config.TransportNATS:
		if nc == nil {
			return nil, fmt.Errorf("device %q uses nats transport but no nats connection is available", deviceID)
		}
		return NewNATSSubscriber(deviceID, cfg.Subject, nc, sink, loc), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
}
