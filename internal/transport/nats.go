package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"laundry-display-sync/config"
)

// Subscriber is the part of *nats.Conn the NATS transport uses.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

func maxReconnects(cfg config.NATSConfig) int {
	if cfg.MaxReconnects == nil {
		return -1
	}
	return *cfg.MaxReconnects
}

// Connect opens a NATS connection with reconnect handling logged.
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("laundry-display-sync"),
		nats.MaxReconnects(maxReconnects(cfg)),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWaitSeconds) * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSSubscriber receives pushed snapshots published on a subject.
type NATSSubscriber struct {
	deviceID string
	subject  string
	nc       Subscriber
	sink     Sink
	loc      *time.Location
}

// NewNATSSubscriber creates a push transport for one device.
func NewNATSSubscriber(deviceID, subject string, nc Subscriber, sink Sink, loc *time.Location) *NATSSubscriber {
	if loc == nil {
		loc = time.UTC
	}
	return &NATSSubscriber{
		deviceID: deviceID,
		subject:  subject,
		nc:       nc,
		sink:     sink,
		loc:      loc,
	}
}

// Run subscribes and holds the subscription until ctx is cancelled.
func (n *NATSSubscriber) Run(ctx context.Context) {
	sub, err := n.nc.Subscribe(n.subject, n.handle)
	if err != nil {
		log.Error().Err(err).Str("device_id", n.deviceID).Str("subject", n.subject).
			Msg("failed to subscribe; device will extrapolate locally")
		return
	}
	log.Info().Str("device_id", n.deviceID).Str("subject", n.subject).Msg("subscribed to snapshot subject")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Str("device_id", n.deviceID).Msg("failed to unsubscribe")
	}
	log.Info().Str("device_id", n.deviceID).Msg("snapshot subscriber shutting down")
}

func (n *NATSSubscriber) handle(msg *nats.Msg) {
	snapshot, err := Decode(msg.Data, n.loc)
	if err != nil {
		log.Warn().Err(err).Str("device_id", n.deviceID).Str("subject", msg.Subject).
			Msg("dropping undecodable snapshot message")
		return
	}
	n.sink.OnSnapshot(snapshot)
}
