// Package natsstream carries telemetry over a JetStream stream and consumes it
// with a durable pull consumer acting as the consumer group.
package natsstream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ewilliams-labs/cadence/internal/logging"
)

// Header keys carried on every telemetry entry. Values are string encoded.
const (
	HeaderHeartRate = "hr"
	HeaderTimestamp = "timestamp"
	HeaderUserID    = "user_id"
)

// StreamConfig names the stream and its subject.
type StreamConfig struct {
	Name    string
	Subject string
	// MaxAge bounds retention; zero keeps entries until limits are hit.
	MaxAge time.Duration
}

// Connect dials the broker with reconnects enabled.
func Connect(url, clientName string) (*nats.Conn, error) {
	log := logging.Component("natsstream")
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from broker")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to broker")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsstream: connect %s: %w", url, err)
	}
	return nc, nil
}

// EnsureStream creates the stream or updates it in place. Safe to call repeatedly.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  []string{cfg.Subject},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
		MaxAge:    cfg.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("natsstream: ensure stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}
