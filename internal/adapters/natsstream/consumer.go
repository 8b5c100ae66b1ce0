package natsstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/logging"
	"github.com/ewilliams-labs/cadence/internal/metrics"
)

// Handler processes one telemetry entry. The entry is acknowledged only when
// it returns nil.
type Handler func(ctx context.Context, sample domain.TelemetrySample) error

// GroupConfig configures a ConsumerGroup.
type GroupConfig struct {
	Stream StreamConfig
	// Group is the durable consumer name shared by every member.
	Group string
	// Consumer identifies this member in logs.
	Consumer string
	// Batch is the maximum number of entries per fetch.
	Batch int
	// PollTimeout bounds a single blocking fetch.
	PollTimeout time.Duration
	// Backoff is the pause after a failed fetch and the redelivery delay
	// for entries whose handler failed.
	Backoff time.Duration
	// AckWait is how long an entry may stay unacknowledged before redelivery.
	AckWait time.Duration
}

func (c *GroupConfig) applyDefaults() {
	if c.Batch < 1 {
		c.Batch = 10
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
}

// ConsumerGroup delivers stream entries to a handler with at-least-once
// semantics. Members sharing Group split the entries between them; entries a
// member never acknowledged are redelivered to the group after AckWait.
type ConsumerGroup struct {
	js      jetstream.JetStream
	cfg     GroupConfig
	handler Handler
	now     func() time.Time
	log     zerolog.Logger
}

// NewConsumerGroup creates a group member.
func NewConsumerGroup(js jetstream.JetStream, cfg GroupConfig, handler Handler) *ConsumerGroup {
	cfg.applyDefaults()
	return &ConsumerGroup{
		js:      js,
		cfg:     cfg,
		handler: handler,
		now:     time.Now,
		log: logging.Component("consumer-group").With().
			Str("group", cfg.Group).
			Str("consumer", cfg.Consumer).
			Logger(),
	}
}

// String names the service for the supervisor.
func (g *ConsumerGroup) String() string {
	return fmt.Sprintf("consumer-group:%s/%s", g.cfg.Group, g.cfg.Consumer)
}

// Serve runs the ensure, fetch, handle, ack loop until ctx is done. Read
// failures are logged and retried after Backoff; it never returns early.
func (g *ConsumerGroup) Serve(ctx context.Context) error {
	var cons jetstream.Consumer
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if cons == nil {
			c, err := g.ensure(ctx)
			if err != nil {
				g.log.Warn().Err(err).Msg("consumer group not ready")
				if !sleep(ctx, g.cfg.Backoff) {
					return ctx.Err()
				}
				continue
			}
			cons = c
		}

		batch, err := cons.Fetch(g.cfg.Batch, jetstream.FetchMaxWait(g.cfg.PollTimeout))
		if err != nil {
			metrics.StreamReadErrors.Inc()
			g.log.Warn().Err(err).Msg("fetch failed")
			if errors.Is(err, jetstream.ErrConsumerNotFound) || errors.Is(err, jetstream.ErrStreamNotFound) {
				cons = nil
			}
			if !sleep(ctx, g.cfg.Backoff) {
				return ctx.Err()
			}
			continue
		}

		for msg := range batch.Messages() {
			g.process(ctx, msg)
		}
		if err := batch.Error(); err != nil && !benignFetchError(err) {
			metrics.StreamReadErrors.Inc()
			g.log.Warn().Err(err).Msg("fetch ended with error")
			if errors.Is(err, jetstream.ErrConsumerDeleted) {
				cons = nil
			}
			if !sleep(ctx, g.cfg.Backoff) {
				return ctx.Err()
			}
		}
	}
}

// ensure creates the stream and the durable consumer if missing. Creation is
// idempotent, and a new group starts from the first retained entry.
func (g *ConsumerGroup) ensure(ctx context.Context) (jetstream.Consumer, error) {
	if _, err := EnsureStream(ctx, g.js, g.cfg.Stream); err != nil {
		return nil, err
	}
	cons, err := g.js.CreateOrUpdateConsumer(ctx, g.cfg.Stream.Name, jetstream.ConsumerConfig{
		Durable:       g.cfg.Group,
		Description:   "cadence telemetry consumer group",
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       g.cfg.AckWait,
		MaxDeliver:    -1,
		FilterSubject: g.cfg.Stream.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("natsstream: ensure consumer %s: %w", g.cfg.Group, err)
	}
	g.log.Info().Str("stream", g.cfg.Stream.Name).Msg("consumer group ready")
	return cons, nil
}

func (g *ConsumerGroup) process(ctx context.Context, msg jetstream.Msg) {
	log := g.log.With().Str("subject", msg.Subject()).Logger()
	if meta, err := msg.Metadata(); err == nil {
		log = log.With().Uint64("seq", meta.Sequence.Stream).Uint64("delivered", meta.NumDelivered).Logger()
	}

	sample, err := decode(msg.Headers(), msg.Data(), g.now())
	if err != nil {
		// redelivering a malformed entry can never succeed
		metrics.StreamEntries.WithLabelValues("terminated").Inc()
		log.Warn().Err(err).Msg("dropping malformed entry")
		if err := msg.Term(); err != nil {
			log.Warn().Err(err).Msg("term failed")
		}
		return
	}

	if err := g.handler(ctx, sample); err != nil {
		if ctx.Err() != nil {
			// shutting down; leave pending for redelivery
			return
		}
		metrics.StreamEntries.WithLabelValues("nacked").Inc()
		log.Warn().Err(err).Int("hr", sample.HeartRate).Msg("handler failed, entry will be redelivered")
		if err := msg.NakWithDelay(g.cfg.Backoff); err != nil {
			log.Warn().Err(err).Msg("nak failed")
		}
		return
	}

	if err := msg.Ack(); err != nil {
		log.Warn().Err(err).Msg("ack failed")
		return
	}
	metrics.StreamEntries.WithLabelValues("acked").Inc()
}

func benignFetchError(err error) bool {
	return errors.Is(err, jetstream.ErrNoMessages) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
