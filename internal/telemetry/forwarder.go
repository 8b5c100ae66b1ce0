package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/logging"
	"github.com/ewilliams-labs/cadence/internal/metrics"
)

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	// SinkName labels metrics and logs, e.g. "stream" or "http".
	SinkName string
	// Timeout bounds a single publish.
	Timeout time.Duration
	// TickInterval is how often an idle forwarder checks the archive clock.
	TickInterval time.Duration
	// DrainTimeout bounds forwarding of leftover samples at shutdown.
	// Samples not forwarded in time are still archived.
	DrainTimeout time.Duration
}

// Forwarder drains a Queue into a sink and feeds the archiver.
// It runs as a single goroutine and never stops on a sink failure.
type Forwarder struct {
	queue    *Queue
	sink     ports.TelemetrySink
	archiver *Archiver
	cfg      ForwarderConfig
	log      zerolog.Logger
}

// NewForwarder creates a Forwarder. archiver may be nil when archival is disabled.
func NewForwarder(queue *Queue, sink ports.TelemetrySink, archiver *Archiver, cfg ForwarderConfig) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.SinkName == "" {
		cfg.SinkName = "sink"
	}
	return &Forwarder{
		queue:    queue,
		sink:     sink,
		archiver: archiver,
		cfg:      cfg,
		log:      logging.Component("forwarder").With().Str("sink", cfg.SinkName).Logger(),
	}
}

// String names the service for the supervisor.
func (f *Forwarder) String() string { return "telemetry-forwarder" }

// ShutdownBudget is the longest Serve can take to return after its context
// ends: one DrainTimeout forwarding leftovers plus one for the forced flush.
// A supervisor must allow at least this much before abandoning the service.
func (f *Forwarder) ShutdownBudget() time.Duration {
	return 2 * f.cfg.DrainTimeout
}

// Serve runs until ctx is done, then drains the queue and force-flushes the archive.
func (f *Forwarder) Serve(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.drain()
			return ctx.Err()
		case <-ticker.C:
			f.flush(ctx, false)
		default:
		}

		// wake at least once per tick so a quiet sensor still flushes on time
		waitCtx, cancel := context.WithTimeout(ctx, f.cfg.TickInterval)
		sample, ok := f.queue.Dequeue(waitCtx)
		cancel()
		if !ok {
			continue
		}
		f.forward(ctx, sample)
		f.flush(ctx, false)
	}
}

func (f *Forwarder) forward(ctx context.Context, sample domain.TelemetrySample) {
	pubCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	err := f.sink.Publish(pubCtx, sample)
	cancel()

	metrics.RecordForward(f.cfg.SinkName, err)
	if err != nil {
		f.log.Warn().Err(err).Int("hr", sample.HeartRate).Msg("forward failed")
	}
	if f.archiver != nil {
		f.archiver.Add(sample)
	}
}

func (f *Forwarder) flush(ctx context.Context, force bool) {
	if f.archiver == nil {
		return
	}
	if err := f.archiver.Flush(ctx, force); err != nil {
		f.log.Warn().Err(err).Int("pending", f.archiver.Pending()).Msg("archive flush failed, will retry")
	}
}

func (f *Forwarder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.DrainTimeout)
	defer cancel()

	drained := 0
	for {
		sample, ok := f.queue.TryDequeue()
		if !ok {
			break
		}
		if ctx.Err() == nil {
			f.forward(ctx, sample)
		} else if f.archiver != nil {
			f.archiver.Add(sample)
		}
		drained++
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), f.cfg.DrainTimeout)
	defer flushCancel()
	f.flush(flushCtx, true)
	f.log.Info().Int("drained", drained).Uint64("dropped_total", f.queue.Dropped()).Msg("forwarder stopped")
}
