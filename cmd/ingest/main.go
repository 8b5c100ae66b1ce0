package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ewilliams-labs/cadence/internal/adapters/httpsink"
	"github.com/ewilliams-labs/cadence/internal/adapters/natsstream"
	"github.com/ewilliams-labs/cadence/internal/adapters/objectstore"
	"github.com/ewilliams-labs/cadence/internal/config"
	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/logging"
	"github.com/ewilliams-labs/cadence/internal/sensor"
	"github.com/ewilliams-labs/cadence/internal/supervisor"
	"github.com/ewilliams-labs/cadence/internal/telemetry"
)

func main() {
	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Sink: the durable stream when configured, otherwise a direct POST
	var (
		sink     ports.TelemetrySink
		sinkName string
	)
	if cfg.Stream.Enabled {
		nc, err := natsstream.Connect(cfg.Stream.URL, "cadence-ingest")
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to stream")
		}
		defer nc.Close()
		js, err := jetstream.New(nc)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to open jetstream context")
		}
		setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err = natsstream.EnsureStream(setupCtx, js, natsstream.StreamConfig{Name: cfg.Stream.Name, Subject: cfg.Stream.Subject})
		cancel()
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to ensure stream")
		}
		sink, sinkName = natsstream.NewPublisher(js, cfg.Stream.Subject), "stream"
	} else {
		sink, sinkName = httpsink.New(cfg.Telemetry.PostURL, cfg.Telemetry.PostTimeout, nil), "http"
	}

	// 3. Archive, optional
	var archiver *telemetry.Archiver
	if cfg.Archive.Enabled && cfg.Storage.Enabled {
		store, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Secure:    cfg.Storage.Secure,
			Timeout:   cfg.Storage.Timeout,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to configure object storage")
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logging.Warn().Err(err).Msg("object storage unavailable, batches stay buffered until it returns")
		}
		archiver = telemetry.NewArchiver(store, telemetry.ArchiverConfig{
			Prefix:        cfg.Archive.TelemetryPrefix,
			SessionID:     cfg.Telemetry.SessionID,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			Timeout:       cfg.Storage.Timeout,
		})
	}

	// 4. Queue between the sensor callback and network I/O
	queue := telemetry.NewQueue(cfg.Telemetry.QueueCapacity)
	onHeartRate := func(bpm int) {
		if queue.Enqueue(domain.NewTelemetrySample(bpm, time.Now())) {
			logging.Warn().Uint64("dropped_total", queue.Dropped()).Msg("telemetry queue full, dropped oldest sample")
		}
	}

	forwarder := telemetry.NewForwarder(queue, sink, archiver, telemetry.ForwarderConfig{
		SinkName: sinkName,
		Timeout:  cfg.Telemetry.PostTimeout,
	})

	// 5. Supervised services
	// the forwarder's drain and forced archive flush must finish before the tree gives up on it
	tree := supervisor.NewTree("cadence-ingest", logging.Component("supervisor"), supervisor.TreeConfig{
		FailureBackoff:  5 * time.Second,
		ShutdownTimeout: forwarder.ShutdownBudget() + 5*time.Second,
	})
	tree.AddPipelineService(forwarder)
	if cfg.Sensor.Port != "" {
		tree.AddPipelineService(sensor.NewDevice(cfg.Sensor.Port, cfg.Sensor.BaudRate, onHeartRate))
	} else {
		logging.Info().Msg("no sensor port configured, reading notifications from stdin")
		tree.AddPipelineService(sensor.NewSource(os.Stdin, "stdin", onHeartRate))
	}

	logging.Info().
		Str("sink", sinkName).
		Bool("archive", archiver != nil).
		Str("session_id", cfg.Telemetry.SessionID).
		Msg("cadence ingest starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("cadence ingest stopped")
}
