package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ewilliams-labs/cadence/internal/adapters/natsstream"
	"github.com/ewilliams-labs/cadence/internal/adapters/objectstore"
	"github.com/ewilliams-labs/cadence/internal/adapters/rest"
	"github.com/ewilliams-labs/cadence/internal/adapters/spotify"
	"github.com/ewilliams-labs/cadence/internal/adapters/sqlite"
	"github.com/ewilliams-labs/cadence/internal/adapters/websocket"
	"github.com/ewilliams-labs/cadence/internal/catalog"
	"github.com/ewilliams-labs/cadence/internal/config"
	"github.com/ewilliams-labs/cadence/internal/core/recommend"
	"github.com/ewilliams-labs/cadence/internal/core/services"
	"github.com/ewilliams-labs/cadence/internal/logging"
	"github.com/ewilliams-labs/cadence/internal/supervisor"
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

	// 2. Object storage, optional: artifacts plus the seed catalog
	var opts []services.Option
	if cfg.Storage.Enabled {
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
			logging.Warn().Err(err).Msg("object storage unavailable, artifacts will be retried per call")
		}
		if cfg.Storage.TracksKey != "" {
			if _, err := store.SyncSeed(ctx, cfg.Catalog.Path, cfg.Storage.TracksKey); err != nil {
				logging.Warn().Err(err).Msg("seed catalog sync failed")
			}
		}
		opts = append(opts, services.WithArtifactStore(store))
	}

	// 3. Catalog
	tracks, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load catalog")
	}
	if tracks.Len() == 0 {
		logging.Warn().Str("path", cfg.Catalog.Path).Msg("catalog is empty, no tracks will be recommended")
	} else {
		logging.Info().Int("tracks", tracks.Len()).Msg("catalog loaded")
	}

	// 4. Persistence
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Fatal().Err(err).Msg("failed to create database directory")
		}
	}
	repo, err := sqlite.NewAdapter(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer repo.Close()

	// 5. Core
	strategy, err := recommend.ParseStrategy(cfg.Recommend.Strategy)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid recommendation strategy")
	}
	hub := websocket.NewHub(cfg.HTTP.AllowedOrigins)
	opts = append(opts, services.WithBroadcaster(hub))

	svc := services.NewOrchestrator(tracks, recommend.NewEngine(strategy), repo, services.Settings{
		DefaultUserID:        cfg.Profile.DefaultUserID,
		DefaultRestHR:        cfg.Profile.DefaultRestHR,
		DefaultMaxHR:         cfg.Profile.DefaultMaxHR,
		HistorySize:          cfg.Session.HistorySize,
		MinTrackDuration:     cfg.Switch.MinTrackDuration,
		RecommendationPrefix: cfg.Archive.RecommendationPrefix,
		FeedbackPrefix:       cfg.Archive.FeedbackPrefix,
	}, opts...)
	hub.Attach(svc)

	// 6. HTTP interface
	handlerOpts := []rest.Option{rest.WithWebSocket(hub)}
	if cfg.Spotify.Enabled() {
		handlerOpts = append(handlerOpts, rest.WithTokenMinter(spotify.NewTokenMinter(spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			TokenURL:     cfg.Spotify.TokenURL,
			Scopes:       cfg.Spotify.Scopes,
		}, nil)))
	}
	handler := rest.NewHandler(svc, handlerOpts...)

	// 7. Supervised services
	tree := supervisor.NewTree("cadence-api", logging.Component("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout + 5*time.Second,
	})
	tree.AddAPIService(supervisor.NewHTTPServer(cfg.HTTP.Addr, handler, cfg.HTTP.ShutdownTimeout))
	tree.AddAPIService(hub)

	if cfg.Stream.Enabled {
		streamURL := cfg.Stream.URL
		if cfg.Stream.Embedded {
			broker, err := natsstream.NewEmbeddedServer(natsstream.ServerConfig{
				Port:     portOf(cfg.Stream.URL),
				StoreDir: cfg.Stream.StoreDir,
			})
			if err != nil {
				logging.Fatal().Err(err).Msg("failed to start embedded stream broker")
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = broker.Shutdown(shutdownCtx)
			}()
			streamURL = broker.ClientURL()
		}

		nc, err := natsstream.Connect(streamURL, "cadence-api")
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to stream")
		}
		defer nc.Close()
		js, err := jetstream.New(nc)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to open jetstream context")
		}

		consumer := cfg.Stream.Consumer
		if consumer == "" {
			consumer, _ = os.Hostname()
		}
		tree.AddPipelineService(natsstream.NewConsumerGroup(js, natsstream.GroupConfig{
			Stream:      natsstream.StreamConfig{Name: cfg.Stream.Name, Subject: cfg.Stream.Subject},
			Group:       cfg.Stream.Group,
			Consumer:    consumer,
			Batch:       cfg.Stream.Batch,
			PollTimeout: cfg.Stream.PollTimeout,
			Backoff:     cfg.Stream.Backoff,
			AckWait:     cfg.Stream.AckWait,
		}, svc.HandleTelemetry))
	}

	// 8. Run until signaled
	logging.Info().Str("addr", cfg.HTTP.Addr).Bool("stream", cfg.Stream.Enabled).Msg("cadence api starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("cadence api stopped")
}

// portOf extracts the port from a nats:// URL; 0 lets the broker pick one.
func portOf(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0
	}
	return port
}
