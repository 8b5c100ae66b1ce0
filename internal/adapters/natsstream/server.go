package natsstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerConfig configures the embedded broker.
type ServerConfig struct {
	Host string
	// Port -1 picks a random free port.
	Port     int
	StoreDir string
	Logging  bool
}

// EmbeddedServer runs a JetStream-enabled broker inside the process for
// single-host deployments and tests.
type EmbeddedServer struct {
	server *server.Server
}

// NewEmbeddedServer starts a broker and waits until it accepts connections.
func NewEmbeddedServer(cfg ServerConfig) (*EmbeddedServer, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = server.RANDOM_PORT
	}
	ns, err := server.NewServer(&server.Options{
		ServerName: "cadence",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoLog:      !cfg.Logging,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("natsstream: create server: %w", err)
	}
	if cfg.Logging {
		ns.ConfigureLogger()
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("natsstream: embedded server not ready")
	}
	return &EmbeddedServer{server: ns}, nil
}

// ClientURL returns the URL clients should dial.
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

// Shutdown stops the server and waits for it to exit, or for ctx.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
