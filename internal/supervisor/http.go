package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ewilliams-labs/cadence/internal/logging"
)

// HTTPServer runs an http.Server as a supervised service.
type HTTPServer struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
	ready           chan string
}

// NewHTTPServer creates the service. The listener is opened on every Serve.
func NewHTTPServer(addr string, handler http.Handler, shutdownTimeout time.Duration) *HTTPServer {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &HTTPServer{
		addr:            addr,
		handler:         handler,
		shutdownTimeout: shutdownTimeout,
		ready:           make(chan string, 1),
	}
}

// String names the service for the supervisor.
func (s *HTTPServer) String() string { return "http-server:" + s.addr }

// Ready yields the bound address each time the listener opens.
func (s *HTTPServer) Ready() <-chan string { return s.ready }

// Serve listens until ctx is done, then drains in-flight requests.
func (s *HTTPServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("supervisor: listen %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	select {
	case s.ready <- ln.Addr().String():
	default:
	}
	logging.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("supervisor: http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown")
		}
		return ctx.Err()
	}
}
