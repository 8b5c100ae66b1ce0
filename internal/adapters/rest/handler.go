package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/core/services"
	"github.com/ewilliams-labs/cadence/internal/metrics"
)

// Handler manages the HTTP interface for our application.
type Handler struct {
	svc    *services.Orchestrator
	tokens ports.TokenMinter
	ws     http.Handler
	router *http.ServeMux
}

// Option wires optional collaborators.
type Option func(*Handler)

// WithTokenMinter enables GET /spotify/token.
func WithTokenMinter(m ports.TokenMinter) Option {
	return func(h *Handler) { h.tokens = m }
}

// WithWebSocket mounts the live update stream at GET /ws.
func WithWebSocket(ws http.Handler) Option {
	return func(h *Handler) { h.ws = ws }
}

// NewHandler initializes the HTTP adapter and sets up routes.
func NewHandler(svc *services.Orchestrator, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		router: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.routes()

	return h
}

// ServeHTTP satisfies the http.Handler interface and records request latency.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	h.router.ServeHTTP(sw, r)

	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	metrics.HTTPRequestDuration.
		WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).
		Observe(time.Since(start).Seconds())
}

// routes defines the mapping between URLs and methods.
func (h *Handler) routes() {
	h.router.HandleFunc("GET /health", h.HealthCheck)
	h.router.Handle("GET /metrics", promhttp.Handler())

	h.router.HandleFunc("POST /telemetry", h.PostTelemetry)
	h.router.HandleFunc("GET /recommendation", h.GetRecommendation)
	h.router.HandleFunc("POST /feedback", h.PostFeedback)
	h.router.HandleFunc("GET /users/{id}/profile", h.GetProfile)
	h.router.HandleFunc("PUT /users/{id}/profile", h.PutProfile)
	h.router.HandleFunc("GET /spotify/token", h.SpotifyToken)

	if h.ws != nil {
		h.router.Handle("GET /ws", h.ws)
	}
}

// HealthCheck is a simple endpoint to verify the API is running.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
