// Package httpsink posts telemetry straight to the backend when no stream is
// configured.
package httpsink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ewilliams-labs/cadence/internal/breaker"
	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// compile-time interface assertion
var _ ports.TelemetrySink = (*Sink)(nil)

// Payload is the request body accepted by POST /telemetry.
type Payload struct {
	HeartRate int     `json:"hr"`
	Timestamp float64 `json:"timestamp"`
	UserID    string  `json:"user_id,omitempty"`
}

// Sink posts each sample as JSON. Calls fail fast while the breaker is open.
type Sink struct {
	url     string
	client  *http.Client
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[struct{}]
}

// New creates a sink posting to url. client may be nil.
func New(url string, timeout time.Duration, client *http.Client) *Sink {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &Sink{
		url:     url,
		client:  client,
		timeout: timeout,
		cb:      breaker.New[struct{}](breaker.Defaults("telemetry-http")),
	}
}

// Publish posts the sample. Non-2xx responses are errors.
func (s *Sink) Publish(ctx context.Context, sample domain.TelemetrySample) error {
	body, err := json.Marshal(Payload{
		HeartRate: sample.HeartRate,
		Timestamp: sample.EpochSeconds(),
		UserID:    sample.UserID,
	})
	if err != nil {
		return fmt.Errorf("httpsink: encode sample: %w", err)
	}

	_, err = s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("httpsink: %w", err)
	}
	return nil
}

func (s *Sink) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post telemetry: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post telemetry: unexpected status %d", resp.StatusCode)
	}
	return nil
}
