package spotify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/cadence/internal/logging"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
)

// retryTransport retries network errors, 429 and 5xx responses with
// exponential backoff, honoring Retry-After.
type retryTransport struct {
	next        http.RoundTripper
	maxRetries  int
	baseBackoff time.Duration
	log         zerolog.Logger
}

func newRetryTransport(next http.RoundTripper, maxRetries int, baseBackoff time.Duration) *retryTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseBackoff <= 0 {
		baseBackoff = defaultBackoff
	}
	return &retryTransport{
		next:        next,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		log:         logging.Component("spotify"),
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("spotify adapter: read request body: %w", err)
		}
		_ = req.Body.Close()
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(bodyBytes)), nil
		}
	}

	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("spotify adapter: request canceled: %w", err)
		}

		try := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("spotify adapter: reset request body: %w", err)
			}
			try.Body = body
		}

		resp, err := t.next.RoundTrip(try)
		retryAfter, retry := shouldRetry(resp, err)
		if !retry {
			return resp, err
		}

		ev := t.log.Warn().Int("attempt", attempt+1).Int("max", t.maxRetries)
		if err != nil {
			ev.Err(err).Msg("token request failed")
		} else {
			ev.Int("status", resp.StatusCode).Msg("token request rejected")
		}

		if attempt == t.maxRetries-1 {
			if err != nil {
				return nil, fmt.Errorf("spotify adapter: request failed after %d attempts: %w", t.maxRetries, err)
			}
			// hand the last response to the caller so it can read the error body
			return resp, nil
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		backoff := t.baseBackoff * time.Duration(1<<attempt)
		if retryAfter > 0 {
			backoff = retryAfter
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return nil, err
		}
	}
}

func shouldRetry(resp *http.Response, err error) (time.Duration, bool) {
	if err != nil {
		return 0, true
	}
	if resp == nil {
		return 0, false
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return parseRetryAfter(resp), true
	}
	return 0, false
}

func parseRetryAfter(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(retryAfter); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("spotify adapter: request canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
