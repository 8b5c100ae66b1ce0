package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// ErrNotConfigured is returned when no refresh credential is available.
var ErrNotConfigured = errors.New("spotify adapter: credentials not configured")

// compile-time interface assertion
var _ ports.TokenMinter = (*TokenMinter)(nil)

// Config holds the server-side credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	Scopes       []string
	// Timeout bounds one token exchange including retries.
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
}

// TokenMinter exchanges the configured refresh token for short-lived access
// tokens. Tokens are cached until shortly before they expire.
type TokenMinter struct {
	mu     sync.Mutex
	source oauth2.TokenSource
	err    error
}

// NewTokenMinter builds a minter. httpClient may be nil.
func NewTokenMinter(cfg Config, httpClient *http.Client) *TokenMinter {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return &TokenMinter{err: ErrNotConfigured}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var base http.RoundTripper
	if httpClient != nil {
		base = httpClient.Transport
	}
	client := &http.Client{
		Transport: newRetryTransport(base, cfg.MaxRetries, cfg.BaseBackoff),
		Timeout:   cfg.Timeout,
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		Scopes: cfg.Scopes,
	}
	// the context only carries the HTTP client; token refreshes outlive any request
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	return &TokenMinter{
		source: oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}),
	}
}

// AccessToken returns a valid access token, refreshing it when needed.
func (m *TokenMinter) AccessToken(ctx context.Context) (ports.AccessToken, error) {
	if m.err != nil {
		return ports.AccessToken{}, m.err
	}
	if err := ctx.Err(); err != nil {
		return ports.AccessToken{}, fmt.Errorf("spotify adapter: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.source.Token()
	if err != nil {
		return ports.AccessToken{}, fmt.Errorf("spotify adapter: refresh access token: %w", err)
	}
	return ports.AccessToken{
		Value:     tok.AccessToken,
		Type:      tok.Type(),
		ExpiresAt: tok.Expiry,
	}, nil
}
