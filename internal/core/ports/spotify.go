package ports

import (
	"context"
	"time"
)

// AccessToken is a short-lived bearer token for the music provider.
type AccessToken struct {
	Value     string    `json:"access_token"`
	Type      string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenMinter exchanges the server-held refresh credential for an access token.
type TokenMinter interface {
	AccessToken(ctx context.Context) (AccessToken, error)
}
