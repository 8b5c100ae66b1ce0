package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/ewilliams-labs/cadence/internal/adapters/spotify"
)

const errCodeTokenRefresh = "TOKEN_REFRESH_FAILED"

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// SpotifyToken handles GET /spotify/token. The refresh credential never
// leaves the server; clients only see short-lived access tokens.
func (h *Handler) SpotifyToken(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		writeError(w, http.StatusBadRequest, "spotify credentials not configured")
		return
	}

	tok, err := h.tokens.AccessToken(r.Context())
	if err != nil {
		if errors.Is(err, spotify.ErrNotConfigured) {
			writeError(w, http.StatusBadRequest, "spotify credentials not configured")
			return
		}
		writeErrorWithCode(w, http.StatusBadGateway, "Failed to refresh token", errCodeTokenRefresh)
		return
	}

	expiresIn := 0
	if !tok.ExpiresAt.IsZero() {
		expiresIn = int(time.Until(tok.ExpiresAt).Seconds())
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: tok.Value,
		TokenType:   tok.Type,
		ExpiresIn:   expiresIn,
	})
}
