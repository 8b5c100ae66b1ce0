package rest

import (
	"errors"
	"net/http"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

type trackResponse struct {
	ID           string   `json:"track_id"`
	Name         string   `json:"track_name"`
	Artists      []string `json:"artists"`
	Energy       float64  `json:"energy"`
	Danceability float64  `json:"danceability"`
	Tempo        float64  `json:"tempo"`
	Valence      float64  `json:"valence"`
	UserID       string   `json:"user_id,omitempty"`
}

func newTrackResponse(t domain.Track, userID string) trackResponse {
	artists := t.Artists
	if artists == nil {
		artists = []string{}
	}
	return trackResponse{
		ID:           t.ID,
		Name:         t.Name,
		Artists:      artists,
		Energy:       t.Features.Energy,
		Danceability: t.Features.Danceability,
		Tempo:        t.Features.Tempo,
		Valence:      t.Features.Valence,
		UserID:       userID,
	}
}

// GetRecommendation handles GET /recommendation?user_id=
func (h *Handler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	userID := h.svc.Profile(r.Context(), r.URL.Query().Get("user_id")).UserID

	track, err := h.svc.Recommend(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNoRecommendation) {
			writeError(w, http.StatusNotFound, "No track available")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, newTrackResponse(track, userID))
}
