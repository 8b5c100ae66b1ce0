package rest

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/services"
)

type feedbackRequest struct {
	EventType string            `json:"event_type"`
	TrackID   string            `json:"track_id"`
	UserID    string            `json:"user_id"`
	Metadata  map[string]string `json:"metadata"`
}

type feedbackResponse struct {
	Status string               `json:"status"`
	Event  domain.FeedbackEvent `json:"event"`
	Track  *trackResponse       `json:"track"`
}

// PostFeedback handles POST /feedback
func (h *Handler) PostFeedback(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	res, err := h.svc.RecordFeedback(r.Context(), services.FeedbackRequest{
		EventType: req.EventType,
		TrackID:   req.TrackID,
		UserID:    req.UserID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidFeedback) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := feedbackResponse{Status: "ok", Event: res.Event}
	if res.Track != nil {
		t := newTrackResponse(*res.Track, res.Event.UserID)
		resp.Track = &t
	}
	writeJSON(w, http.StatusOK, resp)
}
