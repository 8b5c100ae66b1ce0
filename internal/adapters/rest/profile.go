package rest

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

type profileRequest struct {
	RestHR int `json:"rest_hr"`
	MaxHR  int `json:"max_hr"`
}

// GetProfile handles GET /users/{id}/profile. Unknown users get the defaults.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Profile(r.Context(), r.PathValue("id")))
}

// PutProfile handles PUT /users/{id}/profile
func (h *Handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	userID := r.PathValue("id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p := domain.UserProfile{UserID: userID, RestHR: req.RestHR, MaxHR: req.MaxHR}
	if err := h.svc.SaveProfile(r.Context(), p); err != nil {
		if errors.Is(err, domain.ErrInvalidProfile) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, p)
}
