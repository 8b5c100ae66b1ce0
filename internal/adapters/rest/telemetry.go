package rest

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// telemetryRequest accepts hr and timestamp as JSON numbers or strings.
type telemetryRequest struct {
	HeartRate json.RawMessage `json:"hr"`
	Timestamp json.RawMessage `json:"timestamp"`
	UserID    string          `json:"user_id"`
}

type telemetryResponse struct {
	Status    string `json:"status"`
	HeartRate int    `json:"hr"`
}

// PostTelemetry handles POST /telemetry
func (h *Handler) PostTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.HeartRate) == 0 || string(req.HeartRate) == "null" {
		writeError(w, http.StatusBadRequest, "hr is required")
		return
	}

	hr, err := domain.ParseHeartRate(unquote(req.HeartRate))
	if err != nil {
		writeError(w, http.StatusBadRequest, "hr must be a positive integer")
		return
	}
	at, err := domain.ParseEpoch(unquote(req.Timestamp), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "timestamp must be unix seconds")
		return
	}

	sample := domain.TelemetrySample{HeartRate: hr, Timestamp: at, UserID: strings.TrimSpace(req.UserID)}
	if err := h.svc.HandleTelemetry(r.Context(), sample); err != nil {
		if errors.Is(err, domain.ErrInvalidHeartRate) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, telemetryResponse{Status: "ok", HeartRate: hr})
}

// unquote turns a raw JSON scalar into its text; null becomes empty.
func unquote(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}
