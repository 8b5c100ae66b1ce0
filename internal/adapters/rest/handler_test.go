package rest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/ewilliams-labs/cadence/internal/adapters/spotify"
	"github.com/ewilliams-labs/cadence/internal/adapters/sqlite"
	"github.com/ewilliams-labs/cadence/internal/catalog"
	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/core/recommend"
	"github.com/ewilliams-labs/cadence/internal/core/services"
)

// newTestService builds a real orchestrator over an in-memory database, since
// the handler depends on the concrete service.
func newTestService(t *testing.T, tracks ...domain.Track) (*services.Orchestrator, *sqlite.Adapter) {
	t.Helper()
	repo, err := sqlite.NewAdapter(":memory:")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	svc := services.NewOrchestrator(
		catalog.NewStore(tracks),
		recommend.NewEngine(recommend.StrategyScored),
		repo,
		services.Settings{
			DefaultUserID:        "demo-user",
			DefaultRestHR:        60,
			DefaultMaxHR:         190,
			HistorySize:          60,
			MinTrackDuration:     30 * time.Second,
			RecommendationPrefix: "recommendations",
			FeedbackPrefix:       "feedback",
		},
	)
	return svc, repo
}

func seedTracks() []domain.Track {
	return []domain.Track{
		domain.NewTrack("calm", "Calm", []string{"A"}, domain.AudioFeatures{Energy: 0.2, Danceability: 0.5, Tempo: 90, Valence: 0.5}),
		domain.NewTrack("push", "Push", []string{"B"}, domain.AudioFeatures{Energy: 0.9, Danceability: 0.5, Tempo: 150, Valence: 0.5}),
	}
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestHandler_HealthCheck(t *testing.T) {
	svc, _ := newTestService(t)
	rec := do(NewHandler(svc), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestHandler_PostTelemetry(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Success: numeric hr",
			body:           `{"hr": 150, "timestamp": 1700000000.5}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `"hr":150`,
		},
		{
			name:           "Success: string hr without timestamp",
			body:           `{"hr": "72"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"ok"`,
		},
		{
			name:           "Bad Request: missing hr",
			body:           `{"timestamp": 10}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "hr is required",
		},
		{
			name:           "Bad Request: non-integer hr",
			body:           `{"hr": "fast"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "hr must be a positive integer",
		},
		{
			name:           "Bad Request: zero hr",
			body:           `{"hr": 0}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "hr must be a positive integer",
		},
		{
			name:           "Bad Request: bad timestamp",
			body:           `{"hr": 70, "timestamp": "yesterday"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "timestamp",
		},
		{
			name:           "Bad Request: invalid json",
			body:           `{`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, seedTracks()...)
			rec := do(NewHandler(svc), http.MethodPost, "/telemetry", tt.body)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d, body: %s", tt.expectedStatus, rec.Code, strings.TrimSpace(rec.Body.String()))
			}
			if tt.expectedBody != "" && !strings.Contains(rec.Body.String(), tt.expectedBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedBody, rec.Body.String())
			}
		})
	}
}

func TestHandler_GetRecommendation(t *testing.T) {
	t.Run("no history returns 404", func(t *testing.T) {
		svc, _ := newTestService(t, seedTracks()...)
		rec := do(NewHandler(svc), http.MethodGet, "/recommendation?user_id=u1", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "No track available") {
			t.Fatalf("unexpected body %q", rec.Body.String())
		}
	})

	t.Run("high heart rate picks the energetic track", func(t *testing.T) {
		svc, _ := newTestService(t, seedTracks()...)
		h := NewHandler(svc)
		if rec := do(h, http.MethodPost, "/telemetry", `{"hr": 175, "user_id": "u1"}`); rec.Code != http.StatusOK {
			t.Fatalf("telemetry: %d %s", rec.Code, rec.Body.String())
		}

		rec := do(h, http.MethodGet, "/recommendation?user_id=u1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var got trackResponse
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != "push" || got.UserID != "u1" {
			t.Fatalf("got %+v", got)
		}
	})
}

func TestHandler_PostFeedback(t *testing.T) {
	tests := []struct {
		name           string
		contentType    string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Success: dislike switches away",
			contentType:    "application/json",
			body:           `{"event_type": "dislike", "track_id": "push", "user_id": "u1"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `"track_id":"calm"`,
		},
		{
			name:           "Success: skip is recorded only",
			contentType:    "application/json",
			body:           `{"event_type": "skip", "user_id": "u1", "metadata": {"source": "ui"}}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `"track":null`,
		},
		{
			name:           "Bad Request: missing event_type",
			contentType:    "application/json",
			body:           `{"track_id": "push"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "event_type is required",
		},
		{
			name:           "Unsupported Media Type",
			contentType:    "text/plain",
			body:           `{"event_type": "like"}`,
			expectedStatus: http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, seedTracks()...)
			h := NewHandler(svc)
			if rec := do(h, http.MethodPost, "/telemetry", `{"hr": 175, "user_id": "u1"}`); rec.Code != http.StatusOK {
				t.Fatalf("telemetry: %d", rec.Code)
			}

			req := httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d, body: %s", tt.expectedStatus, rec.Code, strings.TrimSpace(rec.Body.String()))
			}
			if tt.expectedBody != "" && !strings.Contains(rec.Body.String(), tt.expectedBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedBody, rec.Body.String())
			}
		})
	}
}

func TestHandler_Profile(t *testing.T) {
	svc, repo := newTestService(t)
	h := NewHandler(svc)

	rec := do(h, http.MethodGet, "/users/u1/profile", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"rest_hr":60`) {
		t.Fatalf("defaults: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(h, http.MethodPut, "/users/u1/profile", `{"rest_hr": 50, "max_hr": 180}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rec.Code, rec.Body.String())
	}
	p, err := repo.GetProfile(context.Background(), "u1")
	if err != nil || p.RestHR != 50 || p.MaxHR != 180 {
		t.Fatalf("stored profile: %+v, %v", p, err)
	}

	rec = do(h, http.MethodPut, "/users/u1/profile", `{"rest_hr": 200, "max_hr": 180}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid bounds: expected 400, got %d", rec.Code)
	}
}

func TestHandler_SpotifyToken(t *testing.T) {
	tests := []struct {
		name           string
		minter         ports.TokenMinter
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "not configured",
			minter:         nil,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "not configured",
		},
		{
			name:           "missing credentials",
			minter:         &mockMinter{err: spotify.ErrNotConfigured},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "not configured",
		},
		{
			name:           "upstream failure",
			minter:         &mockMinter{err: errors.New("401 invalid_grant")},
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `"code":"TOKEN_REFRESH_FAILED"`,
		},
		{
			name: "success",
			minter: &mockMinter{tok: ports.AccessToken{
				Value: "abc", Type: "Bearer", ExpiresAt: time.Now().Add(time.Hour),
			}},
			expectedStatus: http.StatusOK,
			expectedBody:   `"access_token":"abc"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			var opts []Option
			if tt.minter != nil {
				opts = append(opts, WithTokenMinter(tt.minter))
			}
			rec := do(NewHandler(svc, opts...), http.MethodGet, "/spotify/token", "")
			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d, body: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.expectedBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedBody, rec.Body.String())
			}
		})
	}
}

func TestHandler_Metrics(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc)
	_ = do(h, http.MethodGet, "/health", "")

	rec := do(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `cadence_http_request_duration_seconds`) {
		t.Fatalf("request histogram missing from exposition")
	}
}

// --- Mocks ---

type mockMinter struct {
	tok ports.AccessToken
	err error
}

func (m *mockMinter) AccessToken(ctx context.Context) (ports.AccessToken, error) {
	return m.tok, m.err
}
