package ports

import (
	"context"
	"time"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// TelemetryRepository stores append-only rows for samples, switches and feedback.
type TelemetryRepository interface {
	AppendTelemetry(ctx context.Context, sample domain.TelemetrySample) error
	AppendRecommendation(ctx context.Context, ev domain.SwitchEvent) error
	AppendFeedback(ctx context.Context, ev domain.FeedbackEvent) error
}

// ProfileRepository resolves per-user heart-rate bounds.
// GetProfile returns domain.ErrNotFound for unknown users.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, error)
	SaveProfile(ctx context.Context, p domain.UserProfile) error
}

// BlacklistRepository persists disliked tracks per user.
type BlacklistRepository interface {
	Blacklist(ctx context.Context, userID string) ([]string, error)
	AddToBlacklist(ctx context.Context, userID, trackID string, at time.Time) error
}

// Repository is the full persistence surface used by the orchestrator.
type Repository interface {
	TelemetryRepository
	ProfileRepository
	BlacklistRepository
}
