package ports

import (
	"context"
	"time"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// Broadcaster pushes live updates to connected clients. Implementations must not block.
type Broadcaster interface {
	BroadcastHeartRate(userID string, hr int, at time.Time)
	BroadcastTrack(ev domain.SwitchEvent)
	BroadcastFeedback(ev domain.FeedbackEvent)
}

// ArtifactStore writes JSON documents to object storage under key.
type ArtifactStore interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// TelemetrySink forwards a sample to the decision engine, either through the
// durable stream or directly over HTTP.
type TelemetrySink interface {
	Publish(ctx context.Context, sample domain.TelemetrySample) error
}
