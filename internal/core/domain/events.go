package domain

import "time"

// Feedback event types understood by the pipeline. Any other non-empty type is
// recorded but has no effect on recommendations.
const (
	FeedbackDislike = "dislike"
	FeedbackLike    = "like"
	FeedbackSkip    = "skip"
)

// SwitchEvent is emitted every time the playing track for a user changes.
type SwitchEvent struct {
	UserID       string    `json:"user_id"`
	TrackID      string    `json:"track_id"`
	TrackName    string    `json:"track_name"`
	Artists      string    `json:"artists"`
	Energy       float64   `json:"energy"`
	Danceability float64   `json:"danceability"`
	Tempo        float64   `json:"tempo"`
	Valence      float64   `json:"valence"`
	HeartRate    int       `json:"hr"`
	Timestamp    time.Time `json:"timestamp"`
	Forced       bool      `json:"forced"`
}

// NewSwitchEvent builds the outbound event for a realized switch.
func NewSwitchEvent(userID string, t Track, hr int, at time.Time, forced bool) SwitchEvent {
	return SwitchEvent{
		UserID:       userID,
		TrackID:      t.ID,
		TrackName:    t.Name,
		Artists:      t.ArtistsText(),
		Energy:       t.Features.Energy,
		Danceability: t.Features.Danceability,
		Tempo:        t.Features.Tempo,
		Valence:      t.Features.Valence,
		HeartRate:    hr,
		Timestamp:    at,
		Forced:       forced,
	}
}

// FeedbackEvent records explicit user feedback about a track.
type FeedbackEvent struct {
	ID        string            `json:"id"`
	EventType string            `json:"event_type"`
	TrackID   string            `json:"track_id,omitempty"`
	UserID    string            `json:"user_id"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ArchiveRecord is one sample inside an archival batch.
type ArchiveRecord struct {
	HeartRate int     `json:"hr"`
	Timestamp float64 `json:"timestamp"`
}

// ArchiveBatch is the blob uploaded to object storage for a flushed batch.
type ArchiveBatch struct {
	SessionID string          `json:"session_id"`
	Records   []ArchiveRecord `json:"records"`
}
