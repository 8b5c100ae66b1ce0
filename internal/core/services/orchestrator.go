package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/core/recommend"
	"github.com/ewilliams-labs/cadence/internal/logging"
	"github.com/ewilliams-labs/cadence/internal/metrics"
)

// Settings are the tunables the orchestrator reads once at construction.
type Settings struct {
	DefaultUserID        string
	DefaultRestHR        int
	DefaultMaxHR         int
	HistorySize          int
	MinTrackDuration     time.Duration
	RecommendationPrefix string
	FeedbackPrefix       string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithBroadcaster sets the live-update sink.
func WithBroadcaster(b ports.Broadcaster) Option {
	return func(o *Orchestrator) { o.broadcaster = b }
}

// WithArtifactStore enables JSON artifacts for switches and feedback.
func WithArtifactStore(s ports.ArtifactStore) Option {
	return func(o *Orchestrator) { o.artifacts = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator turns telemetry and feedback into track switches.
type Orchestrator struct {
	catalog     ports.Catalog
	engine      *recommend.Engine
	repo        ports.Repository
	sessions    *SessionRegistry
	policy      SwitchPolicy
	broadcaster ports.Broadcaster
	artifacts   ports.ArtifactStore
	settings    Settings
	now         func() time.Time
	log         zerolog.Logger

	latestMu sync.RWMutex
	latestHR int
	latestAt time.Time
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(catalog ports.Catalog, engine *recommend.Engine, repo ports.Repository, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:     catalog,
		engine:      engine,
		repo:        repo,
		policy:      SwitchPolicy{MinTrackDuration: settings.MinTrackDuration},
		broadcaster: noopBroadcaster{},
		settings:    settings,
		now:         time.Now,
		log:         logging.Component("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.sessions = NewSessionRegistry(settings.HistorySize, repo.Blacklist, o.log)
	return o
}

// Sessions exposes the registry for connection tracking.
func (o *Orchestrator) Sessions() *SessionRegistry {
	return o.sessions
}

// HandleTelemetry records a sample and re-evaluates every affected user.
// A sample without a user id fans out to the connected users, or to the
// default user when nobody is connected.
func (o *Orchestrator) HandleTelemetry(ctx context.Context, sample domain.TelemetrySample) error {
	if sample.HeartRate <= 0 {
		return fmt.Errorf("service: %w: %d", domain.ErrInvalidHeartRate, sample.HeartRate)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = o.now()
	}

	// only the shared sensor feeds catch-up and replay; tagged samples stay with their user
	if sample.UserID == "" {
		o.latestMu.Lock()
		o.latestHR, o.latestAt = sample.HeartRate, sample.Timestamp
		o.latestMu.Unlock()
	}

	if err := o.repo.AppendTelemetry(ctx, sample); err != nil {
		o.sideEffectFailed("sqlite", err, "append telemetry")
	}
	o.broadcaster.BroadcastHeartRate(sample.UserID, sample.HeartRate, sample.Timestamp)

	for _, userID := range o.targets(sample.UserID) {
		if err := o.ObserveHR(ctx, userID, sample.HeartRate, sample.Timestamp); err != nil {
			o.log.Warn().Err(err).Str("user_id", userID).Msg("observe failed, skipping user")
			continue
		}
		if _, _, err := o.Evaluate(ctx, userID, false); err != nil && !errors.Is(err, domain.ErrNoRecommendation) {
			o.log.Warn().Err(err).Str("user_id", userID).Msg("evaluate failed, skipping user")
		}
	}
	return nil
}

func (o *Orchestrator) targets(userID string) []string {
	if userID != "" {
		return []string{userID}
	}
	if active := o.sessions.Active(); len(active) > 0 {
		return active
	}
	return []string{o.settings.DefaultUserID}
}

// ObserveHR appends a sample to the user's history window.
func (o *Orchestrator) ObserveHR(ctx context.Context, userID string, hr int, at time.Time) error {
	if hr <= 0 {
		return fmt.Errorf("service: %w: %d", domain.ErrInvalidHeartRate, hr)
	}
	return o.sessions.With(ctx, o.resolveUser(userID), func(s *domain.SessionState) error {
		s.Observe(hr, at)
		return nil
	})
}

// Recommend previews the best track for a user without switching.
// A user who has not seen the latest sample observes it first.
func (o *Orchestrator) Recommend(ctx context.Context, userID string) (domain.Track, error) {
	userID = o.resolveUser(userID)
	profile := o.Profile(ctx, userID)

	var (
		track domain.Track
		ok    bool
	)
	o.latestMu.RLock()
	hr, at := o.latestHR, o.latestAt
	o.latestMu.RUnlock()

	_ = o.sessions.With(ctx, userID, func(s *domain.SessionState) error {
		// users who missed the fan-out catch up on the latest shared sample
		if hr > 0 && s.LastSample.Before(at) {
			s.Observe(hr, at)
		}
		track, ok = o.pick(profile, s, nil)
		return nil
	})
	if !ok {
		return domain.Track{}, domain.ErrNoRecommendation
	}
	return track, nil
}

// Evaluate recommends a track for the user and applies the switch policy.
// It returns the recommended track and, when a switch happened, the emitted event.
func (o *Orchestrator) Evaluate(ctx context.Context, userID string, force bool) (domain.Track, *domain.SwitchEvent, error) {
	userID = o.resolveUser(userID)
	profile := o.Profile(ctx, userID)

	var (
		track domain.Track
		ev    *domain.SwitchEvent
		ok    bool
	)
	_ = o.sessions.With(ctx, userID, func(s *domain.SessionState) error {
		track, ok = o.pick(profile, s, nil)
		if !ok {
			return nil
		}
		now := o.now()
		if !o.policy.ShouldSwitch(s, track, now, force) {
			return nil
		}
		s.SwitchTo(track, now)
		e := domain.NewSwitchEvent(userID, track, s.LastHR, now, force)
		ev = &e
		return nil
	})
	if !ok {
		return domain.Track{}, nil, domain.ErrNoRecommendation
	}
	if ev != nil {
		o.emitSwitch(ctx, *ev)
	}
	return track, ev, nil
}

// pick runs the engine against a snapshot of s. Callers hold the session lock.
func (o *Orchestrator) pick(profile domain.UserProfile, s *domain.SessionState, exclude map[string]struct{}) (domain.Track, bool) {
	start := time.Now()
	defer func() { metrics.ObserveRecommendation(time.Since(start)) }()

	return o.engine.Recommend(o.catalog, recommend.Request{
		Profile:    profile,
		History:    s.History.Values(),
		Current:    s.Current,
		Blacklist:  s.Blacklist,
		Exclude:    exclude,
		Preference: s.Preference,
	})
}

func (o *Orchestrator) emitSwitch(ctx context.Context, ev domain.SwitchEvent) {
	metrics.RecordSwitch(ev.Forced)
	o.log.Info().
		Str("user_id", ev.UserID).
		Str("track_id", ev.TrackID).
		Int("hr", ev.HeartRate).
		Bool("forced", ev.Forced).
		Msg("track switched")

	if err := o.repo.AppendRecommendation(ctx, ev); err != nil {
		o.sideEffectFailed("sqlite", err, "append recommendation")
	}
	if o.artifacts != nil {
		key := artifactKey(o.settings.RecommendationPrefix, ev.UserID, ev.Timestamp, ev.TrackID)
		if err := o.artifacts.PutJSON(ctx, key, ev); err != nil {
			o.sideEffectFailed("artifact", err, "store recommendation artifact")
		}
	}
	o.broadcaster.BroadcastTrack(ev)
}

// FeedbackRequest is an inbound feedback submission.
type FeedbackRequest struct {
	EventType string
	TrackID   string
	UserID    string
	Metadata  map[string]string
}

// FeedbackResult carries the stored event and, for dislikes, the follow-up recommendation.
type FeedbackResult struct {
	Event    domain.FeedbackEvent
	Track    *domain.Track
	Switched *domain.SwitchEvent
}

// RecordFeedback stores a feedback event and applies its effect.
// A dislike blacklists the track and forces a new recommendation; a like
// folds the track into the user's preference vector.
func (o *Orchestrator) RecordFeedback(ctx context.Context, req FeedbackRequest) (FeedbackResult, error) {
	eventType := strings.ToLower(strings.TrimSpace(req.EventType))
	if eventType == "" {
		return FeedbackResult{}, fmt.Errorf("service: %w: event_type is required", domain.ErrInvalidFeedback)
	}
	userID := o.resolveUser(req.UserID)

	meta := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["user_id"] = userID

	ev := domain.FeedbackEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		TrackID:   req.TrackID,
		UserID:    userID,
		Timestamp: o.now(),
		Metadata:  meta,
	}
	metrics.FeedbackEvents.WithLabelValues(eventType).Inc()

	if err := o.repo.AppendFeedback(ctx, ev); err != nil {
		o.sideEffectFailed("sqlite", err, "append feedback")
	}
	if o.artifacts != nil {
		key := artifactKey(o.settings.FeedbackPrefix, userID, ev.Timestamp, eventType)
		if err := o.artifacts.PutJSON(ctx, key, ev); err != nil {
			o.sideEffectFailed("artifact", err, "store feedback artifact")
		}
	}
	o.broadcaster.BroadcastFeedback(ev)

	result := FeedbackResult{Event: ev}
	switch eventType {
	case domain.FeedbackDislike:
		if req.TrackID != "" {
			if err := o.repo.AddToBlacklist(ctx, userID, req.TrackID, ev.Timestamp); err != nil {
				o.sideEffectFailed("sqlite", err, "persist blacklist")
			}
			_ = o.sessions.With(ctx, userID, func(s *domain.SessionState) error {
				s.AddToBlacklist(req.TrackID)
				return nil
			})
		}
		track, sw, err := o.Evaluate(ctx, userID, true)
		if err == nil {
			result.Track = &track
			result.Switched = sw
		} else if !errors.Is(err, domain.ErrNoRecommendation) {
			return result, err
		}
	case domain.FeedbackLike:
		if t, ok := o.catalog.Lookup(req.TrackID); ok {
			_ = o.sessions.With(ctx, userID, func(s *domain.SessionState) error {
				s.Like(t)
				return nil
			})
		}
	}
	return result, nil
}

// Profile returns the stored profile or the configured defaults.
func (o *Orchestrator) Profile(ctx context.Context, userID string) domain.UserProfile {
	userID = o.resolveUser(userID)
	p, err := o.repo.GetProfile(ctx, userID)
	if err == nil {
		return p
	}
	if !errors.Is(err, domain.ErrNotFound) {
		o.log.Warn().Err(err).Str("user_id", userID).Msg("profile lookup failed, using defaults")
	}
	return domain.UserProfile{
		UserID: userID,
		RestHR: o.settings.DefaultRestHR,
		MaxHR:  o.settings.DefaultMaxHR,
	}
}

// SaveProfile validates and stores a profile.
func (o *Orchestrator) SaveProfile(ctx context.Context, p domain.UserProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := o.repo.SaveProfile(ctx, p); err != nil {
		return fmt.Errorf("service: save profile: %w", err)
	}
	return nil
}

// Connect marks a live client for userID and returns the resolved user.
// Samples without a user id fan out to connected users.
func (o *Orchestrator) Connect(userID string) string {
	userID = o.resolveUser(userID)
	o.sessions.Activate(userID)
	metrics.ConnectedUsers.Set(float64(len(o.sessions.Active())))
	return userID
}

// Disconnect releases one Connect call.
func (o *Orchestrator) Disconnect(userID string) {
	o.sessions.Deactivate(o.resolveUser(userID))
	metrics.ConnectedUsers.Set(float64(len(o.sessions.Active())))
}

// Snapshot is the state replayed to a client when it connects.
type Snapshot struct {
	HeartRate   int
	HeartRateAt time.Time
	Track       *domain.SwitchEvent
}

// Snapshot returns the latest heart rate and the user's current track.
func (o *Orchestrator) Snapshot(ctx context.Context, userID string) Snapshot {
	userID = o.resolveUser(userID)

	o.latestMu.RLock()
	snap := Snapshot{HeartRate: o.latestHR, HeartRateAt: o.latestAt}
	o.latestMu.RUnlock()

	_ = o.sessions.With(ctx, userID, func(s *domain.SessionState) error {
		if s.LastHR > 0 && !s.LastSample.Before(snap.HeartRateAt) {
			snap.HeartRate, snap.HeartRateAt = s.LastHR, s.LastSample
		}
		if s.Current != nil {
			ev := domain.NewSwitchEvent(userID, *s.Current, s.LastHR, s.LastSwitch, false)
			snap.Track = &ev
		}
		return nil
	})
	return snap
}

func (o *Orchestrator) resolveUser(userID string) string {
	if userID = strings.TrimSpace(userID); userID != "" {
		return userID
	}
	return o.settings.DefaultUserID
}

func (o *Orchestrator) sideEffectFailed(target string, err error, what string) {
	metrics.SideEffectErrors.WithLabelValues(target).Inc()
	o.log.Warn().Err(err).Str("target", target).Msg(what)
}

// artifactKey builds prefix/user/epoch_ms_suffix.json.
func artifactKey(prefix, userID string, at time.Time, suffix string) string {
	if userID == "" {
		userID = "unknown"
	}
	if suffix == "" {
		suffix = "unknown"
	}
	return fmt.Sprintf("%s/%s/%d_%s.json", strings.TrimSuffix(prefix, "/"), userID, at.UnixMilli(), suffix)
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastHeartRate(string, int, time.Time) {}
func (noopBroadcaster) BroadcastTrack(domain.SwitchEvent)         {}
func (noopBroadcaster) BroadcastFeedback(domain.FeedbackEvent)    {}
