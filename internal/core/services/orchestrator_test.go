package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/cadence/internal/catalog"
	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/recommend"
)

var testSettings = Settings{
	DefaultUserID:        "demo-user",
	DefaultRestHR:        60,
	DefaultMaxHR:         190,
	HistorySize:          60,
	MinTrackDuration:     30 * time.Second,
	RecommendationPrefix: "recommendations",
	FeedbackPrefix:       "feedback",
}

func testTrack(id string, energy float64) domain.Track {
	return domain.NewTrack(id, "Song "+id, []string{"Artist " + id}, domain.AudioFeatures{
		Energy: energy, Danceability: 0.5, Tempo: 120, Valence: 0.5,
	})
}

type fixture struct {
	orch   *Orchestrator
	repo   *mockRepo
	bcast  *mockBroadcaster
	store  *mockArtifacts
	clock  *fakeClock
	tracks []domain.Track
}

func newFixture(t *testing.T, tracks ...domain.Track) *fixture {
	t.Helper()
	f := &fixture{
		repo:   newMockRepo(),
		bcast:  &mockBroadcaster{},
		store:  &mockArtifacts{},
		clock:  &fakeClock{now: time.Unix(1_700_000_000, 0)},
		tracks: tracks,
	}
	f.orch = NewOrchestrator(
		catalog.NewStore(tracks),
		recommend.NewEngine(recommend.StrategyScored),
		f.repo,
		testSettings,
		WithBroadcaster(f.bcast),
		WithArtifactStore(f.store),
		WithClock(f.clock.Now),
		WithLogger(zerolog.Nop()),
	)
	return f
}

// TestSwitchPolicy_ShouldSwitch verifies the debounce transitions.
func TestSwitchPolicy_ShouldSwitch(t *testing.T) {
	base := time.Unix(1000, 0)
	cur := testTrack("cur", 0.5)
	other := testTrack("other", 0.5)
	policy := SwitchPolicy{MinTrackDuration: 30 * time.Second}

	tests := []struct {
		name      string
		current   *domain.Track
		candidate domain.Track
		elapsed   time.Duration
		force     bool
		want      bool
	}{
		{name: "no track always switches", current: nil, candidate: other, want: true},
		{name: "same track never switches", current: &cur, candidate: cur, elapsed: time.Hour, force: true, want: false},
		{name: "too soon", current: &cur, candidate: other, elapsed: 29 * time.Second, want: false},
		{name: "exactly at threshold", current: &cur, candidate: other, elapsed: 30 * time.Second, want: true},
		{name: "forced before threshold", current: &cur, candidate: other, elapsed: time.Second, force: true, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := domain.NewSessionState("u1", 4)
			if tc.current != nil {
				s.SwitchTo(*tc.current, base)
			}
			if got := policy.ShouldSwitch(s, tc.candidate, base.Add(tc.elapsed), tc.force); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

// TestOrchestrator_HandleTelemetry verifies the first sample starts playback and persists everything.
func TestOrchestrator_HandleTelemetry(t *testing.T) {
	f := newFixture(t, testTrack("low", 0.1), testTrack("high", 0.7))
	ctx := context.Background()

	err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: 150, Timestamp: f.clock.Now(), UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.repo.telemetry) != 1 {
		t.Fatalf("expected one telemetry row, got %d", len(f.repo.telemetry))
	}
	if len(f.repo.recommendations) != 1 || f.repo.recommendations[0].TrackID != "high" {
		t.Fatalf("expected switch to high, got %+v", f.repo.recommendations)
	}
	if f.repo.recommendations[0].HeartRate != 150 {
		t.Fatalf("switch event hr: got %d", f.repo.recommendations[0].HeartRate)
	}
	if len(f.bcast.tracks) != 1 || len(f.bcast.hrs) != 1 {
		t.Fatalf("broadcasts: tracks=%d hrs=%d", len(f.bcast.tracks), len(f.bcast.hrs))
	}
	wantKey := "recommendations/u1/1700000000000_high.json"
	if len(f.store.keys) != 1 || f.store.keys[0] != wantKey {
		t.Fatalf("artifact keys: got %v, want %s", f.store.keys, wantKey)
	}
}

// TestOrchestrator_Debounce verifies at most one switch per minimum duration.
func TestOrchestrator_Debounce(t *testing.T) {
	f := newFixture(t, testTrack("calm", 0.1), testTrack("hard", 0.9))
	ctx := context.Background()
	send := func(hr int) {
		t.Helper()
		if err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: hr, Timestamp: f.clock.Now(), UserID: "u1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	send(70) // calm
	f.clock.Advance(5 * time.Second)
	for i := 0; i < 10; i++ {
		send(185)
	}
	if got := len(f.repo.recommendations); got != 1 {
		t.Fatalf("expected debounce to hold one switch, got %d", got)
	}

	f.clock.Advance(30 * time.Second)
	send(185)
	if got := len(f.repo.recommendations); got != 2 {
		t.Fatalf("expected switch after min duration, got %d", got)
	}
	if f.repo.recommendations[1].TrackID != "hard" {
		t.Fatalf("expected hard, got %s", f.repo.recommendations[1].TrackID)
	}
}

// TestOrchestrator_DislikeForcesSwitch verifies a dislike blacklists and switches immediately.
func TestOrchestrator_DislikeForcesSwitch(t *testing.T) {
	f := newFixture(t, testTrack("a", 0.7), testTrack("b", 0.6), testTrack("c", 0.1))
	ctx := context.Background()

	if err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: 150, Timestamp: f.clock.Now(), UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Second)

	res, err := f.orch.RecordFeedback(ctx, FeedbackRequest{EventType: "dislike", TrackID: "a", UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Switched == nil || !res.Switched.Forced || res.Switched.TrackID == "a" {
		t.Fatalf("expected forced switch away from a, got %+v", res.Switched)
	}
	if res.Event.ID == "" || res.Event.Metadata["user_id"] != "u1" {
		t.Fatalf("event not populated: %+v", res.Event)
	}
	if got := f.repo.blacklist["u1"]; len(got) != 1 || got[0] != "a" {
		t.Fatalf("persisted blacklist: got %v", got)
	}
	if len(f.repo.feedback) != 1 || len(f.bcast.feedback) != 1 {
		t.Fatalf("feedback side effects: rows=%d broadcasts=%d", len(f.repo.feedback), len(f.bcast.feedback))
	}

	// a never comes back regardless of heart rate
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Minute)
		if err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: 151 + i, Timestamp: f.clock.Now(), UserID: "u1"}); err != nil {
			t.Fatal(err)
		}
	}
	for _, ev := range f.repo.recommendations[1:] {
		if ev.TrackID == "a" {
			t.Fatal("blacklisted track was recommended again")
		}
	}
}

// TestOrchestrator_FanOut verifies samples without a user reach active users or the default user.
func TestOrchestrator_FanOut(t *testing.T) {
	tests := []struct {
		name   string
		active []string
		want   []string
	}{
		{name: "no active users", active: nil, want: []string{"demo-user"}},
		{name: "active users", active: []string{"u2", "u1"}, want: []string{"u1", "u2"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testTrack("a", 0.5))
			for _, id := range tc.active {
				f.orch.Sessions().Activate(id)
			}
			if err := f.orch.HandleTelemetry(context.Background(), domain.TelemetrySample{HeartRate: 120, Timestamp: f.clock.Now()}); err != nil {
				t.Fatal(err)
			}
			if len(f.repo.recommendations) != len(tc.want) {
				t.Fatalf("expected %d switches, got %d", len(tc.want), len(f.repo.recommendations))
			}
			for i, ev := range f.repo.recommendations {
				if ev.UserID != tc.want[i] {
					t.Fatalf("switch %d: got user %s, want %s", i, ev.UserID, tc.want[i])
				}
			}
		})
	}
}

// TestOrchestrator_EmptyState verifies "none" outcomes are not errors for telemetry.
func TestOrchestrator_EmptyState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Recommend(ctx, "u1"); !errors.Is(err, domain.ErrNoRecommendation) {
		t.Fatalf("expected ErrNoRecommendation, got %v", err)
	}
	if err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: 100, Timestamp: f.clock.Now(), UserID: "u1"}); err != nil {
		t.Fatalf("empty catalog must not fail telemetry: %v", err)
	}
	if len(f.repo.recommendations) != 0 {
		t.Fatalf("expected no switches, got %d", len(f.repo.recommendations))
	}
	if err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: 0}); !errors.Is(err, domain.ErrInvalidHeartRate) {
		t.Fatalf("expected ErrInvalidHeartRate, got %v", err)
	}
}

// TestOrchestrator_SideEffectFailuresAreTransient verifies storage errors never abort a decision.
func TestOrchestrator_SideEffectFailuresAreTransient(t *testing.T) {
	f := newFixture(t, testTrack("a", 0.5))
	f.repo.appendErr = errors.New("disk full")
	f.store.err = errors.New("bucket offline")

	if err := f.orch.HandleTelemetry(context.Background(), domain.TelemetrySample{HeartRate: 120, UserID: "u1"}); err != nil {
		t.Fatalf("expected transient failures to be swallowed, got %v", err)
	}
	if len(f.bcast.tracks) != 1 {
		t.Fatalf("expected switch to be broadcast, got %d", len(f.bcast.tracks))
	}
}

// TestOrchestrator_HydratesBlacklist verifies persisted dislikes apply to new sessions.
func TestOrchestrator_HydratesBlacklist(t *testing.T) {
	f := newFixture(t, testTrack("a", 0.7), testTrack("b", 0.1))
	f.repo.blacklist["u1"] = []string{"a"}

	track, err := func() (domain.Track, error) {
		if err := f.orch.ObserveHR(context.Background(), "u1", 150, f.clock.Now()); err != nil {
			return domain.Track{}, err
		}
		return f.orch.Recommend(context.Background(), "u1")
	}()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if track.ID != "b" {
		t.Fatalf("expected hydrated blacklist to exclude a, got %s", track.ID)
	}
}

// TestOrchestrator_LikeBuildsPreference verifies likes feed the preference vector.
func TestOrchestrator_LikeBuildsPreference(t *testing.T) {
	liked := testTrack("liked", 0.3)
	f := newFixture(t, liked)
	ctx := context.Background()

	if _, err := f.orch.RecordFeedback(ctx, FeedbackRequest{EventType: "Like", TrackID: "liked", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	var pref *domain.FeatureVector
	_ = f.orch.Sessions().With(ctx, "u1", func(s *domain.SessionState) error {
		pref = s.Preference
		return nil
	})
	if pref == nil || *pref != liked.FeatureVector() {
		t.Fatalf("preference: got %v, want %v", pref, liked.FeatureVector())
	}
	if f.store.keys[0] != "feedback/u1/1700000000000_like.json" {
		t.Fatalf("feedback artifact key: got %s", f.store.keys[0])
	}
}

// TestOrchestrator_RecordFeedbackValidation verifies required fields.
func TestOrchestrator_RecordFeedbackValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.RecordFeedback(context.Background(), FeedbackRequest{EventType: "  "}); !errors.Is(err, domain.ErrInvalidFeedback) {
		t.Fatalf("expected ErrInvalidFeedback, got %v", err)
	}
}

// TestOrchestrator_Profile verifies default fallback and validation.
func TestOrchestrator_Profile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got := f.orch.Profile(ctx, "")
	if got.UserID != "demo-user" || got.RestHR != 60 || got.MaxHR != 190 {
		t.Fatalf("default profile: got %+v", got)
	}

	if err := f.orch.SaveProfile(ctx, domain.UserProfile{UserID: "u1", RestHR: 90, MaxHR: 80}); !errors.Is(err, domain.ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
	if err := f.orch.SaveProfile(ctx, domain.UserProfile{UserID: "u1", RestHR: 50, MaxHR: 180}); err != nil {
		t.Fatal(err)
	}
	if got := f.orch.Profile(ctx, "u1"); got.RestHR != 50 {
		t.Fatalf("stored profile: got %+v", got)
	}
}

// TestOrchestrator_Snapshot verifies the replay state for new connections.
func TestOrchestrator_Snapshot(t *testing.T) {
	f := newFixture(t, testTrack("a", 0.5))
	ctx := context.Background()

	if snap := f.orch.Snapshot(ctx, "u1"); snap.HeartRate != 0 || snap.Track != nil {
		t.Fatalf("empty snapshot: got %+v", snap)
	}
	if err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: 130, Timestamp: f.clock.Now(), UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	snap := f.orch.Snapshot(ctx, "u1")
	if snap.HeartRate != 130 || snap.Track == nil || snap.Track.TrackID != "a" {
		t.Fatalf("snapshot: got %+v", snap)
	}
}

// TestOrchestrator_RecommendCatchesUp verifies a user outside the fan-out
// sees the latest shared sample when asking for a recommendation.
func TestOrchestrator_RecommendCatchesUp(t *testing.T) {
	f := newFixture(t, testTrack("a", 0.5))
	ctx := context.Background()

	if err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: 110, Timestamp: f.clock.Now()}); err != nil {
		t.Fatal(err)
	}
	track, err := f.orch.Recommend(ctx, "late-user")
	if err != nil {
		t.Fatalf("expected a recommendation, got %v", err)
	}
	if track.ID != "a" {
		t.Fatalf("got track %s", track.ID)
	}
	if snap := f.orch.Snapshot(ctx, "late-user"); snap.HeartRate != 110 {
		t.Fatalf("expected caught-up heart rate 110, got %d", snap.HeartRate)
	}
}

// TestOrchestrator_TaggedSamplesStayWithTheirUser verifies one user's sample
// never reaches another user's history or websocket replay.
func TestOrchestrator_TaggedSamplesStayWithTheirUser(t *testing.T) {
	f := newFixture(t, testTrack("low", 0.1), testTrack("high", 0.95))
	ctx := context.Background()

	if err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: 65, Timestamp: f.clock.Now(), UserID: "bob"}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Second)
	if err := f.orch.HandleTelemetry(ctx, domain.TelemetrySample{HeartRate: 185, Timestamp: f.clock.Now(), UserID: "alice"}); err != nil {
		t.Fatal(err)
	}

	track, err := f.orch.Recommend(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if track.ID != "low" {
		t.Fatalf("bob at rest should get the low energy track, got %s", track.ID)
	}

	var history []int
	_ = f.orch.Sessions().With(ctx, "bob", func(s *domain.SessionState) error {
		history = s.History.Values()
		return nil
	})
	if len(history) != 1 || history[0] != 65 {
		t.Fatalf("bob history: got %v, want [65]", history)
	}

	tests := []struct {
		user string
		want int
	}{
		{user: "bob", want: 65},
		{user: "alice", want: 185},
		{user: "carol", want: 0},
	}
	for _, tc := range tests {
		if snap := f.orch.Snapshot(ctx, tc.user); snap.HeartRate != tc.want {
			t.Fatalf("%s snapshot heart rate: got %d, want %d", tc.user, snap.HeartRate, tc.want)
		}
	}
}

// TestOrchestrator_ConnectDisconnect verifies connected users drive the fan-out.
func TestOrchestrator_ConnectDisconnect(t *testing.T) {
	f := newFixture(t, testTrack("a", 0.5))

	if got := f.orch.Connect(""); got != "demo-user" {
		t.Fatalf("empty user resolves to default, got %q", got)
	}
	f.orch.Connect("u1")
	f.orch.Connect("u1")
	f.orch.Disconnect("u1")

	active := f.orch.Sessions().Active()
	if len(active) != 2 || active[0] != "demo-user" || active[1] != "u1" {
		t.Fatalf("active: got %v", active)
	}

	f.orch.Disconnect("u1")
	f.orch.Disconnect("")
	if active := f.orch.Sessions().Active(); len(active) != 0 {
		t.Fatalf("expected no active users, got %v", active)
	}
}

// --- Mocks ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockRepo is an in-memory ports.Repository.
type mockRepo struct {
	mu              sync.Mutex
	appendErr       error
	telemetry       []domain.TelemetrySample
	recommendations []domain.SwitchEvent
	feedback        []domain.FeedbackEvent
	profiles        map[string]domain.UserProfile
	blacklist       map[string][]string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		profiles:  make(map[string]domain.UserProfile),
		blacklist: make(map[string][]string),
	}
}

func (m *mockRepo) AppendTelemetry(ctx context.Context, s domain.TelemetrySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.telemetry = append(m.telemetry, s)
	return nil
}

func (m *mockRepo) AppendRecommendation(ctx context.Context, ev domain.SwitchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.recommendations = append(m.recommendations, ev)
	return nil
}

func (m *mockRepo) AppendFeedback(ctx context.Context, ev domain.FeedbackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.feedback = append(m.feedback, ev)
	return nil
}

func (m *mockRepo) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return domain.UserProfile{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) SaveProfile(ctx context.Context, p domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

func (m *mockRepo) Blacklist(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.blacklist[userID]...), nil
}

func (m *mockRepo) AddToBlacklist(ctx context.Context, userID, trackID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[userID] = append(m.blacklist[userID], trackID)
	return nil
}

type mockBroadcaster struct {
	mu       sync.Mutex
	hrs      []int
	tracks   []domain.SwitchEvent
	feedback []domain.FeedbackEvent
}

func (m *mockBroadcaster) BroadcastHeartRate(userID string, hr int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hrs = append(m.hrs, hr)
}

func (m *mockBroadcaster) BroadcastTrack(ev domain.SwitchEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, ev)
}

func (m *mockBroadcaster) BroadcastFeedback(ev domain.FeedbackEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, ev)
}

type mockArtifacts struct {
	mu   sync.Mutex
	err  error
	keys []string
}

func (m *mockArtifacts) PutJSON(ctx context.Context, key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, key)
	return nil
}
