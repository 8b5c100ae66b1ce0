package recommend

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// Strategy selects how a candidate is picked from the scored catalog.
type Strategy string

const (
	// StrategyScored picks the highest combined score; ties go to the earliest catalog entry.
	StrategyScored Strategy = "scored"
	// StrategyExplore draws a random track weighted by energy alignment.
	StrategyExplore Strategy = "explore"
	// StrategyAuto scores when a preference vector exists and explores otherwise.
	StrategyAuto Strategy = "auto"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyScored, StrategyExplore, StrategyAuto:
		return st, nil
	case "":
		return StrategyScored, nil
	default:
		return "", fmt.Errorf("recommend: unknown strategy %q", s)
	}
}

// Request is a snapshot of everything the engine needs about one user.
// It is built under the session lock and is not retained by the engine.
type Request struct {
	Profile    domain.UserProfile
	History    []int
	Current    *domain.Track
	Blacklist  map[string]struct{}
	Exclude    map[string]struct{}
	Preference *domain.FeatureVector
}

// Target is the derived goal a candidate is compared against.
type Target struct {
	Intensity    float64
	Valence      float64
	Danceability float64
	Vector       domain.FeatureVector
	Artists      map[string]struct{}
	Preference   *domain.FeatureVector
}

// NewTarget derives the target from the history and the current track.
// Without a current track the valence, danceability and tempo defaults apply.
func NewTarget(req Request) Target {
	intensity := AdjustedIntensity(req.Profile, req.History)
	t := Target{
		Intensity:    intensity,
		Valence:      domain.DefaultValence,
		Danceability: domain.DefaultDanceability,
		Preference:   req.Preference,
	}
	tempo := domain.DefaultTempo
	if req.Current != nil {
		t.Valence = req.Current.Features.Valence
		t.Danceability = req.Current.Features.Danceability
		tempo = req.Current.Features.Tempo
		t.Artists = req.Current.ArtistSet()
	}
	t.Vector = domain.FeatureVector{t.Danceability, intensity, tempo / domain.TempoScale, t.Valence}
	return t
}

// Breakdown holds the individual similarity terms for a candidate.
type Breakdown struct {
	Energy     float64
	Artist     float64
	Preference float64
	Valence    float64
	Dance      float64
	Feature    float64
}

// Total combines the terms with the fixed weights.
func (b Breakdown) Total() float64 {
	return WeightEnergy*b.Energy +
		WeightArtist*b.Artist +
		WeightPreference*b.Preference +
		WeightValence*b.Valence +
		WeightDance*b.Dance +
		WeightFeature*b.Feature
}

// Score evaluates a single candidate against the target.
func Score(t domain.Track, target Target) Breakdown {
	pref := NeutralSimilarity
	if target.Preference != nil {
		pref = InverseDistance(t.FeatureVector(), *target.Preference)
	}
	return Breakdown{
		Energy:     EnergyAlignment(t.Features.Energy, target.Intensity),
		Artist:     ArtistSimilarity(target.Artists, t.ArtistSet()),
		Preference: pref,
		Valence:    Closeness(t.Features.Valence, target.Valence),
		Dance:      Closeness(t.Features.Danceability, target.Danceability),
		Feature:    InverseDistance(t.FeatureVector(), target.Vector),
	}
}

// Engine picks the next track for a session. The scored strategy is a pure
// function of its inputs; the explore strategy consumes the engine's random source.
type Engine struct {
	strategy Strategy

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand replaces the random source used by the explore strategy.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// NewEngine constructs an Engine for the given strategy.
func NewEngine(strategy Strategy, opts ...Option) *Engine {
	e := &Engine{
		strategy: strategy,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strategy reports the configured strategy.
func (e *Engine) Strategy() Strategy { return e.strategy }

// Recommend returns the chosen track, or false when the history is empty, the
// catalog is empty, or every candidate is excluded.
func (e *Engine) Recommend(catalog ports.Catalog, req Request) (domain.Track, bool) {
	if len(req.History) == 0 || catalog == nil || catalog.Len() == 0 {
		return domain.Track{}, false
	}
	target := NewTarget(req)
	candidates := eligible(catalog.Tracks(), req)
	if len(candidates) == 0 {
		return domain.Track{}, false
	}

	switch e.strategy {
	case StrategyExplore:
		return e.explore(candidates, target), true
	case StrategyAuto:
		if req.Preference == nil {
			return e.explore(candidates, target), true
		}
	}
	return best(candidates, target), true
}

func eligible(tracks []domain.Track, req Request) []domain.Track {
	out := make([]domain.Track, 0, len(tracks))
	for _, t := range tracks {
		if _, banned := req.Blacklist[t.ID]; banned {
			continue
		}
		if _, skip := req.Exclude[t.ID]; skip {
			continue
		}
		out = append(out, t)
	}
	return out
}

func best(candidates []domain.Track, target Target) domain.Track {
	bestIdx := 0
	bestScore := -1.0
	for i, t := range candidates {
		// strict comparison keeps the earliest track on ties
		if s := Score(t, target).Total(); s > bestScore {
			bestIdx, bestScore = i, s
		}
	}
	return candidates[bestIdx]
}
