package domain

import (
	"math"
	"strings"
)

// Defaults substituted when a catalog row is missing or carries an invalid value.
const (
	DefaultEnergy       = 0.5
	DefaultDanceability = 0.5
	DefaultTempo        = 120.0
	DefaultValence      = 0.5

	// TempoScale normalizes BPM into the feature vector's tempo slot.
	TempoScale = 200.0
)

// FeatureVector is the 4-dimensional summary [danceability, energy, tempo/200, valence].
type FeatureVector [4]float64

// Slice returns the vector as a slice for numeric helpers.
func (v FeatureVector) Slice() []float64 {
	return v[:]
}

// AudioFeatures are the per-track numeric descriptors used for scoring.
type AudioFeatures struct {
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`
	Tempo        float64 `json:"tempo"`
	Valence      float64 `json:"valence"`
}

// Vector builds the feature vector for these features.
func (f AudioFeatures) Vector() FeatureVector {
	return FeatureVector{f.Danceability, f.Energy, f.Tempo / TempoScale, f.Valence}
}

// Track represents an immutable catalog entry.
// Construct with NewTrack so defaults, bounds and the feature vector are applied.
type Track struct {
	ID       string
	Name     string
	Artists  []string
	Features AudioFeatures

	artistSet map[string]struct{}
	vector    FeatureVector
}

// NewTrack normalizes raw values into a Track. Non-finite numbers fall back to
// defaults and unit-range features are clamped to [0,1].
func NewTrack(id, name string, artists []string, features AudioFeatures) Track {
	cleaned := make([]string, 0, len(artists))
	set := make(map[string]struct{}, len(artists))
	for _, a := range artists {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := set[a]; dup {
			continue
		}
		set[a] = struct{}{}
		cleaned = append(cleaned, a)
	}

	if strings.TrimSpace(name) == "" {
		name = "Unknown track"
	}

	f := AudioFeatures{
		Energy:       unitOrDefault(features.Energy, DefaultEnergy),
		Danceability: unitOrDefault(features.Danceability, DefaultDanceability),
		Tempo:        tempoOrDefault(features.Tempo),
		Valence:      unitOrDefault(features.Valence, DefaultValence),
	}

	return Track{
		ID:        id,
		Name:      name,
		Artists:   cleaned,
		Features:  f,
		artistSet: set,
		vector:    f.Vector(),
	}
}

// ArtistSet returns the set of artist names. Callers must not mutate it.
func (t Track) ArtistSet() map[string]struct{} {
	return t.artistSet
}

// FeatureVector returns the precomputed feature vector.
func (t Track) FeatureVector() FeatureVector {
	return t.vector
}

// ArtistsText joins the artist names for display and persistence.
func (t Track) ArtistsText() string {
	return strings.Join(t.Artists, ", ")
}

func unitOrDefault(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return Clamp(v, 0, 1)
}

func tempoOrDefault(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return DefaultTempo
	}
	return v
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
