// Package catalog holds the immutable in-memory track index.
package catalog

import (
	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

var _ ports.Catalog = (*Store)(nil)

// Store is a read-only track index. It is never mutated after construction,
// so concurrent readers need no locking.
type Store struct {
	tracks []domain.Track
	index  map[string]int
}

// NewStore indexes tracks in the given order. Tracks without an id are
// dropped and duplicate ids keep the first occurrence.
func NewStore(tracks []domain.Track) *Store {
	s := &Store{
		tracks: make([]domain.Track, 0, len(tracks)),
		index:  make(map[string]int, len(tracks)),
	}
	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		if _, dup := s.index[t.ID]; dup {
			continue
		}
		s.index[t.ID] = len(s.tracks)
		s.tracks = append(s.tracks, t)
	}
	return s
}

// Tracks returns every track in feed order.
func (s *Store) Tracks() []domain.Track {
	return s.tracks
}

// Lookup finds a track by id.
func (s *Store) Lookup(id string) (domain.Track, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.Track{}, false
	}
	return s.tracks[i], true
}

// Len reports the number of tracks.
func (s *Store) Len() int {
	return len(s.tracks)
}
