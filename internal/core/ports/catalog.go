package ports

import "github.com/ewilliams-labs/cadence/internal/core/domain"

// Catalog is the immutable track index. Implementations must be safe for
// concurrent reads without locking.
type Catalog interface {
	// Tracks returns every track in feed order. Callers must not mutate the slice.
	Tracks() []domain.Track
	Lookup(id string) (domain.Track, bool)
	Len() int
}
