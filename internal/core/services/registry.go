package services

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/metrics"
)

// BlacklistLoader hydrates a new session with persisted dislikes.
type BlacklistLoader func(ctx context.Context, userID string) ([]string, error)

// SessionRegistry owns every SessionState. Each session has its own lock so
// work for different users never contends.
type SessionRegistry struct {
	historySize int
	load        BlacklistLoader
	log         zerolog.Logger

	sessions sync.Map // user id -> *sessionEntry

	activeMu sync.Mutex
	active   map[string]int
}

type sessionEntry struct {
	mu       sync.Mutex
	state    *domain.SessionState
	hydrated bool
}

// NewSessionRegistry creates a registry whose sessions keep historySize samples.
// load may be nil.
func NewSessionRegistry(historySize int, load BlacklistLoader, log zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		historySize: historySize,
		load:        load,
		log:         log,
		active:      make(map[string]int),
	}
}

// With runs fn while holding the user's session lock, creating the session on first use.
func (r *SessionRegistry) With(ctx context.Context, userID string, fn func(*domain.SessionState) error) error {
	e := r.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hydrated {
		e.hydrated = r.hydrate(ctx, e.state)
	}
	return fn(e.state)
}

func (r *SessionRegistry) entry(userID string) *sessionEntry {
	if v, ok := r.sessions.Load(userID); ok {
		return v.(*sessionEntry)
	}
	v, loaded := r.sessions.LoadOrStore(userID, &sessionEntry{
		state: domain.NewSessionState(userID, r.historySize),
	})
	if !loaded {
		metrics.ActiveSessions.Inc()
	}
	return v.(*sessionEntry)
}

// hydrate reports false on a load failure so the next access retries.
func (r *SessionRegistry) hydrate(ctx context.Context, s *domain.SessionState) bool {
	if r.load == nil {
		return true
	}
	ids, err := r.load(ctx, s.UserID)
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", s.UserID).Msg("blacklist hydration failed")
		return false
	}
	for _, id := range ids {
		s.AddToBlacklist(id)
	}
	return true
}

// Activate marks a user as connected. Calls are reference counted.
func (r *SessionRegistry) Activate(userID string) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	r.active[userID]++
}

// Deactivate releases one Activate call.
func (r *SessionRegistry) Deactivate(userID string) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	if r.active[userID] <= 1 {
		delete(r.active, userID)
		return
	}
	r.active[userID]--
}

// Active returns the connected users in sorted order.
func (r *SessionRegistry) Active() []string {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
