package domain

import "time"

// SessionState is the per-user decision state. It is owned by a single
// logical caller at a time; the session registry serializes access.
type SessionState struct {
	UserID      string
	History     *HeartRateWindow
	Current     *Track
	LastSwitch  time.Time
	LastHR      int
	LastSample  time.Time
	Blacklist   map[string]struct{}
	Preference  *FeatureVector
	preferences int
}

// NewSessionState creates an empty session with a history window of the given size.
func NewSessionState(userID string, historySize int) *SessionState {
	return &SessionState{
		UserID:    userID,
		History:   NewHeartRateWindow(historySize),
		Blacklist: make(map[string]struct{}),
	}
}

// Observe records a heart-rate sample.
func (s *SessionState) Observe(hr int, at time.Time) {
	s.History.Push(hr)
	s.LastHR = hr
	s.LastSample = at
}

// Blacklisted reports whether trackID was disliked by this user.
func (s *SessionState) Blacklisted(trackID string) bool {
	_, ok := s.Blacklist[trackID]
	return ok
}

// AddToBlacklist records a dislike. Entries are never removed.
func (s *SessionState) AddToBlacklist(trackID string) {
	if trackID == "" {
		return
	}
	s.Blacklist[trackID] = struct{}{}
}

// Like folds a liked track into the running-mean preference vector.
func (s *SessionState) Like(t Track) {
	v := t.FeatureVector()
	s.preferences++
	if s.Preference == nil {
		s.Preference = &v
		return
	}
	n := float64(s.preferences)
	next := *s.Preference
	for i := range next {
		next[i] += (v[i] - next[i]) / n
	}
	s.Preference = &next
}

// SwitchTo marks t as playing since at.
func (s *SessionState) SwitchTo(t Track, at time.Time) {
	track := t
	s.Current = &track
	s.LastSwitch = at
}
