package services

import (
	"time"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// SwitchPolicy debounces track changes.
//
//	NoTrack         -> Playing(c, now)   always
//	Playing(cur, t) -> Playing(c, now)   c != cur and (force or now-t >= MinTrackDuration)
//	otherwise stay, no event
type SwitchPolicy struct {
	MinTrackDuration time.Duration
}

// ShouldSwitch decides whether candidate replaces the session's current track.
func (p SwitchPolicy) ShouldSwitch(s *domain.SessionState, candidate domain.Track, now time.Time, force bool) bool {
	if s.Current == nil {
		return true
	}
	if candidate.ID == s.Current.ID {
		return false
	}
	return force || now.Sub(s.LastSwitch) >= p.MinTrackDuration
}
