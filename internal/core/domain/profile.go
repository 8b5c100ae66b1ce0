package domain

import "fmt"

// UserProfile carries the heart-rate bounds used to normalize intensity.
type UserProfile struct {
	UserID string `json:"user_id"`
	RestHR int    `json:"rest_hr"`
	MaxHR  int    `json:"max_hr"`
}

// HeartRateReserve is max_hr - rest_hr, clamped to at least 1 so a
// misconfigured profile never divides by zero or flips sign.
func (p UserProfile) HeartRateReserve() float64 {
	hrr := float64(p.MaxHR - p.RestHR)
	if hrr < 1 {
		return 1
	}
	return hrr
}

// Validate rejects profiles whose bounds cannot describe a heart-rate reserve.
func (p UserProfile) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidProfile)
	}
	if p.RestHR <= 0 || p.MaxHR <= p.RestHR {
		return fmt.Errorf("%w: need 0 < rest_hr < max_hr, got %d/%d", ErrInvalidProfile, p.RestHR, p.MaxHR)
	}
	return nil
}
