package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TelemetrySample is a single heart-rate reading produced by the sensor callback.
// UserID is empty for samples from a shared sensor; those fan out to active users.
type TelemetrySample struct {
	HeartRate int       `json:"hr"`
	Timestamp time.Time `json:"-"`
	UserID    string    `json:"user_id,omitempty"`
}

// NewTelemetrySample stamps a reading with the given wall-clock time.
func NewTelemetrySample(hr int, at time.Time) TelemetrySample {
	return TelemetrySample{HeartRate: hr, Timestamp: at}
}

// EpochSeconds returns the timestamp as fractional Unix seconds.
func (s TelemetrySample) EpochSeconds() float64 {
	return EpochSeconds(s.Timestamp)
}

// EpochSeconds converts t into fractional Unix seconds.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpochSeconds converts fractional Unix seconds back into a time.Time.
func FromEpochSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}

// FormatEpoch renders a timestamp the way it travels on the wire.
func FormatEpoch(t time.Time) string {
	return strconv.FormatFloat(EpochSeconds(t), 'f', 3, 64)
}

// ParseHeartRate parses a string-encoded heart rate. Values must be integral and positive.
func ParseHeartRate(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidHeartRate)
	}
	hr, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHeartRate, raw)
	}
	if hr <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHeartRate, hr)
	}
	return hr, nil
}

// ParseEpoch parses a string-encoded Unix timestamp in seconds. An empty value
// resolves to fallback.
func ParseEpoch(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	sec, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformedSample, raw)
	}
	return FromEpochSeconds(sec), nil
}
