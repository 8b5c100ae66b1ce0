package domain

import "errors"

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("domain: not found")

	// ErrNoRecommendation means no track could be chosen: empty catalog, no
	// heart-rate history, or every candidate excluded. Callers treat it as "no change".
	ErrNoRecommendation = errors.New("domain: no track available")

	ErrInvalidHeartRate = errors.New("domain: invalid heart rate")
	ErrInvalidFeedback  = errors.New("domain: invalid feedback")
	ErrMalformedSample  = errors.New("domain: malformed telemetry sample")
	ErrInvalidProfile   = errors.New("domain: invalid profile")
)
