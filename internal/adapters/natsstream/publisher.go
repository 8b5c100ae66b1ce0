package natsstream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

var _ ports.TelemetrySink = (*Publisher)(nil)

// Publisher appends telemetry entries to the stream.
type Publisher struct {
	js      jetstream.JetStream
	subject string
}

// NewPublisher creates a Publisher for subject.
func NewPublisher(js jetstream.JetStream, subject string) *Publisher {
	return &Publisher{js: js, subject: subject}
}

// Publish appends one entry and waits for the stream to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, sample domain.TelemetrySample) error {
	msg, err := encode(p.subject, sample)
	if err != nil {
		return err
	}
	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("natsstream: publish: %w", err)
	}
	return nil
}

type wireSample struct {
	HeartRate string `json:"hr"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
}

func encode(subject string, s domain.TelemetrySample) (*nats.Msg, error) {
	w := wireSample{
		HeartRate: strconv.Itoa(s.HeartRate),
		Timestamp: domain.FormatEpoch(s.Timestamp),
		UserID:    s.UserID,
	}
	body, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("natsstream: encode: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderHeartRate, w.HeartRate)
	msg.Header.Set(HeaderTimestamp, w.Timestamp)
	if w.UserID != "" {
		msg.Header.Set(HeaderUserID, w.UserID)
	}
	msg.Data = body
	return msg, nil
}

// decode reads the header fields, falling back to the JSON body for entries
// written by producers that do not set headers.
func decode(headers nats.Header, data []byte, fallback time.Time) (domain.TelemetrySample, error) {
	w := wireSample{
		HeartRate: headers.Get(HeaderHeartRate),
		Timestamp: headers.Get(HeaderTimestamp),
		UserID:    headers.Get(HeaderUserID),
	}
	if w.HeartRate == "" && len(data) > 0 {
		if err := json.Unmarshal(data, &w); err != nil {
			return domain.TelemetrySample{}, fmt.Errorf("%w: %v", domain.ErrMalformedSample, err)
		}
	}
	hr, err := domain.ParseHeartRate(w.HeartRate)
	if err != nil {
		return domain.TelemetrySample{}, fmt.Errorf("%w: %v", domain.ErrMalformedSample, err)
	}
	ts, err := domain.ParseEpoch(w.Timestamp, fallback)
	if err != nil {
		return domain.TelemetrySample{}, err
	}
	return domain.TelemetrySample{HeartRate: hr, Timestamp: ts, UserID: w.UserID}, nil
}
