package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/metrics"
)

// Archiver buffers samples and uploads them in batches. It is owned by the
// forwarder goroutine and is not safe for concurrent use.
type Archiver struct {
	store         ports.ArtifactStore
	prefix        string
	sessionID     string
	batchSize     int
	flushInterval time.Duration
	timeout       time.Duration
	now           func() time.Time

	buf       []domain.ArchiveRecord
	lastFlush time.Time
}

// ArchiverConfig configures batching.
type ArchiverConfig struct {
	Prefix        string
	SessionID     string
	BatchSize     int
	FlushInterval time.Duration
	// Timeout bounds a single upload.
	Timeout time.Duration
}

// NewArchiver creates an Archiver writing to store.
func NewArchiver(store ports.ArtifactStore, cfg ArchiverConfig) *Archiver {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	a := &Archiver{
		store:         store,
		prefix:        strings.TrimSuffix(cfg.Prefix, "/"),
		sessionID:     cfg.SessionID,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		timeout:       cfg.Timeout,
		now:           time.Now,
	}
	a.lastFlush = a.now()
	return a
}

// Add buffers a sample.
func (a *Archiver) Add(s domain.TelemetrySample) {
	a.buf = append(a.buf, domain.ArchiveRecord{HeartRate: s.HeartRate, Timestamp: s.EpochSeconds()})
	metrics.ArchivePending.Set(float64(len(a.buf)))
}

// Pending reports the number of buffered samples.
func (a *Archiver) Pending() int { return len(a.buf) }

// Due reports whether the buffer should be flushed now.
func (a *Archiver) Due() bool {
	if len(a.buf) == 0 {
		return false
	}
	return len(a.buf) >= a.batchSize || a.now().Sub(a.lastFlush) >= a.flushInterval
}

// Flush uploads the buffer when due, or unconditionally when force is set.
// On failure the records stay at the front of the buffer, in order, for the
// next attempt, and the flush clock is not reset.
func (a *Archiver) Flush(ctx context.Context, force bool) error {
	if len(a.buf) == 0 || (!force && !a.Due()) {
		return nil
	}

	now := a.now()
	batch := domain.ArchiveBatch{SessionID: a.sessionID, Records: a.buf}
	key := fmt.Sprintf("%s/%s/%d.json", a.prefix, a.sessionID, now.UnixMilli())

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.store.PutJSON(ctx, key, batch)
	metrics.RecordArchiveFlush(err)
	if err != nil {
		return fmt.Errorf("telemetry: archive %d records to %s: %w", len(batch.Records), key, err)
	}

	a.buf = nil
	a.lastFlush = now
	metrics.ArchivePending.Set(0)
	return nil
}
