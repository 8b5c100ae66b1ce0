// Package telemetry moves heart-rate samples from the sensor callback to the
// durable transport without ever blocking the callback.
package telemetry

import (
	"context"
	"sync/atomic"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/metrics"
)

// Queue is a bounded FIFO with one producer and one consumer. When full, the
// oldest sample is evicted so the newest reading always gets through.
type Queue struct {
	ch      chan domain.TelemetrySample
	dropped atomic.Uint64
}

// NewQueue creates a queue holding up to capacity samples.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan domain.TelemetrySample, capacity)}
}

// Enqueue adds a sample without blocking. It reports whether an older sample
// had to be evicted to make room.
func (q *Queue) Enqueue(s domain.TelemetrySample) (evicted bool) {
	for {
		select {
		case q.ch <- s:
			metrics.TelemetryEnqueued.Inc()
			metrics.TelemetryQueueDepth.Set(float64(len(q.ch)))
			return evicted
		default:
		}
		select {
		case <-q.ch:
			evicted = true
			q.dropped.Add(1)
			metrics.TelemetryDropped.Inc()
		default:
		}
	}
}

// Dequeue blocks until a sample is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (domain.TelemetrySample, bool) {
	select {
	case s := <-q.ch:
		metrics.TelemetryQueueDepth.Set(float64(len(q.ch)))
		return s, true
	case <-ctx.Done():
		return domain.TelemetrySample{}, false
	}
}

// TryDequeue returns the next sample if one is immediately available.
func (q *Queue) TryDequeue() (domain.TelemetrySample, bool) {
	select {
	case s := <-q.ch:
		metrics.TelemetryQueueDepth.Set(float64(len(q.ch)))
		return s, true
	default:
		return domain.TelemetrySample{}, false
	}
}

// Len reports the number of queued samples.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped reports how many samples were evicted since creation.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
