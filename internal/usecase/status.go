package usecase

import (
	"sync/atomic"
	"time"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

// Status is a consistent point-in-time view of the pipeline's counters.
type Status struct {
	Ingested          int64     `json:"ingested"`
	ActiveSubscribers int       `json:"active_subscribers"`
	AsOf              time.Time `json:"timestamp"`
}

// StatusAggregator tracks the process-wide ingest count and exposes it
// together with the live subscriber count. Increments are atomic and never
// block ingestion; the subscriber count delegates to the registry.
type StatusAggregator struct {
	registry domain.SubscriberRegistry
	ingested atomic.Int64
}

// NewStatusAggregator creates a new StatusAggregator.
func NewStatusAggregator(registry domain.SubscriberRegistry) *StatusAggregator {
	return &StatusAggregator{registry: registry}
}

// RecordIngested bumps the monotonic ingest counter.
func (a *StatusAggregator) RecordIngested() {
	a.ingested.Add(1)
}

// Snapshot returns the current counters stamped with the read time.
func (a *StatusAggregator) Snapshot() Status {
	return Status{
		Ingested:          a.ingested.Load(),
		ActiveSubscribers: a.registry.Count(),
		AsOf:              time.Now().UTC(),
	}
}
