package registry

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

// Registry implements domain.SubscriberRegistry with a mutex-guarded map.
// Critical sections are bounded: no I/O happens under the lock, and Snapshot
// releases it before callers iterate.
type Registry struct {
	logger *slog.Logger
	gauge  prometheus.Gauge

	mu   sync.RWMutex
	subs map[string]domain.Subscriber
}

// New creates an empty Registry. gauge may be nil; when set it tracks the
// registration count through every Add and Remove, so connect and disconnect
// churn is visible without waiting for a broadcast pass.
func New(logger *slog.Logger, gauge prometheus.Gauge) *Registry {
	return &Registry{
		logger: logger.With("component", "subscriber_registry"),
		gauge:  gauge,
		subs:   make(map[string]domain.Subscriber),
	}
}

// Add registers a subscriber. Re-adding the same subscriber identity is a
// no-op.
func (r *Registry) Add(sub domain.Subscriber) {
	r.mu.Lock()
	_, exists := r.subs[sub.ID()]
	if !exists {
		r.subs[sub.ID()] = sub
	}
	count := len(r.subs)
	r.mu.Unlock()

	if !exists {
		r.setGauge(count)
		r.logger.Info("subscriber connected", "subscriber_id", sub.ID(), "active", count)
	}
}

// Remove deregisters a subscriber. Removing an unknown subscriber is a no-op.
func (r *Registry) Remove(sub domain.Subscriber) {
	r.mu.Lock()
	_, exists := r.subs[sub.ID()]
	if exists {
		delete(r.subs, sub.ID())
	}
	count := len(r.subs)
	r.mu.Unlock()

	if exists {
		r.setGauge(count)
		r.logger.Info("subscriber disconnected", "subscriber_id", sub.ID(), "active", count)
	}
}

// Snapshot returns a point-in-time copy of the registered subscribers.
func (r *Registry) Snapshot() []domain.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Count returns the current registration count.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) setGauge(count int) {
	if r.gauge != nil {
		r.gauge.Set(float64(count))
	}
}
