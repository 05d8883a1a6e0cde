package domain

import "context"

// TrafficRepository defines the interface for the append-only durable log of
// traffic records. This abstracts away the specific backend (e.g. SQLite,
// PostgreSQL).
type TrafficRepository interface {
	// Append durably writes one record and returns its assigned monotonic id.
	// Safe for concurrent use; each call is atomic with respect to others.
	Append(ctx context.Context, record *TrafficRecord) (int64, error)

	// QueryRecent returns up to limit most-recently-appended records, newest
	// first, optionally filtered to one device. An empty deviceID matches all
	// devices.
	QueryRecent(ctx context.Context, deviceID string, limit int) ([]TrafficRecord, error)

	Close() error
}

// Subscriber is a live, push-capable destination for broadcast records.
// The registry owns a subscriber from Add until Remove; the pipeline never
// inspects subscriber state beyond issuing a send and observing the result.
type Subscriber interface {
	// ID identifies this subscriber's connection for the lifetime of the
	// connection. Registration is idempotent per ID.
	ID() string

	// Send delivers one serialized record. It must honor ctx cancellation
	// and deadlines so a hung peer cannot stall the fanout pass.
	Send(ctx context.Context, payload []byte) error

	Close() error
}

// SubscriberRegistry is the concurrency-safe set of live subscribers.
// All operations are safe under arbitrary interleaving from the ingestion,
// push-serving and query-serving contexts.
type SubscriberRegistry interface {
	Add(sub Subscriber)

	// Remove deregisters a subscriber. Removing an unknown subscriber is a
	// no-op.
	Remove(sub Subscriber)

	// Snapshot returns a point-in-time copy safe to iterate without holding
	// any lock that blocks concurrent Add/Remove.
	Snapshot() []Subscriber

	Count() int
}

// WALRepository defines the interface for the write-ahead fallback log that
// parks records the durable store rejected until it recovers.
type WALRepository interface {
	// Write appends a record to the local WAL.
	Write(ctx context.Context, record *TrafficRecord) error

	// Replay reads parked records in write order and hands each to the
	// handler, which is responsible for re-appending it to the store.
	Replay(ctx context.Context, handler func(record *TrafficRecord) error) error

	// Truncate removes WAL segments that have been successfully replayed.
	Truncate(ctx context.Context) error

	// HasPending reports whether any records are waiting for replay.
	HasPending() bool
}
