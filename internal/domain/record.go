package domain

import (
	"fmt"
	"time"
)

// BodyLimit is the maximum number of body bytes retained per record.
// Larger payloads are truncated by the normalizer before storage.
const BodyLimit = 4096

// TrafficRecord is the canonical form of one observed request/response
// exchange. Records are immutable once persisted; corrections are new
// records, never updates.
type TrafficRecord struct {
	// ID is the monotonic id assigned by the durable store on append.
	// Zero for records that have not been persisted yet.
	ID int64 `json:"id,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID groups records believed to originate from the same client.
	// Derived deterministically from the client signature and IP; never empty.
	DeviceID string `json:"device_id"`

	Method string `json:"method"`
	URL    string `json:"url"`
	Host   string `json:"host"`

	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	ResponseStatus  int               `json:"response_status"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
}

// RawFlow is what the interception collaborator hands the pipeline for each
// completed flow. The collaborator owns connection lifecycle, TLS and HTTP
// semantics; the pipeline only normalizes and records what it is given.
// Body fields carry raw bytes (base64 on the JSON wire).
type RawFlow struct {
	ClientIP string `json:"client_ip"`

	// ClientSignature is the user-agent-equivalent string declared by the
	// client, used for device identity derivation.
	ClientSignature string `json:"client_signature"`

	Method string `json:"method"`
	URL    string `json:"url"`
	Host   string `json:"host"`

	RequestHeaders []HeaderField `json:"request_headers,omitempty"`
	RequestBody    []byte        `json:"request_body,omitempty"`

	// HasResponse is false when the flow ended before a response was
	// observed (e.g. upstream connect failure). Such flows are still
	// recorded, with a zero status.
	HasResponse     bool          `json:"has_response"`
	ResponseStatus  int           `json:"response_status"`
	ResponseHeaders []HeaderField `json:"response_headers,omitempty"`
	ResponseBody    []byte        `json:"response_body,omitempty"`
}

// HeaderField preserves the wire order of a single header. Keys may repeat
// on the wire; storage is last-value-wins.
type HeaderField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NormalizationError reports a raw flow that cannot be turned into a record.
// Flows failing normalization are dropped with no side effects.
type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string {
	return "normalize flow: " + e.Reason
}

// StoreError wraps a durable-store failure. Append failures are surfaced to
// the coordinator but never block live fanout.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
