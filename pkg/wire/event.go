package wire

import "encoding/json"

// Event metadata keys of interest to the client.
const (
	// MetaChannel is the channel the event was delivered on.
	MetaChannel = "channel"

	// MetaStreamEntryID is the opaque stream position of the event.
	// Used to request replay-from-position on resubscribe.
	MetaStreamEntryID = "stream_entry_id"

	// MetaCorrelationID correlates an event with the request that
	// produced it.
	MetaCorrelationID = "correlation_id"

	// MetaTenantID is the publishing tenant.
	MetaTenantID = "org_id"
)

// Event is the application-level event carried by event and publish
// envelopes.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Channel returns the channel the event was delivered on, if present.
func (e *Event) Channel() string {
	return e.Metadata[MetaChannel]
}

// StreamEntryID returns the event's stream position, if present.
func (e *Event) StreamEntryID() string {
	return e.Metadata[MetaStreamEntryID]
}
