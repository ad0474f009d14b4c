package trace

import "time"

// Event represents one protocol trace event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID uniquely identifies the session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow. Meaningful for envelope
	// events only.
	Direction Direction `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Tenant is the session's tenant identifier.
	Tenant string `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (exactly one is set).
	Envelope    *EnvelopeEvent    `cbor:"6,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"7,keyasint,omitempty"`
	Error       *ErrorEvent       `cbor:"8,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an inbound envelope.
	DirectionIn Direction = 0
	// DirectionOut indicates an outbound envelope.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryEnvelope indicates an envelope was sent or received.
	CategoryEnvelope Category = 0
	// CategoryState indicates a connection state change.
	CategoryState Category = 1
	// CategoryError indicates a protocol-level error.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryEnvelope:
		return "ENVELOPE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// EnvelopeEvent describes a sent or received wire envelope.
type EnvelopeEvent struct {
	// Type is the envelope type (subscribe, publish, event, ...).
	Type string `cbor:"1,keyasint"`

	// ID is the envelope id.
	ID string `cbor:"2,keyasint,omitempty"`

	// Channel is the channel involved, when the payload names one.
	Channel string `cbor:"3,keyasint,omitempty"`

	// Size is the encoded frame size in bytes.
	Size int `cbor:"4,keyasint"`
}

// StateChangeEvent describes a connection state transition.
type StateChangeEvent struct {
	// From is the previous state name.
	From string `cbor:"1,keyasint"`

	// To is the new state name.
	To string `cbor:"2,keyasint"`

	// Reason is a short cause description, if known.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEvent describes a protocol-level error.
type ErrorEvent struct {
	// Op is the operation during which the error occurred.
	Op string `cbor:"1,keyasint,omitempty"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`
}

// NewEnvelopeEvent builds an envelope trace event.
func NewEnvelopeEvent(sessionID, tenant string, dir Direction, envType, envID, channel string, size int) Event {
	return Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Direction: dir,
		Category:  CategoryEnvelope,
		Tenant:    tenant,
		Envelope: &EnvelopeEvent{
			Type:    envType,
			ID:      envID,
			Channel: channel,
			Size:    size,
		},
	}
}

// NewStateEvent builds a state-change trace event.
func NewStateEvent(sessionID, tenant, from, to, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Category:  CategoryState,
		Tenant:    tenant,
		StateChange: &StateChangeEvent{
			From:   from,
			To:     to,
			Reason: reason,
		},
	}
}

// NewErrorEvent builds an error trace event.
func NewErrorEvent(sessionID, tenant, op string, err error) Event {
	return Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Category:  CategoryError,
		Tenant:    tenant,
		Error: &ErrorEvent{
			Op:      op,
			Message: err.Error(),
		},
	}
}
