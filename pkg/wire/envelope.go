package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"
	TypeReplay      = "replay"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeEvent       = "event"
	TypeAck         = "ack"
	TypeError       = "error"
)

// Envelope is the outer frame for every message on the wire.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope creates an envelope of the given type with a generated
// id, the current timestamp, and the marshaled payload. A nil payload
// produces an empty JSON object.
func NewEnvelope(envType string, payload any) (*Envelope, error) {
	raw := json.RawMessage(`{}`)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", envType, err)
		}
		raw = data
	}

	return &Envelope{
		ID:        uuid.NewString(),
		Type:      envType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Encode marshals the envelope to its wire form.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a wire frame into an Envelope. The payload is kept
// raw; use DecodePayload to interpret it.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s payload: empty", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// SubscribeOptions tunes a subscription request.
type SubscribeOptions struct {
	// ReplayFrom asks the gateway to replay from a stream position.
	ReplayFrom string `json:"replay_from,omitempty"`

	// ReplayCount bounds the number of replayed events.
	ReplayCount int `json:"replay_count,omitempty"`

	// Filter is a gateway-side event filter expression.
	Filter string `json:"filter,omitempty"`
}

// SubscribePayload is the payload for subscribe and unsubscribe
// envelopes.
type SubscribePayload struct {
	Channels []string          `json:"channels"`
	Options  *SubscribeOptions `json:"options,omitempty"`
}

// PublishOptions tunes event publication.
type PublishOptions struct {
	// DeliveryGuarantee is "at_least_once" or "at_most_once".
	DeliveryGuarantee string `json:"delivery_guarantee,omitempty"`

	// PartitionKey routes the event to a stream partition.
	PartitionKey string `json:"partition_key,omitempty"`
}

// PublishPayload is the payload for publish envelopes.
type PublishPayload struct {
	Channel string          `json:"channel"`
	Event   Event           `json:"event"`
	Options *PublishOptions `json:"options,omitempty"`
}

// ReplayPayload is the payload for replay envelopes.
type ReplayPayload struct {
	Channel string `json:"channel"`
	SinceID string `json:"sinceId,omitempty"`
	Count   int    `json:"count"`
}

// AckPayload is the payload of an ack envelope from the gateway. The
// connection ack carries the gateway's protocol version.
type AckPayload struct {
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

// ErrorPayload is the payload of an error envelope from the gateway.
type ErrorPayload struct {
	Error struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}
