// Package wire defines the JSON wire envelope exchanged with the
// PulseGate gateway.
//
// Every frame on the wire is an Envelope:
//
//	{
//	  "id":        "<uuid>",
//	  "type":      "subscribe" | "unsubscribe" | "publish" | "replay" |
//	               "ping" | "pong" | "event" | "ack" | "error",
//	  "payload":   { ... type-specific ... },
//	  "timestamp": 1724660000000
//	}
//
// Timestamps are epoch milliseconds. Payload shapes for each envelope
// type are defined in this package; inbound payloads are decoded
// lazily from the raw JSON so that a malformed payload never takes
// down the read loop.
package wire
