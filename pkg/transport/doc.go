// Package transport abstracts the streaming connection to the
// PulseGate gateway.
//
// The session layer depends only on the Dialer and Conn interfaces;
// the concrete implementation here speaks websocket. Tests inject
// in-memory implementations.
package transport
