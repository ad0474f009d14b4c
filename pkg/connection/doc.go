// Package connection provides the connection-resilience primitives for
// the PulseGate client.
//
// This package handles:
//   - Connection state tracking
//   - Exponential backoff for reconnection attempts
//   - Jitter to prevent thundering herd
//   - Circuit breaking of connection attempts
//
// # Reconnection Strategy
//
// When a connection is lost, the client uses exponential backoff:
//
//  1. Initial delay: 250 milliseconds
//  2. Exponential increase: 500ms, 1s, 2s, 4s, ...
//  3. Maximum delay: 30 seconds
//  4. Reset to the initial delay on successful reconnection
//
// # Jitter
//
// To prevent thundering herd when multiple clients reconnect, each
// delay is scaled by a random factor in [1-jitter, 1+jitter].
//
// # Circuit Breaker
//
// Connection attempts are additionally gated by a circuit breaker.
// After a configured number of consecutive failures the breaker opens
// and attempts are denied without touching the network. Once the
// cooldown window has elapsed the breaker goes half-open and admits a
// probe attempt; a recorded success closes it again. The
// Open -> HalfOpen transition is evaluated lazily on CanAttempt, no
// background timer is involved.
package connection
