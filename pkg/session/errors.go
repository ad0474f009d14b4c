package session

import (
	"errors"
	"fmt"
	"time"
)

// Session errors.
var (
	// ErrNotConnected indicates an operation that requires an active
	// connection was attempted while disconnected.
	ErrNotConnected = errors.New("not connected to gateway")

	// ErrSessionClosed indicates the session has been torn down.
	ErrSessionClosed = errors.New("session closed")

	// ErrLivenessTimeout indicates the liveness monitor declared the
	// connection dead.
	ErrLivenessTimeout = errors.New("liveness timeout: no pong within window")
)

// ConnectionError indicates a transport-level failure. The underlying
// cause is available via Unwrap.
type ConnectionError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Cause }

// CircuitOpenError indicates a connection attempt was denied by the
// circuit breaker. RetryAfter is the remaining cooldown.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %s", e.RetryAfter)
}

// ValidationError indicates malformed or out-of-bounds input. It is
// surfaced synchronously and never retried.
type ValidationError struct {
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// PayloadTooLargeError indicates a publish payload exceeded the
// configured byte ceiling. It matches ValidationError in errors.As
// chains via the taxonomy helper below.
type PayloadTooLargeError struct {
	Size  int
	Limit int
}

// Error implements the error interface.
func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload size %d exceeds maximum %d bytes", e.Size, e.Limit)
}

// TenantIsolationError indicates a channel does not belong to the
// session's tenant.
type TenantIsolationError struct {
	Channel string
	Tenant  string
}

// Error implements the error interface.
func (e *TenantIsolationError) Error() string {
	return fmt.Sprintf("channel %q not in tenant %q (use prefix %q)",
		e.Channel, e.Tenant, ChannelPrefix(e.Tenant))
}

// ReconnectExhaustedError indicates the reconnect loop gave up after
// the configured number of attempts. The session is left disconnected.
type ReconnectExhaustedError struct {
	Attempts int
	LastErr  error
}

// Error implements the error interface.
func (e *ReconnectExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("reconnection exhausted after %d attempts: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("reconnection exhausted after %d attempts", e.Attempts)
}

// Unwrap returns the last connection error seen before giving up.
func (e *ReconnectExhaustedError) Unwrap() error { return e.LastErr }
