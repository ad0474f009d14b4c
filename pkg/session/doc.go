// Package session implements the stateful PulseGate client session.
//
// A Session owns one streaming connection to the gateway and all the
// state attached to it: the connection state machine, the subscription
// set, the last-seen stream positions, and the event handler registry.
// Three background tasks cooperate over that state:
//
//   - the read loop, which decodes inbound envelopes and dispatches
//     events to registered handlers
//   - the liveness monitor, which pings the gateway and declares the
//     connection dead when pongs stop arriving
//   - the reconnect loop, which re-establishes a lost connection with
//     exponential backoff and replays the subscription set
//
// At most one of each task runs per session. All state mutations are
// serialized behind a single mutex, and Disconnect and Close cancel
// and join every task before returning; Disconnect keeps the session
// usable, Close is terminal.
//
// Every channel operation is validated against the session's tenant,
// which is extracted from the auth token at construction and is
// immutable for the session's lifetime.
package session
