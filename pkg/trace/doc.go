// Package trace captures per-envelope protocol events for debugging.
//
// When the session's Debug flag is set, every envelope sent or
// received, every connection state change, and every protocol-level
// error is emitted as a trace Event. Events can be written to a
// CBOR-framed capture file (FileLogger), mirrored to the console
// (SlogAdapter), or fanned out to several sinks (MultiLogger).
//
// Capture files are a stream of self-delimiting CBOR values and can
// be read back with Reader.
package trace
