// Package protocol defines the wire format spoken between IoTMesh devices
// and the server.
//
// Every request and response is a single Envelope: an opcode plus the
// optional fields that opcode needs. Envelopes travel as self-delimiting
// CBOR items over a TCP stream, so a reader always consumes exactly one
// envelope per Decode call and never needs a length prefix.
package protocol
