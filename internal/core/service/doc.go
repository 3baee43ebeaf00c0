// Package service holds the IoTMesh registry: users, devices, domains and
// the per-session authentication state machine.
//
// The Registry is the single owner of all entities. Connection workers pass
// it their *domain.Session and it advances the session through
// NONE -> USER -> USER_DEVICE -> COMPLETE. Every operation other than the
// three handshake steps requires a COMPLETE session.
//
// Persistence is delegated to a Store; accepted device payloads are also
// fanned out to any configured ReadingSink.
package service
