// Package domain defines the core domain models for IoTMesh.
//
// Domain models are plain entities without IO dependencies:
//
//   - User: account identified by name, holding a password secret
//   - Device: "<owner>:<devId>" device with a live-session active flag
//   - Domain: named group with an owner, member users and registered devices
//   - Session: per-connection authentication progress
//   - Reading, Image: latest payloads reported by a device
//   - Errors: coded domain errors shared by every layer
//
// Entities are owned by the service registry; they are not safe for
// concurrent mutation on their own.
package domain
