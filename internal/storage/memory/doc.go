// Package memory provides a volatile storage.KVEngine.
//
// Keys are held in a sharded concurrent map. Data is lost when the process
// exits, which makes the engine suitable for tests and for deployments that
// treat the registry as ephemeral.
package memory
