// Package storage persists the IoTMesh registry.
//
// KVStore implements service.Store on top of a KVEngine. Two engines are
// available: BadgerEngine (durable, on disk) and memory.Engine (volatile).
//
// Key layout:
//
//	u/<user>           user record (name, argon2id secret)
//	d/<owner>:<devId>  device record
//	g/<domain>         domain record (owner, members, devices)
//	t/<owner>:<devId>  latest temperature
//	i/<owner>:<devId>  latest image
//
// Values are CBOR-encoded records carrying a schema version.
package storage
