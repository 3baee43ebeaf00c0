// Package main provides the entry point for iotmesh-device.
//
// Usage:
//
//	iotmesh-device [options] <serverAddress[:port]> <dev-id> <user-id>
//
// The client asks for the user's password until the server accepts it,
// asks for another device id while the requested one is in use, declares
// its own executable as the client program and then reads device
// commands from standard input.
package main
