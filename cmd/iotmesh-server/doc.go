// Package main provides the entry point for iotmesh-server.
//
// The server accepts device connections on a TCP port (default 12345),
// authenticates users, devices and the client program, and serves
// domain membership, temperature and image requests. Accepted readings
// are persisted and optionally forwarded to MQTT and InfluxDB. A small
// admin HTTP listener exposes health, metrics and registry statistics.
//
// Usage:
//
//	iotmesh-server [--config FILE] [--port N] [port]
//	iotmesh-server status [--admin ADDR]
package main
