// Package iotserver is the device-facing TCP server of IoTMesh.
//
// A Server accepts connections and runs one worker per connection. Each
// worker owns a domain.Session and a protocol.Stream and handles requests
// strictly in order: read an envelope, route it through the Router to the
// matching handler, write the reply.
//
// When the server shuts down every worker is cancelled. A cancelled worker
// closes its session, sends EOS to the device and waits a bounded time for
// the acknowledgement before dropping the connection. However a connection
// ends, its session is closed and the claimed device is released.
package iotserver
