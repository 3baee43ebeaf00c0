// Package connection provides the device-side connection to an IoTMesh
// server.
//
// Client speaks the envelope protocol over TCP: each call sends one
// request and waits for its response, so requests on one Client are
// strictly ordered. Transport failures close the Client and are reported
// as ErrCommunication; a server-initiated EOS is acknowledged and reported
// as ErrServerClosed.
//
// AdminClient reads the admin HTTP surface of a running server.
package connection
