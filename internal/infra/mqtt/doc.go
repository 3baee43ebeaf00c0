// Package mqtt republishes accepted device readings to an MQTT broker.
//
// Each temperature is published to
//
//	<prefix>/device/<owner>/<devId>/temperature
//
// and image metadata (never the image bytes) to
//
//	<prefix>/device/<owner>/<devId>/image
//
// Payloads are JSON. The registry calls the sink while serving a device
// request, so readings are queued and published by a background goroutine;
// when the queue is full the reading is dropped and counted in
// iotmesh_sink_errors_total{sink="mqtt"}.
//
// The server announces itself on <prefix>/server/status (retained) and sets
// a last will so subscribers see it go offline after a crash.
package mqtt
