// Package metric provides Prometheus metrics for IoTMesh.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: metric registry, recording helpers and HTTP handler
//   - collector.go: registry entity gauges read at scrape time
//
// Metrics include:
//
//   - Connection gauges and counters
//   - Request counters and latency histograms per opcode
//   - Authentication failures per handshake stage
//   - Sink delivery errors
//
// Metrics are exposed at /metrics on the admin HTTP server.
package metric
