// Package httpserver provides the admin HTTP endpoint of iotmesh-server.
//
// The endpoint is read-only and meant for operators and scrapers:
//
//	GET /healthz              liveness and storage health
//	GET /metrics              Prometheus metrics
//	GET /v1/version           build information
//	GET /v1/stats             registry and connection counters
//	GET /v1/sessions          live device sessions
//	GET /v1/domains/{name}    members and devices of a domain
//
// Routing uses chi. Every request gets an X-Request-ID, is access-logged
// and recovered from panics; an optional IP allow list and per-IP rate
// limit protect the endpoint.
package httpserver
