// Package config provides the iotmesh-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Validation (addresses, engine, sink settings)
//   - sanitize.go: Masks the MQTT password and InfluxDB token for logging
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and IOTMESH_* environment variables.
package config
