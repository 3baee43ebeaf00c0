package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg

	if sanitized.MQTT.Password != "" {
		sanitized.MQTT.Password = maskSecret(sanitized.MQTT.Password)
	}
	if sanitized.InfluxDB.Token != "" {
		sanitized.InfluxDB.Token = maskSecret(sanitized.InfluxDB.Token)
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
