package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	checks := []func(*ServerConfig) error{
		verifyServer,
		verifyAdmin,
		verifyProgram,
		verifyStorage,
		verifyMQTT,
		verifyInfluxDB,
		verifyLog,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func verifyServer(cfg *ServerConfig) error {
	s := &cfg.Server
	if err := verifyAddr("server.addr", s.Addr); err != nil {
		return err
	}
	if s.IdleTimeout <= 0 || s.WriteTimeout <= 0 || s.CloseTimeout <= 0 {
		return errors.New("server timeouts must be positive")
	}
	if s.MaxConnections < 0 {
		return errors.New("server.max_connections must not be negative")
	}
	if s.RateLimit < 0 || s.LoginFailuresPerSecond < 0 {
		return errors.New("server rate limits must not be negative")
	}
	if s.MaxEnvelopeBytes < 0 || s.MaxImageBytes < 0 {
		return errors.New("server size limits must not be negative")
	}
	if s.MaxEnvelopeBytes > 0 && s.MaxImageBytes > s.MaxEnvelopeBytes {
		return errors.New("server.max_image_bytes exceeds server.max_envelope_bytes")
	}
	return nil
}

func verifyAdmin(cfg *ServerConfig) error {
	if !cfg.Admin.Enabled {
		return nil
	}
	if err := verifyAddr("admin.addr", cfg.Admin.Addr); err != nil {
		return err
	}
	if cfg.Admin.Addr == cfg.Server.Addr {
		return errors.New("admin.addr conflicts with server.addr")
	}
	if cfg.Admin.RateLimit < 0 {
		return errors.New("admin.rate_limit must not be negative")
	}
	for _, entry := range cfg.Admin.AllowList {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("admin.allow_list: %q is not an IP or CIDR", entry)
		}
	}
	return nil
}

func verifyProgram(cfg *ServerConfig) error {
	if cfg.Program.Size < 0 {
		return errors.New("program.size must not be negative")
	}
	return nil
}

func verifyStorage(cfg *ServerConfig) error {
	s := &cfg.Storage
	switch s.Engine {
	case "memory":
		return nil
	case "badger":
	default:
		return fmt.Errorf("storage.engine %q: want badger or memory", s.Engine)
	}

	if s.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	// Check if data directory exists or can be created
	if err := os.MkdirAll(s.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	if s.GCInterval < 0 {
		return errors.New("storage.gc_interval must not be negative")
	}
	return nil
}

func verifyMQTT(cfg *ServerConfig) error {
	m := &cfg.MQTT
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if err := verifyPort("mqtt.port", m.Port); err != nil {
		return err
	}
	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d: want 0, 1 or 2", m.QoS)
	}
	if strings.ContainsAny(m.TopicPrefix, "#+") {
		return errors.New("mqtt.topic_prefix must not contain wildcards")
	}
	if m.TLS.Enabled && (m.TLS.CertFile == "") != (m.TLS.KeyFile == "") {
		return errors.New("mqtt.tls.cert_file and mqtt.tls.key_file must be set together")
	}
	return nil
}

func verifyInfluxDB(cfg *ServerConfig) error {
	i := &cfg.InfluxDB
	if !i.Enabled {
		return nil
	}
	switch {
	case i.URL == "":
		return errors.New("influxdb.url is required when influxdb is enabled")
	case i.Token == "":
		return errors.New("influxdb.token is required when influxdb is enabled")
	case i.Org == "":
		return errors.New("influxdb.org is required when influxdb is enabled")
	case i.Bucket == "":
		return errors.New("influxdb.bucket is required when influxdb is enabled")
	}
	return nil
}

func verifyLog(cfg *ServerConfig) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text", "console":
	default:
		return fmt.Errorf("log.format %q: want json or text", cfg.Log.Format)
	}
	return nil
}

func verifyAddr(field, addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s %q: %w", field, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%s %q: invalid port", field, addr)
	}
	return verifyPort(field, port)
}

func verifyPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s: port %d out of range 1-65535", field, port)
	}
	return nil
}

// WithPort returns addr with its port replaced by port.
func WithPort(addr string, port int) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
