package config

import "time"

// ServerConfig is the root configuration for iotmesh-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Admin    AdminSection    `koanf:"admin"`
	Program  ProgramSection  `koanf:"program"`
	Storage  StorageSection  `koanf:"storage"`
	MQTT     MQTTSection     `koanf:"mqtt"`
	InfluxDB InfluxDBSection `koanf:"influxdb"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures the device listener.
type ServerSection struct {
	Addr         string        `koanf:"addr"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// MaxConnections caps concurrent device connections (0 = unlimited).
	MaxConnections int `koanf:"max_connections"`

	// RateLimit is requests per second per connection (0 = unlimited).
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	MaxEnvelopeBytes int64 `koanf:"max_envelope_bytes"`
	MaxImageBytes    int64 `koanf:"max_image_bytes"`

	// LoginFailuresPerSecond paces WRONG_PWD replies per remote host
	// (0 = unthrottled).
	LoginFailuresPerSecond float64 `koanf:"login_failures_per_second"`
	LoginFailureBurst      int     `koanf:"login_failure_burst"`
}

// AdminSection configures the admin HTTP endpoint.
type AdminSection struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`

	// AllowList restricts callers to these IPs or CIDRs. Empty allows all.
	AllowList []string `koanf:"allow_list"`

	// RateLimit is the per-IP request rate. 0 disables limiting.
	RateLimit int `koanf:"rate_limit"`
}

// ProgramSection is the client executable accepted by VALIDATE_PROGRAM.
type ProgramSection struct {
	Name string `koanf:"name"`
	Size int64  `koanf:"size"`
}

// StorageSection configures persistence.
type StorageSection struct {
	// Engine is "badger" or "memory".
	Engine     string        `koanf:"engine"`
	DataDir    string        `koanf:"data_dir"`
	GCInterval time.Duration `koanf:"gc_interval"`
	SyncWrites bool          `koanf:"sync_writes"`
	// CacheSize is the Badger block cache size in bytes.
	CacheSize int64 `koanf:"cache_size"`
}

// MQTTSection configures the MQTT reading publisher.
type MQTTSection struct {
	Enabled        bool          `koanf:"enabled"`
	Broker         string        `koanf:"broker"`
	Port           int           `koanf:"port"`
	ClientID       string        `koanf:"client_id"`
	TopicPrefix    string        `koanf:"topic_prefix"`
	QoS            int           `koanf:"qos"`
	Username       string        `koanf:"username"`
	Password       string        `koanf:"password"`
	KeepAlive      time.Duration `koanf:"keep_alive"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	QueueSize      int           `koanf:"queue_size"`
	TLS            TLSSection    `koanf:"tls"`
}

// TLSSection configures TLS towards the MQTT broker.
type TLSSection struct {
	Enabled bool `koanf:"enabled"`
	// CAFile replaces the system roots when set.
	CAFile             string `koanf:"ca_file"`
	CertFile           string `koanf:"cert_file"`
	KeyFile            string `koanf:"key_file"`
	ServerName         string `koanf:"server_name"`
	InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
}

// InfluxDBSection configures the InfluxDB history writer.
type InfluxDBSection struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	Token         string        `koanf:"token"`
	Org           string        `koanf:"org"`
	Bucket        string        `koanf:"bucket"`
	BatchSize     uint          `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
