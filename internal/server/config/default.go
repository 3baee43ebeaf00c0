package config

import "time"

// Default configuration values.
const (
	DefaultPort             = 12345
	DefaultAddr             = "0.0.0.0:12345"
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultWriteTimeout     = 30 * time.Second
	DefaultCloseTimeout     = 5 * time.Second
	DefaultMaxConnections   = 1024
	DefaultRateLimit        = 50
	DefaultRateBurst        = 100
	DefaultMaxEnvelopeBytes = 16 << 20
	DefaultMaxImageBytes    = 8 << 20

	DefaultLoginFailuresPerSecond = 1
	DefaultLoginFailureBurst      = 5

	DefaultAdminAddr = "127.0.0.1:12380"

	// DefaultAdminRateLimit is the per-IP admin request rate.
	DefaultAdminRateLimit = 20

	DefaultStorageEngine = "badger"
	DefaultDataDir       = "/var/lib/iotmesh-server/data"
	DefaultGCInterval    = 10 * time.Minute
	DefaultCacheSize     = 64 << 20

	DefaultMQTTPort        = 1883
	DefaultMQTTClientID    = "iotmesh-server"
	DefaultMQTTTopicPrefix = "iotmesh"
	DefaultMQTTKeepAlive   = 60 * time.Second
	DefaultMQTTConnTimeout = 10 * time.Second
	DefaultMQTTQueueSize   = 1024

	DefaultInfluxBatchSize     = 100
	DefaultInfluxFlushInterval = 10 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Addr:                   DefaultAddr,
			IdleTimeout:            DefaultIdleTimeout,
			WriteTimeout:           DefaultWriteTimeout,
			CloseTimeout:           DefaultCloseTimeout,
			MaxConnections:         DefaultMaxConnections,
			RateLimit:              DefaultRateLimit,
			RateBurst:              DefaultRateBurst,
			MaxEnvelopeBytes:       DefaultMaxEnvelopeBytes,
			MaxImageBytes:          DefaultMaxImageBytes,
			LoginFailuresPerSecond: DefaultLoginFailuresPerSecond,
			LoginFailureBurst:      DefaultLoginFailureBurst,
		},
		Admin: AdminSection{
			Enabled:   true,
			Addr:      DefaultAdminAddr,
			RateLimit: DefaultAdminRateLimit,
		},
		Storage: StorageSection{
			Engine:     DefaultStorageEngine,
			DataDir:    DefaultDataDir,
			GCInterval: DefaultGCInterval,
			SyncWrites: true,
			CacheSize:  DefaultCacheSize,
		},
		MQTT: MQTTSection{
			Port:           DefaultMQTTPort,
			ClientID:       DefaultMQTTClientID,
			TopicPrefix:    DefaultMQTTTopicPrefix,
			QoS:            1,
			KeepAlive:      DefaultMQTTKeepAlive,
			ConnectTimeout: DefaultMQTTConnTimeout,
			QueueSize:      DefaultMQTTQueueSize,
		},
		InfluxDB: InfluxDBSection{
			BatchSize:     DefaultInfluxBatchSize,
			FlushInterval: DefaultInfluxFlushInterval,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
