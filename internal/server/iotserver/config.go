package iotserver

import "time"

// Config holds the device listener configuration.
type Config struct {
	// Address is the TCP listen address.
	Address string
	// IdleTimeout bounds the wait for the next request (default: 5m).
	IdleTimeout time.Duration
	// WriteTimeout bounds writing a reply (default: 30s).
	WriteTimeout time.Duration
	// CloseTimeout bounds the server-initiated close handshake (default: 5s).
	CloseTimeout time.Duration
	// MaxConnections caps concurrent workers. Excess connections are
	// closed on accept. 0 means unlimited.
	MaxConnections int
	// RateLimit is the sustained requests per second allowed on one
	// connection. 0 disables limiting.
	RateLimit float64
	// RateBurst is the limiter bucket size.
	RateBurst int
	// MaxEnvelopeBytes bounds a single decoded request.
	MaxEnvelopeBytes int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:          "0.0.0.0:12345",
		IdleTimeout:      5 * time.Minute,
		WriteTimeout:     30 * time.Second,
		CloseTimeout:     5 * time.Second,
		MaxConnections:   1024,
		RateLimit:        50,
		RateBurst:        100,
		MaxEnvelopeBytes: 16 << 20,
	}
}

// withDefaults fills zero durations so a partially populated Config is usable.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	out := *c
	if out.Address == "" {
		out.Address = d.Address
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = d.IdleTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.CloseTimeout <= 0 {
		out.CloseTimeout = d.CloseTimeout
	}
	if out.RateLimit > 0 && out.RateBurst <= 0 {
		out.RateBurst = int(out.RateLimit) + 1
	}
	return &out
}
