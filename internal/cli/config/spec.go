package config

import (
	"time"

	"github.com/yndnr/iotmesh-go/internal/cli/connection"
)

// DeviceConfig is the content of device.yaml. Unset fields keep the flag
// defaults.
type DeviceConfig struct {
	// Output is the RT output format: table, json or yaml.
	Output string `yaml:"output,omitempty"`

	// Dir receives the files written by RT and RI.
	Dir string `yaml:"dir,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`

	// History is the command history file. An explicit empty string
	// disables history.
	History *string `yaml:"history,omitempty"`

	// Program is the executable declared during VALIDATE_PROGRAM.
	Program string `yaml:"program,omitempty"`
}

// Default returns the built-in defaults.
func Default() *DeviceConfig {
	return &DeviceConfig{
		Output:  "table",
		Dir:     ".",
		Timeout: connection.DefaultTimeout,
	}
}
