// Package config holds the device client defaults file.
//
// The file lives at ~/.iotmesh/device.yaml and supplies defaults for the
// iotmesh-device flags. Command-line flags and IOTMESH_* variables win over
// anything set here.
package config
