// Package tests holds end-to-end tests that run a device listener over a
// real storage engine and drive it with the device client.
package tests
