package mqtt

import "errors"

var (
	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when the broker does not acknowledge a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrQueueFull is recorded when a reading is dropped because the
	// publish queue is full.
	ErrQueueFull = errors.New("mqtt: publish queue full")
)
