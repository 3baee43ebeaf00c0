package service

import (
	"context"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
)

// Store persists registry entities and the latest device payloads.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns every persisted user, device and domain.
	Load(ctx context.Context) (*domain.Snapshot, error)

	// OnEntityChanged persists the current state of a User, Device or Domain.
	OnEntityChanged(ctx context.Context, e domain.Entity) error

	// PutTemperature replaces the latest reading of a device.
	PutTemperature(ctx context.Context, device string, r domain.Reading) error

	// Temperature returns the latest reading of a device, or domain.ErrNoData.
	Temperature(ctx context.Context, device string) (domain.Reading, error)

	// PutImage replaces the latest image of a device.
	PutImage(ctx context.Context, device string, img *domain.Image) error

	// Image returns the latest image of a device, or domain.ErrNoData.
	Image(ctx context.Context, device string) (*domain.Image, error)
}

// ReadingSink receives accepted device payloads for fan-out to external
// systems. Implementations must not block the caller.
type ReadingSink interface {
	OnTemperature(device *domain.Device, r domain.Reading)
	OnImage(device *domain.Device, img *domain.Image)
}
