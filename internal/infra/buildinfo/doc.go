// Package buildinfo exposes the version of the iotmesh binaries.
//
// Values are injected at link time:
//
//	go build -ldflags "-X github.com/yndnr/iotmesh-go/internal/infra/buildinfo.Version=1.0.0 \
//	  -X github.com/yndnr/iotmesh-go/internal/infra/buildinfo.Commit=abc123"
//
// GoVersion falls back to the running toolchain version when not set.
package buildinfo
