package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/core/service"
	"github.com/yndnr/iotmesh-go/internal/storage"
	"github.com/yndnr/iotmesh-go/internal/storage/memory"
)

// DeviceCounts defines the domain sizes for full runs.
var DeviceCounts = []int{100, 1000, 10000, 50000}

// SmallDeviceCounts for quick benchmarks.
var SmallDeviceCounts = []int{10, 100, 1000}

const (
	benchUser     = "bench"
	benchPassword = "bench-pw"
	benchDomain   = "lab"
)

var (
	benchProgram = service.ProgramIdentity{Name: "iotmesh-device", Size: 4096}
	discard      = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// newMemoryStore returns a KVStore over the in-memory engine.
func newMemoryStore() *storage.KVStore {
	return storage.NewKVStore(memory.New(), discard)
}

// newBadgerStore returns a KVStore over a Badger engine in a temp dir.
func newBadgerStore(b *testing.B) *storage.KVStore {
	b.Helper()
	cfg := storage.DefaultKVConfig(b.TempDir())
	cfg.Badger.SyncWrites = false
	engine, err := storage.NewBadgerEngine(cfg, discard)
	if err != nil {
		b.Fatalf("NewBadgerEngine() error = %v", err)
	}
	store := storage.NewKVStore(engine, discard)
	b.Cleanup(func() { store.Close() })
	return store
}

// prefillStore writes the bench user, count devices with one reading each
// and a domain holding all of them.
func prefillStore(b *testing.B, store *storage.KVStore, count int) {
	b.Helper()
	ctx := context.Background()

	secret, err := service.HashPassword(benchPassword)
	if err != nil {
		b.Fatalf("HashPassword() error = %v", err)
	}
	must := func(err error) {
		if err != nil {
			b.Fatalf("prefill: %v", err)
		}
	}

	must(store.OnEntityChanged(ctx, &domain.User{Name: benchUser, Secret: secret}))
	g := domain.NewDomain(benchDomain, benchUser)
	now := time.Now()
	for i := 0; i < count; i++ {
		dev := domain.NewDevice(benchUser, i)
		must(store.OnEntityChanged(ctx, dev))
		must(store.PutTemperature(ctx, dev.Name(), domain.Reading{Value: 20 + float64(i%10)/10, At: now}))
		g.AddDevice(dev.Name())
	}
	must(store.OnEntityChanged(ctx, g))
}

// newRegistry loads a registry from store.
func newRegistry(b *testing.B, store service.Store) *service.Registry {
	b.Helper()
	r, err := service.NewRegistry(context.Background(), store, service.RegistryConfig{
		Program: benchProgram,
		Logger:  discard,
	})
	if err != nil {
		b.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

// login completes the handshake for a fresh device of the bench user.
func login(b *testing.B, r *service.Registry, devID int) *domain.Session {
	b.Helper()
	ctx := context.Background()
	s, err := domain.NewSession("127.0.0.1:40000")
	if err != nil {
		b.Fatalf("NewSession() error = %v", err)
	}
	if _, err := r.ValidateUser(ctx, s, benchUser, benchPassword); err != nil {
		b.Fatalf("ValidateUser() error = %v", err)
	}
	if err := r.ClaimDevice(ctx, s, devID); err != nil {
		b.Fatalf("ClaimDevice() error = %v", err)
	}
	if err := r.VerifyProgram(s, benchProgram.Name, benchProgram.Size); err != nil {
		b.Fatalf("VerifyProgram() error = %v", err)
	}
	return s
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithDeviceCounts runs a benchmark function with various domain sizes.
func runWithDeviceCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("devices_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
