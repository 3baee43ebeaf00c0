package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/core/service"
	"github.com/yndnr/iotmesh-go/internal/telemetry/metric"
)

// RegistryView is the read-only part of the registry served over HTTP.
type RegistryView interface {
	Stats() service.RegistryStats
	Domain(name string) (*domain.Domain, bool)
}

// SessionView lists the live device connections.
type SessionView interface {
	Sessions() []service.SessionInfo
	ActiveConnections() int
}

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Registry RegistryView
	Sessions SessionView
	Metrics  *metric.Registry
	Logger   *slog.Logger

	// StorageHealth reports whether the storage engine is usable. Nil
	// means always healthy.
	StorageHealth func(ctx context.Context) error

	// AllowList is the IP/CIDR allowlist (empty = no restriction).
	AllowList []string

	// RateLimit is the per-IP request rate (0 = unlimited).
	RateLimit int
}

// NewRouter creates the router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = metric.Global()
	}

	h := &handlers{
		registry:      cfg.Registry,
		sessions:      cfg.Sessions,
		storageHealth: cfg.StorageHealth,
		logger:        logger,
	}

	r := chi.NewRouter()

	// Order: RequestID -> Recover -> ACL -> RateLimit -> AccessLog -> handler
	r.Use(RequestID())
	r.Use(Recover(logger))
	if len(cfg.AllowList) > 0 {
		r.Use(NetworkACL(&NetworkACLConfig{AllowList: cfg.AllowList, Logger: logger}))
	}
	if cfg.RateLimit > 0 {
		r.Use(RateLimit(cfg.RateLimit))
	}
	r.Use(AccessLog(logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", h.version)
		r.Get("/stats", h.stats)
		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{id}", h.getSession)
		r.Get("/domains/{name}", h.getDomain)
	})

	return r
}
