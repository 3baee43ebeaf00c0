package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/core/service"
	"github.com/yndnr/iotmesh-go/internal/infra/buildinfo"
)

const healthCheckTimeout = 2 * time.Second

type handlers struct {
	registry      RegistryView
	sessions      SessionView
	storageHealth func(ctx context.Context) error
	logger        *slog.Logger
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Error   string `json:"error,omitempty"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	service.RegistryStats
	Connections int `json:"connections"`
}

// SessionsResponse is the body of GET /v1/sessions.
type SessionsResponse struct {
	Sessions []service.SessionInfo `json:"sessions"`
	Total    int                   `json:"total"`
}

// DomainResponse is the body of GET /v1/domains/{name}.
type DomainResponse struct {
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
	Devices []string `json:"devices"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.storageHealth == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Storage: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	if err := h.storageHealth(ctx); err != nil {
		h.logger.Warn("storage health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "degraded",
			Storage: "unavailable",
			Error:   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Storage: "ok"})
}

func (h *handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Get())
}

func (h *handlers) stats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{RegistryStats: h.registry.Stats()}
	if h.sessions != nil {
		resp.Connections = h.sessions.ActiveConnections()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listSessions(w http.ResponseWriter, _ *http.Request) {
	var sessions []service.SessionInfo
	if h.sessions != nil {
		sessions = h.sessions.Sessions()
	}
	if sessions == nil {
		sessions = []service.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions, Total: len(sessions)})
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(chi.URLParam(r, "id"))
	if !domain.IsValidSessionID(id) {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "malformed session id")
		return
	}
	if h.sessions != nil {
		for _, s := range h.sessions.Sessions() {
			if s.ID == id {
				writeJSON(w, http.StatusOK, s)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "session_not_found", "session "+id+" is not connected")
}

func (h *handlers) getDomain(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	g, ok := h.registry.Domain(name)
	if !ok {
		writeError(w, http.StatusNotFound, "domain_not_found", "domain "+name+" does not exist")
		return
	}
	writeJSON(w, http.StatusOK, DomainResponse{
		Name:    g.Name,
		Owner:   g.Owner,
		Members: g.Members(),
		Devices: g.Devices(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("X-Error-Code", code)
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
