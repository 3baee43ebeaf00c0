package iotserver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/core/service"
	"github.com/yndnr/iotmesh-go/internal/protocol"
	"github.com/yndnr/iotmesh-go/internal/telemetry/metric"
)

// HandlerFunc serves one request for a session and returns the reply.
type HandlerFunc func(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope

// Router dispatches requests to handlers by opcode. The table is built
// once in NewRouter and never changes.
type Router struct {
	registry *service.Registry
	handlers map[protocol.Opcode]HandlerFunc
	metrics  *metric.Registry
	logger   *slog.Logger
}

// NewRouter creates a Router over registry.
func NewRouter(registry *service.Registry, metrics *metric.Registry, logger *slog.Logger) *Router {
	if metrics == nil {
		metrics = metric.Global()
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
	r.handlers = map[protocol.Opcode]HandlerFunc{
		protocol.OpValidateUser:         r.handleValidateUser,
		protocol.OpValidateDevice:       r.handleValidateDevice,
		protocol.OpValidateProgram:      r.handleValidateProgram,
		protocol.OpCreateDomain:         r.handleCreateDomain,
		protocol.OpAddUserDomain:        r.handleAddUserDomain,
		protocol.OpRegisterDeviceDomain: r.handleRegisterDeviceDomain,
		protocol.OpSendTemp:             r.handleSendTemp,
		protocol.OpSendImage:            r.handleSendImage,
		protocol.OpGetTemp:              r.handleGetTemp,
		protocol.OpGetUserImage:         r.handleGetUserImage,
		protocol.OpExit:                 r.handleTerminate,
		protocol.OpEOS:                  r.handleTerminate,
	}
	return r
}

// Process routes req and returns the reply. A nil request yields a nil
// reply; an opcode without a handler yields NOK_UNSUPPORTED.
func (r *Router) Process(ctx context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	if req == nil {
		return nil
	}

	start := time.Now()
	h, ok := r.handlers[req.Op]
	if !ok {
		h = r.handleUnsupported
	}
	resp := h(ctx, s, req)

	op := req.Op.String()
	if !ok {
		op = "unknown"
	}
	r.metrics.RecordRequest(op, resp.Op.String())
	r.metrics.ObserveRequestDuration(op, time.Since(start).Seconds())
	if req.Op.IsAuth() && !resp.Op.OK() {
		r.metrics.RecordAuthFailure(authStage(req.Op))
	}

	r.logger.Debug("request handled",
		"session_id", s.ID,
		"request", req,
		"reply", resp.Op,
		"duration", time.Since(start),
	)
	return resp
}

func (r *Router) handleUnsupported(_ context.Context, s *domain.Session, req *protocol.Envelope) *protocol.Envelope {
	r.logger.Warn("unsupported operation",
		"session_id", s.ID,
		"opcode", req.Op,
		"error", domain.ErrUnsupportedOperation.WithDetails(req.Op.String()),
	)
	return protocol.New(protocol.OpNOKUnsupported)
}

// authStage turns VALIDATE_DEVICE into "device".
func authStage(op protocol.Opcode) string {
	return strings.ToLower(strings.TrimPrefix(op.String(), "VALIDATE_"))
}
