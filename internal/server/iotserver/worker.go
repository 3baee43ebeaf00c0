package iotserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/core/service"
	"github.com/yndnr/iotmesh-go/internal/protocol"
)

// worker serves one device connection.
type worker struct {
	cfg      *Config
	stream   *protocol.Stream
	session  *domain.Session
	router   *Router
	registry *service.Registry
	limiter  *rate.Limiter
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// stopUnblock disarms the cancellation hook; unblocked is closed once
	// the hook has run.
	stopUnblock func() bool
	unblocked   chan struct{}
}

func newWorker(cfg *Config, stream *protocol.Stream, session *domain.Session, router *Router, registry *service.Registry, logger *slog.Logger) *worker {
	w := &worker{
		cfg:       cfg,
		stream:    stream,
		session:   session,
		router:    router,
		registry:  registry,
		logger:    logger.With("session_id", session.ID, "remote", session.Remote),
		cancel:    func() {},
		done:      make(chan struct{}),
		unblocked: make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return w
}

// run serves requests until the peer leaves, an I/O error occurs or ctx is
// cancelled. The session is always closed and the stream released.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.stream.Close()
	defer func() {
		if w.registry.CloseSession(w.session) {
			w.logger.Info("device released on disconnect", "device", w.session.DeviceName())
		}
	}()

	// Cancellation unblocks a pending Decode.
	w.stopUnblock = context.AfterFunc(ctx, func() {
		_ = w.stream.SetReadDeadline(time.Now())
		close(w.unblocked)
	})
	defer w.stopUnblock()

	w.logger.Debug("connection opened")

	for {
		if err := w.stream.SetReadDeadline(time.Now().Add(w.cfg.IdleTimeout)); err != nil {
			w.logger.Debug("arm read deadline failed", "error", err)
			return
		}
		// Re-check after arming the deadline: an AfterFunc that already fired
		// has been overwritten.
		if ctx.Err() != nil {
			w.closeHandshake(ctx)
			return
		}

		req, err := w.stream.Decode()
		if err != nil {
			if ctx.Err() != nil {
				w.closeHandshake(ctx)
				return
			}
			w.logReadError(err)
			return
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				w.closeHandshake(ctx)
				return
			}
		}

		resp := w.router.Process(ctx, w.session, req)
		if resp == nil {
			continue
		}
		if err := w.stream.Write(resp, w.cfg.WriteTimeout); err != nil {
			w.logger.Debug("write failed", "opcode", resp.Op, "error", err)
			return
		}
		if req.Op.Terminates() {
			w.logger.Info("connection closed by device", "opcode", req.Op)
			return
		}
	}
}

func (w *worker) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		w.logger.Debug("connection closed by peer")
	case protocol.IsTimeout(err):
		w.logger.Info("connection idle timeout", "idle_timeout", w.cfg.IdleTimeout)
	case errors.Is(err, protocol.ErrEnvelopeTooLarge):
		w.logger.Warn("envelope too large", "limit", w.cfg.MaxEnvelopeBytes)
	default:
		w.logger.Debug("connection read error", "error", err)
	}
}

// closeHandshake ends the session on the server's initiative: route a
// synthetic EOS, send EOS to the device and wait until CloseTimeout for its
// OK_ACCEPTED.
func (w *worker) closeHandshake(ctx context.Context) {
	if !w.stopUnblock() {
		<-w.unblocked
	}
	w.router.Process(context.WithoutCancel(ctx), w.session, protocol.New(protocol.OpEOS))

	deadline := time.Now().Add(w.cfg.CloseTimeout)
	if err := w.stream.WriteBy(protocol.New(protocol.OpEOS), deadline); err != nil {
		w.logger.Debug("close handshake: send EOS failed", "error", err)
		return
	}
	if err := w.stream.SetReadDeadline(deadline); err != nil {
		return
	}

	// A request already in flight may arrive before the acknowledgement.
	for {
		ack, err := w.stream.Decode()
		if err != nil {
			w.logger.Info("connection closed by server", "graceful", false, "error", err)
			return
		}
		if ack.Op == protocol.OpOKAccepted {
			w.logger.Info("connection closed by server", "graceful", true)
			return
		}
	}
}
