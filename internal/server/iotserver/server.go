package iotserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/core/service"
	"github.com/yndnr/iotmesh-go/internal/protocol"
	"github.com/yndnr/iotmesh-go/internal/telemetry/metric"
	"github.com/yndnr/iotmesh-go/pkg/cmap"
)

// ErrServerRunning is returned by Start on a server that already started.
var ErrServerRunning = errors.New("iotserver: already running")

// Server is the device listener.
type Server struct {
	cfg      *Config
	registry *service.Registry
	router   *Router
	metrics  *metric.Registry
	logger   *slog.Logger

	mu sync.Mutex
	ln net.Listener

	sem     *semaphore.Weighted
	workers *cmap.Map[string, *worker]
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a device listener serving registry.
func New(cfg *Config, registry *service.Registry, metrics *metric.Registry, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if metrics == nil {
		metrics = metric.Global()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "iotserver")

	s := &Server{
		cfg:      cfg.withDefaults(),
		registry: registry,
		router:   NewRouter(registry, metrics, logger),
		metrics:  metrics,
		logger:   logger,
		workers:  cmap.New[string, *worker](),
	}
	if s.cfg.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(s.cfg.MaxConnections))
	}
	return s
}

// Start binds the listen address and accepts connections in the background.
// Workers derive their contexts from ctx.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("iotserver: listen %s: %w", s.cfg.Address, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("device listener started",
		"address", ln.Addr().String(),
		"max_connections", s.cfg.MaxConnections,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx, ln); err != nil && s.running.Load() {
			s.logger.Error("accept loop stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Router returns the request router.
func (s *Server) Router() *Router { return s.router }

// ActiveConnections returns the number of live workers.
func (s *Server) ActiveConnections() int { return s.workers.Count() }

// Sessions describes every live session, oldest first.
func (s *Server) Sessions() []service.SessionInfo {
	workers := s.workers.Values()
	out := make([]service.SessionInfo, 0, len(workers))
	for _, w := range workers {
		out = append(out, s.registry.DescribeSession(w.session))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Shutdown cancels every worker, closes the listening socket and waits for
// the close handshakes to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.workers.Range(func(_ string, w *worker) bool {
		w.cancel()
		return true
	})

	var firstErr error
	s.mu.Lock()
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("device listener stopped")
	return firstErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		if !s.running.Load() {
			_ = c.Close()
			continue
		}
		if s.sem != nil && !s.sem.TryAcquire(1) {
			s.metrics.ConnectionRejected()
			s.logger.Warn("connection rejected, limit reached",
				"remote", c.RemoteAddr().String(),
				"max_connections", s.cfg.MaxConnections,
			)
			_ = c.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if s.sem != nil {
				defer s.sem.Release(1)
			}
			s.serveConn(ctx, c)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	session, err := domain.NewSession(c.RemoteAddr().String())
	if err != nil {
		s.logger.Error("create session failed", "remote", c.RemoteAddr().String(), "error", err)
		_ = c.Close()
		return
	}

	stream := protocol.NewStream(c, s.cfg.MaxEnvelopeBytes)
	w := newWorker(s.cfg, stream, session, s.router, s.registry, s.logger)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.cancel = cancel

	s.workers.Set(session.ID, w)
	s.metrics.ConnectionOpened()
	defer func() {
		s.workers.Delete(session.ID)
		s.metrics.ConnectionClosed()
	}()

	// Shutdown may have ranged over the table before this worker joined it.
	if !s.running.Load() {
		cancel()
	}

	w.run(wctx)
}
