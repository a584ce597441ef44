package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/l0p7/domainscout/internal/config"
)

// ShutdownTimeout bounds how long in-flight requests, including a running
// batch, may take to drain once the context ends.
const ShutdownTimeout = 30 * time.Second

// Server owns the HTTP listener lifecycle.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	drain      time.Duration

	mu    sync.Mutex
	bound net.Addr
}

// New binds handler to the configured listen address. Nothing listens until
// Run.
func New(cfg config.Config, logger *slog.Logger, handler http.Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger.With(slog.String("component", "http")),
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Listen.Address, strconv.Itoa(cfg.Server.Listen.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		drain: ShutdownTimeout,
	}, nil
}

// Addr returns the listener address once Run has bound it, and the configured
// address before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != nil {
		return s.bound.String()
	}
	return s.httpServer.Addr
}

// Run serves until ctx ends, then drains in-flight requests. A request still
// running when the drain window closes is abandoned.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listener started", slog.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http listener draining", slog.Duration("timeout", s.drain))
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.drain)
	defer cancel()
	if err := s.httpServer.Shutdown(drainCtx); err != nil {
		_ = s.httpServer.Close()
		return fmt.Errorf("server: drain: %w", err)
	}
	return ctx.Err()
}
