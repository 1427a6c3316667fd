// Package server assembles the hub, its HTTP surface and its metrics into a
// runnable Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/geoshare/internal/metrics"
)

// Server is a running geoshare hub with its HTTP listener.
type Server struct {
	cfg        *Config
	hub        *Hub
	prom       *metrics.Metrics
	httpServer *http.Server
}

// New builds a Server from cfg. Nothing listens until Run is called.
func New(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	prom, err := metrics.New(metrics.DefaultEndpoint)
	if err != nil {
		return nil, err
	}

	app, err := metrics.NewAppMetrics(prom.Meter)
	if err != nil {
		return nil, fmt.Errorf("app metrics: %w", err)
	}

	hub := NewHub(cfg, app)
	mux := SetupRoutes(hub, cfg, app, prom)

	return &Server{
		cfg:        cfg,
		hub:        hub,
		prom:       prom,
		httpServer: CreateServer(cfg.Port, mux),
	}, nil
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled or the listener fails, then shuts the
// HTTP server, the hub and the meter provider down in that order.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- StartServer(s.httpServer)
	}()

	log.Info("Hub started and ready to manage WebSocket connections")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("listen: %w", err)
		}
	}

	return errors.Join(runErr, s.shutdown())
}

func (s *Server) shutdown() error {
	timeout := s.cfg.ShutdownTimeout

	var errs []error
	if err := ShutdownServer(s.httpServer, timeout); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := s.hub.Shutdown(timeout); err != nil {
		errs = append(errs, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.prom.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
