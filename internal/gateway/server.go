// Package gateway hosts the channel bridge behind an HTTP server with health
// and metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/chanbridge/internal/bridge"
	"github.com/haasonsaas/chanbridge/internal/config"
)

// Options wires a Server.
type Options struct {
	Config   config.ServerConfig
	Bridge   *bridge.Server
	Gatherer prometheus.Gatherer
	// LockKey identifies the channel store for the instance lock.
	LockKey string
	Logger  *slog.Logger
}

// Server owns the HTTP listener and the bridge lifecycle.
type Server struct {
	config   config.ServerConfig
	bridge   *bridge.Server
	gatherer prometheus.Gatherer
	lockKey  string
	logger   *slog.Logger

	startTime time.Time

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	lock       *InstanceLock
	serveErr   chan error
}

// New builds the HTTP front for opts.Bridge. Start binds the listener.
func New(opts Options) (*Server, error) {
	if opts.Bridge == nil {
		return nil, errors.New("bridge server is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:   opts.Config,
		bridge:   opts.Bridge,
		gatherer: gatherer,
		lockKey:  opts.LockKey,
		logger:   logger.With("component", "gateway"),
	}, nil
}

// Handler returns the HTTP routes: the channel endpoint, /healthz and the
// metrics path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	metricsPath := s.config.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle("GET "+metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.bridge.Routes(mux)
	return mux
}

// Start acquires the instance lock and begins serving. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("gateway already started")
	}

	lock, err := AcquireInstanceLock(LockOptions{
		Dir:      s.config.StateDir,
		Key:      s.lockKey,
		Disabled: s.config.AllowMultiple,
	})
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}

	addr := s.config.Addr()
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		_ = lock.Release() //nolint:errcheck
		return fmt.Errorf("http listen: %w", err)
	}

	readHeaderTimeout := s.config.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	s.startTime = time.Now()
	s.httpServer = server
	s.listener = listener
	s.lock = lock
	s.serveErr = make(chan error, 1)

	go func(errs chan<- error) {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
			errs <- err
		}
		close(errs)
	}(s.serveErr)

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Done yields the serve error, if any, and is closed when serving stops.
func (s *Server) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Stop stops accepting requests, closes every channel connection and releases
// the instance lock.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server, lock := s.httpServer, s.lock
	s.httpServer, s.listener, s.lock = nil, nil, nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	// Upgraded connections are hijacked and not tracked by http.Server.
	if err := s.bridge.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("bridge shutdown: %w", err))
	}
	if err := lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release instance lock: %w", err))
	}
	s.logger.Info("http server stopped")
	return errors.Join(errs...)
}

type healthResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	ActiveChannels int    `json:"active_channels"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.startTime
	s.mu.Unlock()

	resp := healthResponse{
		Status:         "ok",
		ActiveChannels: s.bridge.Registry().Len(),
	}
	if !started.IsZero() {
		resp.Uptime = time.Since(started).Round(time.Second).String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp) //nolint:errcheck
}
