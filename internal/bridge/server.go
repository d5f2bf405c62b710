package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/haasonsaas/chanbridge/internal/audit"
	"github.com/haasonsaas/chanbridge/internal/backoff"
	"github.com/haasonsaas/chanbridge/internal/observability"
	"github.com/haasonsaas/chanbridge/internal/ratelimit"
	"github.com/haasonsaas/chanbridge/internal/storage"
	"github.com/haasonsaas/chanbridge/internal/wire"
)

// Limits bounds per-connection behaviour.
type Limits struct {
	AuthTimeout          time.Duration
	MaxAuthAttempts      int
	KeepaliveInterval    time.Duration
	WriteTimeout         time.Duration
	MaxFrameBytes        int64
	MaxBufferedBytes     int
	HistoryDefaultLimit  int
	HistoryMaxLimit      int
	UpstreamDialTimeout  time.Duration
	UpstreamDialAttempts int
	UpstreamBackoff      backoff.Policy
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		AuthTimeout:          30 * time.Second,
		MaxAuthAttempts:      3,
		KeepaliveInterval:    30 * time.Second,
		WriteTimeout:         10 * time.Second,
		MaxFrameBytes:        wire.DefaultMaxFrameBytes,
		MaxBufferedBytes:     1 << 20,
		HistoryDefaultLimit:  50,
		HistoryMaxLimit:      200,
		UpstreamDialTimeout:  10 * time.Second,
		UpstreamDialAttempts: 3,
		UpstreamBackoff:      backoff.DefaultPolicy(),
	}
}

// Options wires a Server to its collaborators. Channels is required.
type Options struct {
	Channels       storage.ChannelLookup
	History        storage.HistoryStore
	Registry       *Registry
	TokenValidator TokenValidator
	Limits         Limits
	Logger         *slog.Logger
	Audit          *audit.Logger
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer

	// ConnectLimiter throttles upgrade attempts per client address. Nil
	// disables throttling.
	ConnectLimiter *ratelimit.Limiter
}

// Server accepts channel connections and serves them in brokered or proxied
// mode.
type Server struct {
	channels  storage.ChannelLookup
	registry  *Registry
	router    *Router
	validator TokenValidator
	limiter   *ratelimit.Limiter
	limits    Limits

	logger  *slog.Logger
	audit   *audit.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	live     map[*Conn]struct{}
	stopping bool
}

// NewServer validates opts and fills unset auth, size and upstream limits
// from DefaultLimits. A zero KeepaliveInterval disables pings.
func NewServer(opts Options) (*Server, error) {
	if opts.Channels == nil {
		return nil, errors.New("channel lookup is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bridge")

	limits := opts.Limits
	defaults := DefaultLimits()
	if limits.AuthTimeout <= 0 {
		limits.AuthTimeout = defaults.AuthTimeout
	}
	if limits.MaxAuthAttempts <= 0 {
		limits.MaxAuthAttempts = defaults.MaxAuthAttempts
	}
	if limits.MaxFrameBytes <= 0 {
		limits.MaxFrameBytes = defaults.MaxFrameBytes
	}
	if limits.MaxBufferedBytes <= 0 {
		limits.MaxBufferedBytes = defaults.MaxBufferedBytes
	}
	if limits.UpstreamDialTimeout <= 0 {
		limits.UpstreamDialTimeout = defaults.UpstreamDialTimeout
	}
	if limits.UpstreamDialAttempts <= 0 {
		limits.UpstreamDialAttempts = defaults.UpstreamDialAttempts
	}
	if limits.UpstreamBackoff.Initial <= 0 {
		limits.UpstreamBackoff = defaults.UpstreamBackoff
	}

	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		channels:  opts.Channels,
		registry:  registry,
		validator: opts.TokenValidator,
		limiter:   opts.ConnectLimiter,
		limits:    limits,
		router: NewRouter(RouterConfig{
			Registry:            registry,
			History:             opts.History,
			Channels:            opts.Channels,
			HistoryDefaultLimit: limits.HistoryDefaultLimit,
			HistoryMaxLimit:     limits.HistoryMaxLimit,
			Logger:              logger,
			Metrics:             opts.Metrics,
		}),
		logger:  logger,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		ctx:     ctx,
		cancel:  cancel,
		live:    make(map[*Conn]struct{}),
	}, nil
}

// Registry exposes the live connection registry.
func (s *Server) Registry() *Registry { return s.registry }

// Routes registers the channel endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /channel/{channelID}", s.handleChannel)
}

// Shutdown closes every live connection and waits for their goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	conns := make([]*Conn, 0, len(s.live))
	for c := range s.live {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close(wire.CloseGoingAway, "Server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		for _, c := range conns {
			c.abort()
		}
		return ctx.Err()
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.live[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.live, c)
	s.mu.Unlock()
	s.wg.Done()
}
