package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/rfm-gateway/internal/bridges/rfm"
	"github.com/nerrad567/rfm-gateway/internal/daemon"
	"github.com/nerrad567/rfm-gateway/internal/infrastructure/config"
	"github.com/nerrad567/rfm-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/rfm-gateway/internal/node"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// Timeouts for the status listener. Responses are small.
const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// StatusProvider supplies the gateway snapshot.
type StatusProvider interface {
	Status() rfm.Status
}

// RadioStatsProvider supplies radio daemon counters.
type RadioStatsProvider interface {
	Stats() rfm.RadiodStats
}

// DaemonStatsProvider supplies the supervised radio daemon's state.
type DaemonStatsProvider interface {
	Stats() daemon.Stats
}

// NodeLister supplies the node registry.
type NodeLister interface {
	List(ctx context.Context) ([]node.Node, error)
	Get(ctx context.Context, id int) (*node.Node, error)
}

// HealthChecker is implemented by every link the health endpoint reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check names a HealthChecker in the /healthz response.
type Check struct {
	Name    string
	Checker HealthChecker
}

// Deps holds the dependencies required by the status server.
type Deps struct {
	Config  config.HTTPConfig
	Logger  *logging.Logger
	Gateway StatusProvider
	Radio   RadioStatsProvider  // optional
	Daemon  DaemonStatsProvider // optional, set when the gateway owns the daemon
	Nodes   NodeLister          // optional, serves /api/v1/nodes
	Checks  []Check
	Metrics http.Handler // optional, serves /metrics
	Version string
}

// Server is the HTTP status server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg       config.HTTPConfig
	logger    *logging.Logger
	gateway   StatusProvider
	radio     RadioStatsProvider
	daemon    DaemonStatsProvider
	nodes     NodeLister
	checks    []Check
	metrics   http.Handler
	version   string
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new status server with the given dependencies.
//
// Parameters:
//   - deps: Required dependencies (config, logger, gateway)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway status provider is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		gateway:   deps.Gateway,
		radio:     deps.Radio,
		daemon:    deps.Daemon,
		nodes:     deps.Nodes,
		checks:    deps.Checks,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens before Start returns, so an address already in use is
// reported here rather than logged later.
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("binding status server: %w", err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("status server listening", "address", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server.
//
// It waits up to 5 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("status server health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("status server not started")
	}
	return nil
}
