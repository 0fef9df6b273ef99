// Package api provides the HTTP REST API and WebSocket server for graycast.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/audit"
	"github.com/nerrad567/gray-logic-cast/internal/bridges/chromecast"
	"github.com/nerrad567/gray-logic-cast/internal/cast"
	"github.com/nerrad567/gray-logic-cast/internal/debounce"
	"github.com/nerrad567/gray-logic-cast/internal/device"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cast/internal/search"
)

const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	// searchDebounce is the quiet period before a search query is sent.
	searchDebounce = 300 * time.Millisecond
)

// WebSocket channels.
const (
	ChannelCapability = "capability"
	ChannelDiscovery  = "discovery"
)

// Controller runs cast commands. *cast.Controller satisfies it.
type Controller interface {
	Execute(ctx context.Context, id string, cmd cast.Command, params json.RawMessage) (any, error)
	CapabilityGet(ctx context.Context, id string, capability cast.Capability) (any, error)
}

// Searcher finds YouTube videos. *search.YouTube satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// ConnStatsSource reports receiver connections. *cast.ConnectionManager
// satisfies it.
type ConnStatsSource interface {
	Stats() []cast.ConnStats
}

// BridgeMetricsProvider reports MQTT bridge counters.
type BridgeMetricsProvider interface {
	GetMetrics() chromecast.BridgeMetrics
}

// DBStatsProvider reports database pool statistics. *sql.DB satisfies it.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// AuditTrail records and lists audited operations. *audit.Recorder
// satisfies it.
type AuditTrail interface {
	Command(ctx context.Context, source, subject, deviceID, command string, cmdErr error)
	Pairing(ctx context.Context, action, subject, deviceID string, opErr error)
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Devices is the paired device store.
	Devices *device.Registry

	// Registry is the live discovery view.
	Registry *cast.Registry

	Controller   Controller
	Capabilities *cast.Capabilities

	// Optional.
	Connections ConnStatsSource
	Search      Searcher
	Bridge      BridgeMetricsProvider
	DB          DBStatsProvider
	Audit       AuditTrail

	Version string
}

// searchQuery is one debounced search call.
type searchQuery struct {
	Query string
	Limit int
}

// Server is the HTTP API server for graycast.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	secCfg       config.SecurityConfig
	logger       *logging.Logger
	devices      *device.Registry
	registry     *cast.Registry
	controller   Controller
	caps         *cast.Capabilities
	connections  ConnStatsSource
	bridge       BridgeMetricsProvider
	db           DBStatsProvider
	audit        AuditTrail
	search       *debounce.Func[searchQuery, []search.Result]
	tickets      *ticketStore
	version      string
	startTime    time.Time
	server       *http.Server
	hub          *Hub
	cancel       context.CancelFunc // cancels background goroutines on Close()
	eventsHooked bool
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("cast registry is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if deps.Capabilities == nil {
		return nil, fmt.Errorf("capabilities are required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		devices:     deps.Devices,
		registry:    deps.Registry,
		controller:  deps.Controller,
		caps:        deps.Capabilities,
		connections: deps.Connections,
		bridge:      deps.Bridge,
		db:          deps.DB,
		audit:       deps.Audit,
		tickets:     newTicketStore(),
		version:     deps.Version,
		startTime:   time.Now(),
	}
	if deps.Search != nil {
		s.search = debounce.New(func(ctx context.Context, q searchQuery) ([]search.Result, error) {
			return deps.Search.Search(ctx, q.Query, q.Limit)
		}, searchDebounce)
	}
	s.hub = NewHub(s.wsCfg, s.logger)

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, forwards capability and discovery events to
// it, and launches the HTTP listener in a background goroutine. The server
// can be stopped with Close().
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	s.hookEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// hookEvents forwards core events to WebSocket subscribers. Listeners cannot
// be removed, so this runs once per server.
func (s *Server) hookEvents() {
	if s.eventsHooked {
		return
	}
	s.eventsHooked = true

	s.caps.OnChange(func(change cast.CapabilityChange) {
		s.hub.Broadcast(ChannelCapability, change)
	})
	s.registry.OnDeviceKnown(func(d cast.Device) {
		s.hub.Broadcast(ChannelDiscovery, d)
	})
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
