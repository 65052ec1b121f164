// Package server exposes the routing engine over HTTP: a REST API under /api
// and a JSON-RPC 2.0 endpoint at /jsonrpc.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"content-router/src/internal/common"
	"content-router/src/routing"
	"content-router/src/storage"
)

// RegionResolver maps a client address onto a configured region
type RegionResolver interface {
	Enabled() bool
	Region(ip string) string
}

// Options wires the server to the engine and its optional collaborators.
// Only Engine is required.
type Options struct {
	Engine    *routing.Engine
	Bandwidth *routing.BandwidthAwareRouter
	Geo       RegionResolver
	State     storage.StateStore
	Archive   storage.DecisionArchive
	Cache     *storage.RedisMappingCache
	// AllowedOrigins feeds the CORS middleware; empty allows any origin.
	AllowedOrigins []string
	// HealthDetails adds runtime sections to the /health payload.
	HealthDetails func() map[string]interface{}
}

// Server is the HTTP front of the router
type Server struct {
	echo      *echo.Echo
	engine    *routing.Engine
	bandwidth *routing.BandwidthAwareRouter
	geo       RegionResolver
	state     storage.StateStore
	archive   storage.DecisionArchive
	cache     *storage.RedisMappingCache
	details   func() map[string]interface{}

	responses *ResponseFactory
	addr      string
	listener  net.Listener
	started   time.Time
	logger    *common.SafeLogger
}

// NewServer creates a server bound to addr. Nothing listens until Start.
func NewServer(addr string, opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server requires a routing engine")
	}
	bandwidth := opts.Bandwidth
	if bandwidth == nil {
		bandwidth = routing.NewBandwidthAwareRouter(opts.Engine, nil, 0)
	}

	s := &Server{
		echo:      echo.New(),
		engine:    opts.Engine,
		bandwidth: bandwidth,
		geo:       opts.Geo,
		state:     opts.State,
		archive:   opts.Archive,
		cache:     opts.Cache,
		details:   opts.HealthDetails,
		responses: NewResponseFactory(),
		addr:      addr,
		started:   time.Now(),
		logger:    common.ServerLogger,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadHeaderTimeout = 5 * time.Second
	s.echo.Server.IdleTimeout = 60 * time.Second

	s.echo.Use(RequestLoggerMiddleware(s.logger))
	s.echo.Use(RecoverMiddleware(s.logger))
	s.echo.Use(CORSMiddleware(opts.AllowedOrigins))
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/health", s.handleHealth)
	e.POST("/jsonrpc", s.handleJSONRPC)

	api := e.Group("/api")
	api.POST("/select", s.handleSelect)
	api.POST("/outcome", s.handleOutcome)
	api.POST("/classify", s.handleClassify)
	api.GET("/insights", s.handleInsights)
	api.GET("/network/fastest", s.handleFastest)

	backends := api.Group("/backends")
	backends.GET("", s.handleListBackends)
	backends.POST("", s.handleRegisterBackend)
	backends.DELETE("/:id", s.handleUnregisterBackend)
	backends.PUT("/:id/availability", s.handleAvailability)
	backends.PUT("/:id/network", s.handleNetworkUpdate)

	api.GET("/stats", s.handleAllStats)
	api.GET("/stats/:id", s.handleBackendStats)

	mappings := api.Group("/mappings")
	mappings.GET("", s.handleMappings)
	mappings.GET("/suggest", s.handleSuggest)
	mappings.POST("/refresh", s.handleRefreshMappings)
	mappings.GET("/:category", s.handleMapping)
	mappings.PUT("/:category", s.handleSetMapping)

	cfg := api.Group("/config")
	cfg.GET("/export", s.handleExport)
	cfg.POST("/import", s.handleImport)

	decisions := api.Group("/decisions")
	decisions.GET("", s.handleDecisions)
	decisions.GET("/counts", s.handleDecisionCounts)
}

// Handler returns the HTTP handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.echo.Listener = ln

	go func() {
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

// Address returns the bound address (host:port), or the configured one before Start
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
