// Package api provides the HTTP REST API for Hanibi Core.
//
// It exposes the inbound sensor surface (reports, heartbeats, events),
// device and session queries, the camera endpoints and the request log.
// All inbound sensor traffic is delegated to the shared ingest
// pipeline, so HTTP and MQTT devices hit identical semantics.
//
// The server follows the same lifecycle pattern as other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hanibi/hanibi-core/internal/audit"
	"github.com/hanibi/hanibi-core/internal/camera"
	"github.com/hanibi/hanibi-core/internal/device"
	"github.com/hanibi/hanibi-core/internal/infrastructure/config"
	"github.com/hanibi/hanibi-core/internal/infrastructure/logging"
	"github.com/hanibi/hanibi-core/internal/ingest"
	"github.com/hanibi/hanibi-core/internal/session"
	"github.com/hanibi/hanibi-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Ingest   *ingest.Service
	Registry *device.Registry
	Engine   *session.Engine
	Sessions session.Repository
	Readings telemetry.Repository
	Latest   *telemetry.LatestCache
	Camera   *camera.Service
	Logs     audit.Repository
	Recorder *audit.Writer // optional: request outcome recording
	Version  string
}

// Server is the HTTP API server for Hanibi Core.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	ingest   *ingest.Service
	registry *device.Registry
	engine   *session.Engine
	sessions session.Repository
	readings telemetry.Repository
	latest   *telemetry.LatestCache
	camera   *camera.Service
	logs     audit.Repository
	recorder *audit.Writer
	version  string
	server   *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Ingest == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("session engine is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		ingest:   deps.Ingest,
		registry: deps.Registry,
		engine:   deps.Engine,
		sessions: deps.Sessions,
		readings: deps.Readings,
		latest:   deps.Latest,
		camera:   deps.Camera,
		logs:     deps.Logs,
		recorder: deps.Recorder,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server, waiting for in-flight
// requests up to the shutdown timeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
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
