// Package api provides the hub's HTTP REST facade and WebSocket event feed.
//
// It exposes fleet registry reads, theme pushes, command dispatch, and a
// WebSocket stream of registry change events to operator UIs.
//
// The server follows the same lifecycle pattern as the other infrastructure
// components:
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

	"github.com/infinity-portal/fleet-core/internal/fleet"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/config"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Dispatcher pushes themes and commands to devices over the broker.
// *gateway.Dispatcher satisfies it.
type Dispatcher interface {
	PushTheme(deviceID, theme string) bool
	BroadcastTheme(theme string) int
	SendCommand(deviceID, action string, params map[string]any) bool
}

// BusInfo reports broker-side gateway statistics for the info endpoint.
// *gateway.Gateway satisfies it.
type BusInfo interface {
	MessageCount() uint64
	Connected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Registry   *fleet.Registry
	Dispatcher Dispatcher
	Bus        BusInfo
	Version    string
}

// Server is the hub's HTTP API server.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	registry   *fleet.Registry
	dispatcher Dispatcher
	bus        BusInfo
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc
}

// New creates an API server. The server does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("fleet registry is required")
	}
	// Dispatcher and Bus are optional; without them theme pushes and the
	// info endpoint degrade but reads and the WebSocket feed still work.

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		bus:        deps.Bus,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, wires registry change events into it, and
// launches the HTTP listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.logger)
	go s.hub.Run(srvCtx)

	// Every registry mutation fans out to connected WebSocket clients.
	s.registry.SetOnChange(func(event fleet.Event) {
		s.hub.Broadcast(event)
	})

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

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
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
