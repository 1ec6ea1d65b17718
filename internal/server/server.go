package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/picorelay/internal/command"
	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/pscheid92/picorelay/internal/platform/config"
)

// viewerHub is the broadcaster as seen by the websocket route.
type viewerHub interface {
	Register(conn *websocket.Conn) error
	Unregister(conn *websocket.Conn)
	Send(conn *websocket.Conn, event domain.Event) error
	ClientCount() int
}

type dispatcher interface {
	Dispatch(ctx context.Context, req command.Request) command.Outcome
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	hub      viewerHub
	commands dispatcher
	limits   *ConnectionLimits

	healthChecks []HealthCheck
	startTime    time.Time

	// commands started from a viewer outlive the request that carried them
	// and are only cut short by Shutdown
	commandCtx    context.Context
	cancelCommand context.CancelFunc
}

func NewServer(cfg *config.Config, hub viewerHub, commands dispatcher, clock clockwork.Clock, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	commandCtx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		echo:          e,
		config:        cfg,
		clock:         clock,
		hub:           hub,
		commands:      commands,
		limits:        NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst, clock),
		healthChecks:  healthChecks,
		startTime:     clock.Now(),
		commandCtx:    commandCtx,
		cancelCommand: cancel,
	}

	srv.registerRoutes()

	return srv
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	slog.Info("Starting server", "addr", l.Addr().String())
	s.echo.Listener = l
	if err := s.echo.Start(""); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight HTTP handlers and
// then cancels commands still running for push-channel viewers.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cancelCommand()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
