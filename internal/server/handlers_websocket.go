package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/picorelay/internal/command"
	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/pscheid92/picorelay/internal/metrics"
	"github.com/pscheid92/picorelay/internal/platform/correlation"
)

const maxFrameSize = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard may be served from anywhere
	},
}

// inboundFrame is a viewer command: {"event": "<command>", "data": <payload>}.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		metrics.WebSocketConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.Warn("WebSocket connection rejected", "ip", ip, "reason", reason)
		return echo.NewHTTPError(http.StatusTooManyRequests, "connection limit reached")
	}
	defer s.limits.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues("upgrade_failed").Inc()
		slog.Warn("WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}
	conn.SetReadLimit(maxFrameSize)

	// Register closes the connection itself when it refuses it
	if err := s.hub.Register(conn); err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		slog.Warn("Viewer registration failed", "ip", ip, "error", err)
		return nil
	}
	metrics.WebSocketConnectionsTotal.WithLabelValues("accepted").Inc()
	slog.Info("Viewer connected", "ip", ip)

	s.readCommands(conn)

	s.hub.Unregister(conn)
	slog.Info("Viewer disconnected", "ip", ip)
	return nil
}

// readCommands blocks until the viewer goes away. Commands are dispatched
// concurrently; a reply for a viewer that already left is dropped.
func (s *Server) readCommands(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Event == "" {
			s.reply(s.commandCtx, conn, commandError("malformed command frame"))
			continue
		}

		req, err := command.DecodeRequest(frame.Event, frame.Data)
		if err != nil {
			s.reply(s.commandCtx, conn, commandError(err.Error()))
			continue
		}

		ctx := correlation.WithID(s.commandCtx, correlation.NewID())
		go func() {
			out := s.commands.Dispatch(ctx, req)
			s.reply(ctx, conn, out.Event)
		}()
	}
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, event domain.Event) {
	if err := s.hub.Send(conn, event); err != nil {
		slog.DebugContext(ctx, "Reply dropped", "event", event.Name, "error", err)
	}
}

func commandError(msg string) domain.Event {
	return domain.Event{Name: domain.EventCommandError, Data: map[string]string{"error": msg}}
}
