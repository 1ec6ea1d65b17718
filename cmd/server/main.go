package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/picorelay/internal/broadcast"
	"github.com/pscheid92/picorelay/internal/command"
	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/pscheid92/picorelay/internal/mqtt"
	"github.com/pscheid92/picorelay/internal/platform/channels"
	"github.com/pscheid92/picorelay/internal/platform/config"
	"github.com/pscheid92/picorelay/internal/platform/logging"
	"github.com/pscheid92/picorelay/internal/platform/version"
	"github.com/pscheid92/picorelay/internal/server"
	"github.com/pscheid92/picorelay/internal/store"
	"github.com/pscheid92/picorelay/internal/worker"
	"github.com/sony/gobreaker"
)

const (
	mqttQoS         = 1
	shutdownTimeout = 10 * time.Second
)

var errPublishCircuitOpen = errors.New("publish circuit open")

type app struct {
	server      *server.Server
	broadcaster *broadcast.Broadcaster
	subscriber  *mqtt.Subscriber
	readings    *store.Store
}

// newApp wires every component. A broker that cannot be reached is not an
// error: the subscriber keeps connecting in the background and readiness
// reports it until it is up.
func newApp(cfg *config.Config, clock clockwork.Clock) (*app, error) {
	table, err := channels.Load(cfg.ChannelsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel table: %w", err)
	}
	readings := store.New(table.Channels())

	sub := connectSubscriber(cfg, table, readings)

	// the broadcaster only ever sees the read-only view
	var source domain.ReadingSource = readings
	broadcaster := broadcast.NewBroadcaster(source, table, clock, cfg.MaxWebSocketConnections, cfg.BroadcastInterval)

	runner := worker.NewRunner(cfg.WorkerTimeout)
	orchestrator := command.NewOrchestrator(command.Config{
		DisplayTopic:   cfg.DisplayTopic,
		OLEDTopic:      cfg.OLEDTopic,
		PublishTimeout: cfg.PublishTimeout,
		PythonBin:      cfg.PythonBin,
		CaptureScript:  cfg.CaptureScript,
		AnalyzeScript:  cfg.AnalyzeScript,
		WorkerDir:      cfg.WorkerDir,
		AudioURLPath:   cfg.AudioURLPath,
	}, sub, runner, clock)

	checks := []server.HealthCheck{
		{Name: "mqtt", Check: func(context.Context) error {
			if !sub.Connected() {
				return domain.ErrNotConnected
			}
			return nil
		}},
		{Name: "mqtt_publish", Check: func(context.Context) error {
			if sub.BreakerState() == gobreaker.StateOpen {
				return errPublishCircuitOpen
			}
			return nil
		}},
	}
	srv := server.NewServer(cfg, broadcaster, orchestrator, clock, checks)

	return &app{
		server:      srv,
		broadcaster: broadcaster,
		subscriber:  sub,
		readings:    readings,
	}, nil
}

func connectSubscriber(cfg *config.Config, table channels.Table, sink mqtt.Sink) *mqtt.Subscriber {
	sub := mqtt.NewSubscriber(mqtt.Options{
		BrokerURL:            cfg.MQTTURL,
		ClientID:             cfg.MQTTClientID,
		Username:             cfg.MQTTUser,
		Password:             cfg.MQTTPass,
		TLSInsecure:          cfg.MQTTTLSInsecure,
		ConnectTimeout:       cfg.MQTTConnectTimeout,
		MaxReconnectInterval: cfg.MQTTReconnectInterval,
		SubscribeAttempts:    cfg.MQTTSubscribeAttempts,
		QoS:                  mqttQoS,
	}, table, sink)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.MQTTStartupWait)
	defer cancel()
	if err := sub.Connect(ctx); err != nil {
		slog.Warn("Broker not reachable yet, serving without it", "error", err)
	}
	return sub
}

func (a *app) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	a.broadcaster.Stop()
	a.subscriber.Close()
}

func runGracefulShutdown(a *app) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")
		a.stop()
		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	a, err := newApp(cfg, clock)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		slog.Error("Failed to listen", "port", cfg.Port, "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(a)

	if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
