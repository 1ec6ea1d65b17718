package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MQTT Transport Metrics
var (
	// MQTTMessagesTotal tracks inbound messages by channel
	MQTTMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_messages_received_total",
			Help: "Total inbound MQTT messages by channel (unknown for unmapped topics)",
		},
		[]string{"channel"},
	)

	// MQTTConnectionState tracks whether the broker connection is up (1) or down (0)
	MQTTConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqtt_connection_state",
			Help: "1 if connected to the MQTT broker, 0 otherwise",
		},
	)

	// MQTTReconnectsTotal tracks reconnection attempts after a lost connection
	MQTTReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mqtt_reconnects_total",
			Help: "Total MQTT reconnection attempts",
		},
	)

	// MQTTSubscriptionErrorsTotal tracks failed topic subscriptions
	MQTTSubscriptionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_subscription_errors_total",
			Help: "Total failed MQTT subscriptions by topic",
		},
		[]string{"topic"},
	)

	// MQTTPublishTotal tracks outbound publishes by topic and status
	MQTTPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_publish_total",
			Help: "Total outbound MQTT publishes by topic and status (success/error/rejected)",
		},
		[]string{"topic", "status"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Store Metrics
var (
	// StoreWritesTotal tracks latest-value store writes by channel
	StoreWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_writes_total",
			Help: "Total latest-value store writes by channel",
		},
		[]string{"channel"},
	)
)

// Broadcaster Metrics
var (
	// BroadcasterConnectedClients tracks number of connected viewers
	BroadcasterConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_connected_clients",
			Help: "Number of connected push-channel viewers",
		},
	)

	// BroadcasterTickDuration tracks time spent fanning out one tick
	BroadcasterTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcaster_tick_duration_seconds",
			Help:    "Time spent fanning out one broadcast tick",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)

	// BroadcasterEventsTotal tracks events queued to viewers
	BroadcasterEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_events_total",
			Help: "Total events queued to viewers by kind (tick/snapshot/reply)",
		},
		[]string{"kind"},
	)

	// BroadcasterSlowClientsEvicted tracks number of slow clients evicted
	BroadcasterSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_slow_clients_evicted_total",
			Help: "Total number of slow viewers evicted due to buffer full",
		},
	)

	// BroadcasterPanicsTotal tracks broadcaster panic recoveries
	BroadcasterPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_panics_total",
			Help: "Total broadcaster panic recoveries",
		},
	)

	// BroadcasterStopTimeoutsTotal tracks broadcaster stops that exceeded timeout
	BroadcasterStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_stop_timeouts_total",
			Help: "Broadcaster stops that exceeded timeout",
		},
	)

	// BroadcasterCommandChannelDepth tracks pending actor commands
	BroadcasterCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_command_channel_depth",
			Help: "Pending commands in the broadcaster actor channel",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketConnectionsTotal tracks total WebSocket connection attempts by result
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by result (success/error/rejected)",
		},
		[]string{"result"},
	)

	// WebSocketConnectionsRejected tracks rejected connection attempts by reason
	WebSocketConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "Total WebSocket connections rejected by reason (rate_limit/per_ip_limit/global_limit)",
		},
		[]string{"reason"},
	)

	// WebSocketMessageSendDuration tracks WebSocket message send duration
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// WebSocketPingFailures tracks WebSocket ping failures
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total WebSocket ping failures (client not responding)",
		},
	)

	// WebSocketWriteFailures tracks viewers dropped after a failed write
	WebSocketWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_write_failures_total",
			Help: "Total viewer sockets closed after a failed write by operation (event/ping)",
		},
		[]string{"op"},
	)
)

// Command Metrics
var (
	// CommandsTotal tracks resolved commands by kind and result
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Total commands by kind and result (success/failure/rejected)",
		},
		[]string{"kind", "result"},
	)

	// CommandDuration tracks time from receipt to resolution
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Command duration from receipt to resolution in seconds",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	// CommandsInFlight tracks commands currently dispatching
	CommandsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "commands_in_flight",
			Help: "Commands currently being dispatched by kind",
		},
		[]string{"kind"},
	)
)

// Worker Process Metrics
var (
	// WorkerRunsTotal tracks external worker runs by worker and result
	WorkerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Total external worker runs by worker and result (success/exit_error/launch_error/canceled)",
		},
		[]string{"worker", "result"},
	)

	// WorkerRunDuration tracks external worker wall time
	WorkerRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_run_duration_seconds",
			Help:    "External worker wall time in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"worker"},
	)
)
