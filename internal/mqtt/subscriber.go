package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/pscheid92/picorelay/internal/metrics"
	"github.com/pscheid92/picorelay/internal/platform/channels"
	"github.com/pscheid92/picorelay/internal/platform/logging"
	"github.com/pscheid92/picorelay/internal/platform/retry"
	"github.com/sony/gobreaker"
)

const (
	subscribeTimeout    = 5 * time.Second
	disconnectQuiesce   = 250 // milliseconds
	subscribeBackoff    = 1 * time.Second
	maxSubscribeBackoff = 5 * time.Second
)

var errNoSuback = errors.New("no SUBACK")

// Sink receives inbound readings. Only the subscriber holds one.
type Sink interface {
	Set(channel domain.Channel, value string) error
}

// Options configures the broker session.
type Options struct {
	BrokerURL            string
	ClientID             string
	Username             string
	Password             string
	TLSInsecure          bool
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	SubscribeAttempts    int
	QoS                  byte
}

type clientFactory func(*paho.ClientOptions) paho.Client

// Subscriber owns the broker session.
type Subscriber struct {
	opts      Options
	table     channels.Table
	sink      Sink
	client    paho.Client
	breaker   *gobreaker.CircuitBreaker
	connected atomic.Bool

	subscribeBackoff time.Duration
	subackTimeout    time.Duration
}

var _ domain.Publisher = (*Subscriber)(nil)

// NewSubscriber creates a subscriber writing into sink. Nothing touches the
// network until Connect.
func NewSubscriber(opts Options, table channels.Table, sink Sink) *Subscriber {
	return newSubscriber(opts, table, sink, paho.NewClient)
}

func newSubscriber(opts Options, table channels.Table, sink Sink, factory clientFactory) *Subscriber {
	s := &Subscriber{
		opts:    opts,
		table:   table,
		sink:    sink,
		breaker: newPublishBreaker(),

		subscribeBackoff: subscribeBackoff,
		subackTimeout:    subscribeTimeout,
	}
	s.client = factory(s.clientOptions())
	return s
}

func (s *Subscriber) clientOptions() *paho.ClientOptions {
	o := paho.NewClientOptions().
		AddBroker(s.opts.BrokerURL).
		SetClientID(s.opts.ClientID).
		SetUsername(s.opts.Username).
		SetPassword(s.opts.Password).
		SetCleanSession(true).
		SetConnectTimeout(s.opts.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(s.opts.MaxReconnectInterval).
		SetConnectRetry(true).
		SetConnectRetryInterval(s.opts.MaxReconnectInterval).
		SetOrderMatters(false).
		SetTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.opts.TLSInsecure, //nolint:gosec // opt-in for self-signed brokers
		}).
		SetDefaultPublishHandler(s.onMessage).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(s.onReconnecting)
	return o
}

// Connect starts the broker session and waits for it until ctx ends. The
// client keeps trying in the background until it connects or Close is
// called, so an error here only means the broker is not there yet.
func (s *Subscriber) Connect(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return &ConnectionError{Broker: s.opts.BrokerURL, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &ConnectionError{Broker: s.opts.BrokerURL, Err: ctx.Err()}
	}
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	s.client.Disconnect(disconnectQuiesce)
	s.setConnected(false)
	slog.Info("MQTT disconnected")
}

// Connected reports whether the broker session is currently up.
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

func (s *Subscriber) setConnected(up bool) {
	s.connected.Store(up)
	if up {
		metrics.MQTTConnectionState.Set(1)
	} else {
		metrics.MQTTConnectionState.Set(0)
	}
}

// onConnect runs on every successful (re)connect. A clean session drops
// subscriptions, so each topic is subscribed again. One failing topic does
// not stop the others.
func (s *Subscriber) onConnect(c paho.Client) {
	s.setConnected(true)
	slog.Info("MQTT connected", "broker", s.opts.BrokerURL, "client_id", s.opts.ClientID)

	for _, topic := range s.table.Topics() {
		if err := s.subscribe(c, topic); err != nil {
			metrics.MQTTSubscriptionErrorsTotal.WithLabelValues(topic).Inc()
			slog.Error("MQTT subscription failed", "topic", topic, "error", err)
			continue
		}
		slog.Info("MQTT subscribed", "topic", topic)
	}
}

// subscribe retries a topic whose SUBACK did not arrive in time. A broker
// refusal is not retried.
func (s *Subscriber) subscribe(c paho.Client, topic string) error {
	attempts := s.opts.SubscribeAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := retry.Policy{
		MaxAttempts:    attempts,
		InitialBackoff: s.subscribeBackoff,
		MaxBackoff:     maxSubscribeBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("MQTT subscription timed out, retrying", "topic", topic, "attempt", attempt, "backoff", backoff)
		},
	}

	err := retry.DoVoid(context.Background(), policy, classifySubscribeError, func() error {
		token := c.Subscribe(topic, s.opts.QoS, s.onMessage)
		if !token.WaitTimeout(s.subackTimeout) {
			return fmt.Errorf("%w within %v", errNoSuback, s.subackTimeout)
		}
		return token.Error()
	})
	if err != nil {
		return &SubscriptionError{Topic: topic, Err: err}
	}
	return nil
}

func classifySubscribeError(err error) retry.Action {
	if errors.Is(err, errNoSuback) {
		return retry.Retry
	}
	return retry.Stop
}

// onMessage writes the payload verbatim into the store. Nothing is rejected.
func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	channel, ok := s.table.ByTopic(msg.Topic())
	if !ok {
		metrics.MQTTMessagesTotal.WithLabelValues("unknown").Inc()
		slog.Debug("MQTT message on unmapped topic", "topic", msg.Topic())
		return
	}

	if err := s.sink.Set(channel, string(msg.Payload())); err != nil {
		metrics.MQTTMessagesTotal.WithLabelValues("unknown").Inc()
		slog.Warn("MQTT reading dropped", "topic", msg.Topic(), "error", err)
		return
	}
	metrics.MQTTMessagesTotal.WithLabelValues(string(channel)).Inc()
	logging.WithChannel(string(channel)).Debug("MQTT reading stored", "topic", msg.Topic(), "bytes", len(msg.Payload()))
}

func (s *Subscriber) onConnectionLost(_ paho.Client, err error) {
	s.setConnected(false)
	slog.Warn("MQTT connection lost", "broker", s.opts.BrokerURL, "error", err)
}

func (s *Subscriber) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	metrics.MQTTReconnectsTotal.Inc()
	slog.Info("MQTT reconnecting", "broker", s.opts.BrokerURL)
}
