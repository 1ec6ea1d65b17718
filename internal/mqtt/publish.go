package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/pscheid92/picorelay/internal/metrics"
	"github.com/sony/gobreaker"
)

const (
	breakerName             = "mqtt_publish"
	breakerFailureThreshold = 5
	breakerOpenDuration     = 30 * time.Second
	breakerCountInterval    = 60 * time.Second
)

func newPublishBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    breakerCountInterval,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		// A requester giving up is not a broker failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// Publish sends payload on topic over the shared session (QoS from Options,
// not retained) and waits for the broker acknowledgement or ctx.
// Concurrent publishes are independent; each has its own token.
func (s *Subscriber) Publish(ctx context.Context, topic, payload string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		if !s.client.IsConnectionOpen() {
			return nil, domain.ErrNotConnected
		}

		token := s.client.Publish(topic, s.opts.QoS, false, payload)
		select {
		case <-token.Done():
			return nil, token.Error()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "rejected"
		}
		metrics.MQTTPublishTotal.WithLabelValues(topic, status).Inc()
		return &PublishError{Topic: topic, Err: err}
	}

	metrics.MQTTPublishTotal.WithLabelValues(topic, "success").Inc()
	return nil
}

// BreakerState exposes the publish circuit state for readiness checks.
func (s *Subscriber) BreakerState() gobreaker.State {
	return s.breaker.State()
}
