// Package store holds the latest-value cache: one slot per known channel,
// last write wins, no history.
//
// Store is the only mutable handle and belongs to the transport subscriber.
// Everything else reads through domain.ReadingSource.
package store

import (
	"fmt"
	"sync"

	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/pscheid92/picorelay/internal/metrics"
)

// Store caches the most recently delivered payload per channel.
type Store struct {
	mu       sync.RWMutex
	order    []domain.Channel
	readings map[domain.Channel]domain.Reading
}

var _ domain.ReadingSource = (*Store)(nil)

// New creates a store with one unset slot per channel. The slice order is
// kept for Snapshot.
func New(channels []domain.Channel) *Store {
	s := &Store{
		order:    make([]domain.Channel, 0, len(channels)),
		readings: make(map[domain.Channel]domain.Reading, len(channels)),
	}
	for _, ch := range channels {
		if _, dup := s.readings[ch]; dup {
			continue
		}
		s.order = append(s.order, ch)
		s.readings[ch] = domain.Reading{}
	}
	return s
}

// Set overwrites the value for channel. A channel outside the table is
// rejected with domain.ErrUnknownChannel; the store never grows.
func (s *Store) Set(channel domain.Channel, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.readings[channel]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownChannel, channel)
	}
	s.readings[channel] = domain.Reading{Value: value, Set: true}
	metrics.StoreWritesTotal.WithLabelValues(string(channel)).Inc()
	return nil
}

// Get returns the current reading, or the zero Reading if the channel is
// unset or unknown.
func (s *Store) Get(channel domain.Channel) domain.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readings[channel]
}

// Snapshot returns every channel in table order, unset ones included.
func (s *Store) Snapshot() []domain.ChannelReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ChannelReading, 0, len(s.order))
	for _, ch := range s.order {
		out = append(out, domain.ChannelReading{Channel: ch, Reading: s.readings[ch]})
	}
	return out
}

