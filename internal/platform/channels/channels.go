// Package channels holds the static topic-to-channel table.
//
// The built-in table matches the Pico firmware; CHANNELS_FILE points at a
// YAML file that replaces it wholesale. The table is fixed for the life of
// the process.
package channels

import (
	"errors"
	"fmt"
	"os"

	"github.com/pscheid92/picorelay/internal/domain"
	"gopkg.in/yaml.v3"
)

// Table is the ordered set of channel bindings.
type Table []domain.Binding

type file struct {
	Channels Table `yaml:"channels"`
}

// Default returns the built-in table.
func Default() Table {
	return Table{
		{Channel: domain.ChannelTemperature, Topic: "pico/temperature", Event: "temp"},
		{Channel: domain.ChannelHumidity, Topic: "pico/humidity", Event: "humidity"},
		{Channel: domain.ChannelDistance, Topic: "pico/distance", Event: "ultrasonic"},
		{Channel: domain.ChannelLight, Topic: "pico/light", Event: "light"},
	}
}

// Load reads the table from path, or returns Default when path is empty.
func Load(path string) (Table, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read channels file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse channels file: %w", err)
	}

	if err := f.Channels.validate(); err != nil {
		return nil, fmt.Errorf("invalid channels file %s: %w", path, err)
	}
	return f.Channels, nil
}

func (t Table) validate() error {
	if len(t) == 0 {
		return errors.New("no channels defined")
	}

	channels := make(map[domain.Channel]struct{}, len(t))
	topics := make(map[string]struct{}, len(t))
	events := make(map[string]struct{}, len(t))
	for i, b := range t {
		if b.Channel == "" || b.Topic == "" || b.Event == "" {
			return fmt.Errorf("entry %d: channel, topic and event are required", i)
		}
		if _, dup := channels[b.Channel]; dup {
			return fmt.Errorf("duplicate channel %q", b.Channel)
		}
		if _, dup := topics[b.Topic]; dup {
			return fmt.Errorf("duplicate topic %q", b.Topic)
		}
		if _, dup := events[b.Event]; dup {
			return fmt.Errorf("duplicate event %q", b.Event)
		}
		channels[b.Channel] = struct{}{}
		topics[b.Topic] = struct{}{}
		events[b.Event] = struct{}{}
	}
	return nil
}

// Channels returns the channels in table order.
func (t Table) Channels() []domain.Channel {
	out := make([]domain.Channel, len(t))
	for i, b := range t {
		out[i] = b.Channel
	}
	return out
}

// Topics returns the inbound topics in table order.
func (t Table) Topics() []string {
	out := make([]string, len(t))
	for i, b := range t {
		out[i] = b.Topic
	}
	return out
}

// ByTopic returns the channel bound to topic.
func (t Table) ByTopic(topic string) (domain.Channel, bool) {
	for _, b := range t {
		if b.Topic == topic {
			return b.Channel, true
		}
	}
	return "", false
}

// Event returns the push-channel event name for channel.
func (t Table) Event(channel domain.Channel) (string, bool) {
	for _, b := range t {
		if b.Channel == channel {
			return b.Event, true
		}
	}
	return "", false
}
